package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"

	"github.com/local/pocketmod/internal/convert"
	"github.com/local/pocketmod/internal/queue"
	"github.com/local/pocketmod/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	cancelled map[string]bool
	idemDone  map[string]bool
	delayed   [][]byte
	delayedAt []time.Time
	dlq       [][]byte
	dlqReason []string
	acked     []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{cancelled: map[string]bool{}, idemDone: map[string]bool{}}
}

func (q *fakeQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error) {
	return "", nil, nil
}

func (q *fakeQueue) Ack(ctx context.Context, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msgID)
	return nil
}

func (q *fakeQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, payload)
	q.delayedAt = append(q.delayedAt, executeAt)
	return nil
}

func (q *fakeQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, payload)
	q.dlqReason = append(q.dlqReason, reason)
	return nil
}

func (q *fakeQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[jobID], nil
}

func (q *fakeQueue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idemDone[key], nil
}

func (q *fakeQueue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idemDone[key] = true
	return nil
}

func (q *fakeQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	return 0, 0, 0, nil
}

type fakeStatus struct {
	mu sync.Mutex
	m  map[string]store.Status
}

func newFakeStatus() *fakeStatus { return &fakeStatus{m: map[string]store.Status{}} }

func (s *fakeStatus) Set(ctx context.Context, jobID string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[jobID] = st
	return nil
}

func (s *fakeStatus) Get(ctx context.Context, jobID string) (store.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[jobID]
	return st, ok, nil
}

type fakeObjects struct {
	mu         sync.Mutex
	source     []byte
	downloads  []string
	uploads    map[string][]byte
	uploadCT   map[string]string
	uploadMeta map[string]map[string]string
}

func (o *fakeObjects) Download(ctx context.Context, ref, destPath string) error {
	o.mu.Lock()
	o.downloads = append(o.downloads, ref)
	o.mu.Unlock()
	return os.WriteFile(destPath, o.source, 0o644)
}

func (o *fakeObjects) Upload(ctx context.Context, key, srcPath, contentType string, meta map[string]string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uploads == nil {
		o.uploads = map[string][]byte{}
		o.uploadCT = map[string]string{}
		o.uploadMeta = map[string]map[string]string{}
	}
	o.uploads[key] = data
	o.uploadCT[key] = contentType
	o.uploadMeta[key] = meta
	return "s3://test-bucket/" + key, nil
}

type fakeConverter struct {
	err    error
	called bool
}

func (c *fakeConverter) Convert(ctx context.Context, inputPath, outputPath string) (*convert.Result, error) {
	c.called = true
	if c.err != nil {
		return nil, c.err
	}
	if err := os.WriteFile(outputPath, []byte("%PDF-1.7 stub"), 0o644); err != nil {
		return nil, err
	}
	return &convert.Result{InputPath: inputPath, OutputPath: outputPath, PageCount: 8, SheetCount: 1}, nil
}

func writeJobPDF(t *testing.T, path string, pages int) {
	t.Helper()
	paper := &pdf.Rectangle{URx: 595.2756, URy: 841.8898}
	doc, err := document.CreateMultiPage(path, paper, pdf.V1_7, nil)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	for i := 0; i < pages; i++ {
		page := doc.AddPage()
		page.Rectangle(50, 50, 495, 741)
		page.Stroke()
		if err := page.Close(); err != nil {
			t.Fatalf("close page %d: %v", i, err)
		}
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("close source: %v", err)
	}
}

func TestHandleLocalFileJob(t *testing.T) {
	scratch := t.TempDir()
	results := t.TempDir()
	src := filepath.Join(t.TempDir(), "notes.pdf")
	writeJobPDF(t, src, 10)

	q := newFakeQueue()
	st := newFakeStatus()
	w := New(Config{ScratchDir: scratch, ResultDir: results}, q, st, nil, convert.New(convert.Options{}))

	job := queue.ConvertJob{
		JobID:          "job-1",
		SourceRef:      "file://" + src,
		OutputKey:      "notes_pocketmod.pdf",
		IdempotencyKey: "doc:abc",
		Attempt:        1,
	}
	payload, _ := json.Marshal(job)
	w.handle(context.Background(), "msg-1", payload)

	status, ok, _ := st.Get(context.Background(), "job-1")
	if !ok || status.Status != store.StateSuccess {
		t.Fatalf("status = %+v, want success", status)
	}
	if status.Metadata["sheets"] != 2 {
		t.Errorf("sheets metadata = %v, want 2", status.Metadata["sheets"])
	}
	out := filepath.Join(results, "notes_pocketmod.pdf")
	if _, err := os.Stat(out); err != nil {
		t.Errorf("result file missing: %v", err)
	}
	if ref, _ := status.Metadata["output_ref"].(string); ref != "file://"+out {
		t.Errorf("output_ref = %q, want %q", ref, "file://"+out)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("file:// source must stay in place: %v", err)
	}
	if !q.idemDone["doc:abc"] {
		t.Error("idempotency key not marked done")
	}
	if len(q.acked) != 1 || q.acked[0] != "msg-1" {
		t.Errorf("acked = %v, want [msg-1]", q.acked)
	}
	if len(q.dlq) != 0 || len(q.delayed) != 0 {
		t.Errorf("unexpected dlq/delayed entries: %d/%d", len(q.dlq), len(q.delayed))
	}
}

func TestHandleS3Job(t *testing.T) {
	scratch := t.TempDir()
	seed := filepath.Join(t.TempDir(), "seed.pdf")
	writeJobPDF(t, seed, 8)
	data, err := os.ReadFile(seed)
	if err != nil {
		t.Fatal(err)
	}

	objects := &fakeObjects{source: data}
	q := newFakeQueue()
	st := newFakeStatus()
	w := New(Config{ScratchDir: scratch}, q, st, objects, convert.New(convert.Options{}))

	job := queue.ConvertJob{
		JobID:     "job-s3",
		SourceRef: "s3://docs/in/notes.pdf",
		OutputKey: "out/notes_pocketmod.pdf",
		Attempt:   1,
	}
	payload, _ := json.Marshal(job)
	w.handle(context.Background(), "m1", payload)

	status, _, _ := st.Get(context.Background(), "job-s3")
	if status.Status != store.StateSuccess {
		t.Fatalf("status = %+v, want success", status)
	}
	if len(objects.downloads) != 1 || objects.downloads[0] != "s3://docs/in/notes.pdf" {
		t.Errorf("downloads = %v", objects.downloads)
	}
	if _, ok := objects.uploads["out/notes_pocketmod.pdf"]; !ok {
		t.Fatalf("booklet not uploaded, uploads = %v", objects.uploads)
	}
	if ct := objects.uploadCT["out/notes_pocketmod.pdf"]; ct != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", ct)
	}
	if meta := objects.uploadMeta["out/notes_pocketmod.pdf"]; meta["sheets"] != "1" {
		t.Errorf("upload metadata = %v, want sheets=1", meta)
	}
	if got := status.Metadata["output_ref"]; got != "s3://test-bucket/out/notes_pocketmod.pdf" {
		t.Errorf("output_ref = %v", got)
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Errorf("scratch not cleaned after delivery: %v", entries)
	}
}

func TestHandleFatalError(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	conv := &fakeConverter{err: &convert.DocumentOpenError{Path: "x.pdf", Err: errors.New("damaged")}}
	w := New(Config{ScratchDir: t.TempDir()}, q, st, nil, conv)

	payload, _ := json.Marshal(queue.ConvertJob{JobID: "job-bad", SourceRef: "file:///tmp/x.pdf", Attempt: 1})
	w.handle(context.Background(), "m1", payload)

	if len(q.dlq) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(q.dlq))
	}
	if len(q.delayed) != 0 {
		t.Error("fatal error must not be retried")
	}
	status, _, _ := st.Get(context.Background(), "job-bad")
	if status.Status != store.StateFailed {
		t.Errorf("status = %q, want failed", status.Status)
	}
}

func TestHandleTransientRetry(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	conv := &fakeConverter{err: errors.New("dial tcp: connection refused")}
	w := New(Config{ScratchDir: t.TempDir(), MaxAttempts: 3, RetryBaseDelay: time.Second}, q, st, nil, conv)

	payload, _ := json.Marshal(queue.ConvertJob{JobID: "job-retry", SourceRef: "file:///tmp/y.pdf", Attempt: 1})
	w.handle(context.Background(), "m1", payload)

	if len(q.delayed) != 1 {
		t.Fatalf("delayed entries = %d, want 1", len(q.delayed))
	}
	var retried queue.ConvertJob
	if err := json.Unmarshal(q.delayed[0], &retried); err != nil {
		t.Fatal(err)
	}
	if retried.Attempt != 2 {
		t.Errorf("retry attempt = %d, want 2", retried.Attempt)
	}
	if !q.delayedAt[0].After(time.Now()) {
		t.Error("retry must be scheduled in the future")
	}
	if len(q.dlq) != 0 {
		t.Error("transient error must not hit the DLQ before the budget runs out")
	}
	status, _, _ := st.Get(context.Background(), "job-retry")
	if status.Status != store.StateProcessing {
		t.Errorf("status = %q, want processing while retry is pending", status.Status)
	}
}

func TestHandleTransientExhausted(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	conv := &fakeConverter{err: errors.New("dial tcp: connection refused")}
	w := New(Config{ScratchDir: t.TempDir(), MaxAttempts: 3}, q, st, nil, conv)

	payload, _ := json.Marshal(queue.ConvertJob{JobID: "job-worn", SourceRef: "file:///tmp/y.pdf", Attempt: 3})
	w.handle(context.Background(), "m1", payload)

	if len(q.delayed) != 0 {
		t.Error("exhausted job must not be rescheduled")
	}
	if len(q.dlq) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(q.dlq))
	}
	status, _, _ := st.Get(context.Background(), "job-worn")
	if status.Status != store.StateFailed {
		t.Errorf("status = %q, want failed", status.Status)
	}
}

func TestHandleCancelledBeforeStart(t *testing.T) {
	q := newFakeQueue()
	q.cancelled["job-c"] = true
	st := newFakeStatus()
	conv := &fakeConverter{}
	w := New(Config{ScratchDir: t.TempDir()}, q, st, nil, conv)

	payload, _ := json.Marshal(queue.ConvertJob{JobID: "job-c", SourceRef: "file:///tmp/z.pdf", Attempt: 1})
	w.handle(context.Background(), "m1", payload)

	if conv.called {
		t.Error("converter must not run for a cancelled job")
	}
	if len(q.dlq) != 0 || len(q.delayed) != 0 {
		t.Error("cancelled job must not be routed anywhere")
	}
	if len(q.acked) != 1 {
		t.Error("cancelled message must still be acked")
	}
}

func TestHandleDuplicateJob(t *testing.T) {
	q := newFakeQueue()
	q.idemDone["doc:dup"] = true
	st := newFakeStatus()
	conv := &fakeConverter{}
	w := New(Config{ScratchDir: t.TempDir()}, q, st, nil, conv)

	payload, _ := json.Marshal(queue.ConvertJob{JobID: "job-d", SourceRef: "file:///tmp/z.pdf", IdempotencyKey: "doc:dup", Attempt: 1})
	w.handle(context.Background(), "m1", payload)

	if conv.called {
		t.Error("converter must not run twice for the same document")
	}
	if _, ok, _ := st.Get(context.Background(), "job-d"); ok {
		t.Error("duplicate job must not overwrite status")
	}
}

func TestHandleUnreadablePayload(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	w := New(Config{ScratchDir: t.TempDir()}, q, st, nil, &fakeConverter{})

	w.handle(context.Background(), "m1", []byte("{not json"))

	if len(q.dlq) != 1 || q.dlqReason[0] != "unreadable payload" {
		t.Fatalf("dlq = %d entries, reasons %v", len(q.dlq), q.dlqReason)
	}
	if len(q.acked) != 1 {
		t.Error("unreadable message must still be acked")
	}
}

func TestBackoff(t *testing.T) {
	w := New(Config{RetryBaseDelay: 2 * time.Second, RetryBackoffFactor: 2}, newFakeQueue(), newFakeStatus(), nil, &fakeConverter{})
	for _, tc := range []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	} {
		if got := w.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}

	w.cfg.RetryJitter = 500 * time.Millisecond
	for i := 0; i < 20; i++ {
		if d := w.backoff(1); d < 2*time.Second || d >= 2*time.Second+500*time.Millisecond {
			t.Fatalf("jittered backoff %v out of range", d)
		}
	}
}

func TestCleanupScratch(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "pocketmod-old-src.pdf")
	fresh := filepath.Join(dir, "pocketmod-new-out.pdf")
	other := filepath.Join(dir, "keepme.pdf")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	CleanupScratch(dir, time.Hour)

	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale scratch file should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh scratch file should survive")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("foreign file should survive")
	}
}
