// Package worker consumes conversion jobs from the queue: fetch the
// source document, convert it, deliver the booklet, record status.
// Deterministic failures go to the DLQ; environment failures retry with
// backoff until the attempt budget runs out.
package worker

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "math/rand"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/pocketmod/internal/convert"
    "github.com/local/pocketmod/internal/metrics"
    "github.com/local/pocketmod/internal/preview"
    "github.com/local/pocketmod/internal/queue"
    "github.com/local/pocketmod/internal/store"
)

// Queue is the stream surface the workers consume.
type Queue interface {
    Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
    Ack(ctx context.Context, msgID string) error
    EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
    AddDLQ(ctx context.Context, payload []byte, reason string) error
    IsCancelled(ctx context.Context, jobID string) (bool, error)
    IsIdemDone(ctx context.Context, key string) (bool, error)
    MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
    Depths(ctx context.Context) (int64, int64, int64, error)
}

// StatusStore records job progress.
type StatusStore interface {
    Set(ctx context.Context, jobID string, st store.Status) error
    Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

// ObjectStore moves documents between S3 and the scratch dir. Nil when no
// bucket is configured; file:// jobs still work without one.
type ObjectStore interface {
    Download(ctx context.Context, ref, destPath string) error
    Upload(ctx context.Context, key, srcPath, contentType string, meta map[string]string) (string, error)
}

type documentConverter interface {
    Convert(ctx context.Context, inputPath, outputPath string) (*convert.Result, error)
}

type Config struct {
    Concurrency        int
    JobTimeout         time.Duration
    MaxAttempts        int
    RetryBaseDelay     time.Duration
    RetryJitter        time.Duration
    RetryBackoffFactor float64
    ScratchDir         string
    ResultDir          string
    PreviewDPI         int
    PreviewQuality     int
}

type Worker struct {
    cfg     Config
    q       Queue
    status  StatusStore
    objects ObjectStore
    conv    documentConverter
    stop    chan struct{}
    wg      sync.WaitGroup
}

func New(cfg Config, q Queue, status StatusStore, objects ObjectStore, conv documentConverter) *Worker {
    if cfg.Concurrency <= 0 { cfg.Concurrency = 2 }
    if cfg.MaxAttempts <= 0 { cfg.MaxAttempts = 3 }
    if cfg.RetryBaseDelay <= 0 { cfg.RetryBaseDelay = 2 * time.Second }
    if cfg.RetryBackoffFactor < 1 { cfg.RetryBackoffFactor = 2 }
    if cfg.ScratchDir == "" { cfg.ScratchDir = os.TempDir() }
    if cfg.ResultDir == "" { cfg.ResultDir = filepath.Join("uploads", "results") }
    return &Worker{cfg: cfg, q: q, status: status, objects: objects, conv: conv, stop: make(chan struct{})}
}

// Start launches the consumer goroutines and the queue depth sampler.
func (w *Worker) Start() {
    for i := 0; i < w.cfg.Concurrency; i++ {
        w.wg.Add(1)
        go w.loop(i)
    }
    w.wg.Add(1)
    go w.watchDepths()
}

// Stop signals the consumers and waits for in-flight jobs until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
    close(w.stop)
    done := make(chan struct{})
    go func() { w.wg.Wait(); close(done) }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (w *Worker) loop(id int) {
    defer w.wg.Done()
    consumer := fmt.Sprintf("pocketmod-%d", id)
    log.Info().Int("worker", id).Msg("conversion worker started")
    for {
        select {
        case <-w.stop:
            log.Info().Int("worker", id).Msg("conversion worker stopped")
            return
        default:
        }

        msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
        if err != nil {
            log.Error().Err(err).Msg("queue dequeue error")
            time.Sleep(500 * time.Millisecond)
            continue
        }
        if data == nil { continue }
        w.handle(context.Background(), msgID, data)
    }
}

// handle runs one queued job end to end. The message is acked whatever the
// outcome; retries travel as fresh delayed messages.
func (w *Worker) handle(ctx context.Context, msgID string, data []byte) {
    defer w.ack(ctx, msgID)

    var job queue.ConvertJob
    if err := json.Unmarshal(data, &job); err != nil || job.JobID == "" || job.SourceRef == "" {
        log.Error().Err(err).Str("payload", string(data)).Msg("dropping unreadable job payload")
        _ = w.q.AddDLQ(ctx, data, "unreadable payload")
        metrics.IncJob("dlq")
        return
    }

    if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
        log.Warn().Str("job_id", job.JobID).Msg("job cancelled before processing; skipping")
        metrics.IncJob("cancelled")
        return
    }
    if job.IdempotencyKey != "" {
        if done, _ := w.q.IsIdemDone(ctx, job.IdempotencyKey); done {
            log.Info().Str("job_id", job.JobID).Str("idempotency_key", job.IdempotencyKey).Msg("duplicate job; already converted")
            metrics.IncJob("duplicate")
            return
        }
    }

    w.setProcessing(ctx, job)

    res, outPath, err := w.runJob(ctx, job)
    if err != nil {
        w.finishError(ctx, job, err)
        return
    }
    outputRef, err := w.storeResult(ctx, job, outPath, res)
    if err != nil {
        w.finishError(ctx, job, err)
        return
    }
    w.finishSuccess(ctx, job, res, outputRef)
}

// runJob converts the job's source into a scratch file. A watcher cancels
// the conversion when the job is cancelled through the API mid-flight.
func (w *Worker) runJob(parent context.Context, job queue.ConvertJob) (*convert.Result, string, error) {
    ctx := parent
    if w.cfg.JobTimeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(parent, w.cfg.JobTimeout)
        defer cancel()
    }
    ctx, cancelJob := context.WithCancel(ctx)
    defer cancelJob()
    stopWatch := w.watchCancelled(ctx, job.JobID, cancelJob)
    defer stopWatch()

    srcPath, cleanupSrc, err := w.fetchSource(ctx, job)
    if err != nil {
        return nil, "", fmt.Errorf("fetch source: %w", err)
    }
    defer cleanupSrc()

    outPath := filepath.Join(w.cfg.ScratchDir, "pocketmod-"+job.JobID+"-out.pdf")
    res, err := w.conv.Convert(ctx, srcPath, outPath)
    if err != nil {
        return nil, "", err
    }
    return res, outPath, nil
}

// fetchSource resolves the job's source ref to a local path. s3:// refs
// download into scratch; file:// refs and plain paths are used in place.
func (w *Worker) fetchSource(ctx context.Context, job queue.ConvertJob) (string, func(), error) {
    ref := job.SourceRef
    switch {
    case strings.HasPrefix(ref, "file://"):
        return strings.TrimPrefix(ref, "file://"), func() {}, nil
    case strings.HasPrefix(ref, "s3://"):
        if w.objects == nil {
            return "", nil, fmt.Errorf("no object storage configured for %s", ref)
        }
        dest := filepath.Join(w.cfg.ScratchDir, "pocketmod-"+job.JobID+"-src.pdf")
        if err := w.objects.Download(ctx, ref, dest); err != nil {
            return "", nil, err
        }
        return dest, func() { os.Remove(dest) }, nil
    default:
        return ref, func() {}, nil
    }
}

// watchCancelled polls the cancellation set while a job converts and
// cancels the job context on a hit. The returned func stops the watcher.
func (w *Worker) watchCancelled(ctx context.Context, jobID string, cancel context.CancelFunc) func() {
    done := make(chan struct{})
    go func() {
        ticker := time.NewTicker(2 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-done:
                return
            case <-ctx.Done():
                return
            case <-ticker.C:
                if cancelled, _ := w.q.IsCancelled(ctx, jobID); cancelled {
                    log.Info().Str("job_id", jobID).Msg("job cancelled mid-conversion")
                    cancel()
                    return
                }
            }
        }
    }()
    return func() { close(done) }
}

// storeResult delivers the booklet: S3 output key for object-store jobs,
// the local result dir for uploads and file refs. Previews, when asked
// for, land next to the booklet.
func (w *Worker) storeResult(ctx context.Context, job queue.ConvertJob, outPath string, res *convert.Result) (string, error) {
    var previews []string
    if job.Preview {
        paths, err := preview.RenderSheets(outPath, w.cfg.ScratchDir, w.cfg.PreviewDPI, w.cfg.PreviewQuality)
        if err != nil {
            log.Warn().Err(err).Str("job_id", job.JobID).Msg("preview rendering failed; delivering booklet without previews")
        } else {
            previews = paths
        }
    }

    if strings.HasPrefix(job.SourceRef, "s3://") {
        if w.objects == nil {
            return "", fmt.Errorf("no object storage configured")
        }
        meta := map[string]string{"job_id": job.JobID, "sheets": fmt.Sprintf("%d", res.SheetCount)}
        if job.RequestedBy != "" { meta["requested_by"] = job.RequestedBy }
        ref, err := w.objects.Upload(ctx, job.OutputKey, outPath, "application/pdf", meta)
        if err != nil {
            return "", err
        }
        os.Remove(outPath)
        base := strings.TrimSuffix(job.OutputKey, ".pdf")
        for i, p := range previews {
            key := fmt.Sprintf("%s_sheet%02d.jpg", base, i+1)
            if _, err := w.objects.Upload(ctx, key, p, "image/jpeg", map[string]string{"job_id": job.JobID}); err != nil {
                log.Warn().Err(err).Str("key", key).Msg("preview upload failed")
            }
            os.Remove(p)
        }
        return ref, nil
    }

    if err := os.MkdirAll(w.cfg.ResultDir, 0o755); err != nil {
        return "", err
    }
    name := filepath.Base(job.OutputKey)
    if name == "" || name == "." {
        name = job.JobID + "_pocketmod.pdf"
    }
    dest := filepath.Join(w.cfg.ResultDir, name)
    if err := moveFile(outPath, dest); err != nil {
        return "", err
    }
    base := strings.TrimSuffix(name, ".pdf")
    for i, p := range previews {
        _ = moveFile(p, filepath.Join(w.cfg.ResultDir, fmt.Sprintf("%s_sheet%02d.jpg", base, i+1)))
    }
    return "file://" + dest, nil
}

func (w *Worker) setProcessing(ctx context.Context, job queue.ConvertJob) {
    st, ok, _ := w.status.Get(ctx, job.JobID)
    if !ok { st = store.Status{} }
    if st.Start == nil {
        now := time.Now()
        st.Start = &now
    }
    if st.Metadata == nil { st.Metadata = map[string]interface{}{} }
    st.Status = store.StateProcessing
    st.Progress = 10
    st.Message = fmt.Sprintf("converting (attempt %d)", job.Attempt)
    st.Metadata["source_ref"] = job.SourceRef
    _ = w.status.Set(ctx, job.JobID, st)
}

func (w *Worker) finishSuccess(ctx context.Context, job queue.ConvertJob, res *convert.Result, outputRef string) {
    now := time.Now()
    st, ok, _ := w.status.Get(ctx, job.JobID)
    if !ok { st = store.Status{} }
    if st.Metadata == nil { st.Metadata = map[string]interface{}{} }
    st.Status = store.StateSuccess
    st.Progress = 100
    st.Message = fmt.Sprintf("converted %d pages onto %d sheets", res.PageCount, res.SheetCount)
    st.End = &now
    st.Metadata["pages"] = res.PageCount
    st.Metadata["sheets"] = res.SheetCount
    st.Metadata["output_ref"] = outputRef
    _ = w.status.Set(ctx, job.JobID, st)

    if job.IdempotencyKey != "" {
        _ = w.q.MarkIdemDone(ctx, job.IdempotencyKey, 24*time.Hour)
    }
    metrics.IncJob("success")
    log.Info().Str("job_id", job.JobID).Str("output", outputRef).Int("sheets", res.SheetCount).Dur("took", res.Duration).Msg("job finished")
    CleanupScratch(w.cfg.ScratchDir, time.Hour)
}

// finishError routes a failed job: cancelled jobs are closed quietly,
// transient failures under the attempt budget go back on the delayed
// queue, everything else lands in the DLQ with its reason.
func (w *Worker) finishError(ctx context.Context, job queue.ConvertJob, convErr error) {
    if errors.Is(convErr, context.Canceled) {
        if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
            now := time.Now()
            _ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StateCancelled, Message: "cancelled during conversion", End: &now})
            metrics.IncJob("cancelled")
            return
        }
    }

    if convert.IsTransient(convErr) && job.Attempt < w.cfg.MaxAttempts {
        retry := job
        retry.Attempt++
        delay := w.backoff(job.Attempt)
        data, _ := json.Marshal(retry)
        if err := w.q.EnqueueDelayed(ctx, data, time.Now().Add(delay)); err == nil {
            _ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StateProcessing, Progress: 10,
                Message: fmt.Sprintf("attempt %d failed, retrying: %v", job.Attempt, convErr)})
            log.Warn().Err(convErr).Str("job_id", job.JobID).Int("attempt", job.Attempt).Dur("delay", delay).Msg("transient failure, retrying")
            metrics.IncRetry()
            metrics.IncJob("retried")
            return
        }
        // scheduling the retry failed; fall through to the DLQ
    }

    payload, _ := json.Marshal(job)
    now := time.Now()
    _ = w.q.AddDLQ(ctx, payload, convErr.Error())
    _ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StateFailed, Message: convErr.Error(), End: &now})
    log.Error().Err(convErr).Str("job_id", job.JobID).Int("attempt", job.Attempt).Msg("job failed")
    metrics.IncJob("dlq")
}

// backoff grows the delay exponentially per attempt and adds jitter so
// simultaneous retries spread out.
func (w *Worker) backoff(attempt int) time.Duration {
    d := w.cfg.RetryBaseDelay
    for i := 1; i < attempt; i++ {
        d = time.Duration(float64(d) * w.cfg.RetryBackoffFactor)
    }
    if w.cfg.RetryJitter > 0 {
        d += time.Duration(rand.Int63n(int64(w.cfg.RetryJitter)))
    }
    return d
}

// watchDepths samples stream/delayed/dlq lengths for the metrics gauges.
func (w *Worker) watchDepths() {
    defer w.wg.Done()
    ticker := time.NewTicker(5 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-w.stop:
            return
        case <-ticker.C:
            ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
            stream, delayed, dlq, err := w.q.Depths(ctx)
            cancel()
            if err != nil { continue }
            metrics.SetQueueDepth("stream", stream)
            metrics.SetQueueDepth("delayed", delayed)
            metrics.SetQueueDepth("dlq", dlq)
        }
    }
}

func (w *Worker) ack(ctx context.Context, msgID string) {
    if err := w.q.Ack(ctx, msgID); err != nil {
        log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
    }
}

// moveFile renames src to dst, copying when the rename crosses devices.
func moveFile(src, dst string) error {
    if err := os.Rename(src, dst); err == nil {
        return nil
    }
    data, err := os.ReadFile(src)
    if err != nil {
        return err
    }
    if err := os.WriteFile(dst, data, 0o644); err != nil {
        return err
    }
    return os.Remove(src)
}
