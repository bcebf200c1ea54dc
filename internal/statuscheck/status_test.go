package statuscheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCheckRedis(t *testing.T) {
	c := New(Options{Redis: fakePinger{}})
	if st := c.checkRedis(context.Background()); !st.OK {
		t.Errorf("healthy pinger reported %+v", st)
	}

	c = New(Options{Redis: fakePinger{err: errors.New("connection refused")}})
	st := c.checkRedis(context.Background())
	if st.OK || !strings.Contains(st.Message, "connection refused") {
		t.Errorf("failing pinger reported %+v", st)
	}

	c = New(Options{})
	if st := c.checkRedis(context.Background()); st.OK {
		t.Errorf("nil pinger reported %+v", st)
	}
}

func TestCheckScratch(t *testing.T) {
	c := New(Options{ScratchDir: t.TempDir()})
	if st := c.checkScratch(); !st.OK {
		t.Errorf("writable dir reported %+v", st)
	}

	// A path below an existing file cannot be created.
	blocked := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c = New(Options{ScratchDir: filepath.Join(blocked, "sub")})
	if st := c.checkScratch(); st.OK {
		t.Errorf("unusable dir reported %+v", st)
	}
}

func TestCheckS3Unconfigured(t *testing.T) {
	c := New(Options{})
	st := c.checkS3(context.Background())
	if st.OK || st.Message != "Bucket not configured" {
		t.Errorf("missing bucket reported %+v", st)
	}
}

func TestTrimError(t *testing.T) {
	long := strings.Repeat("x", 200)
	if got := trimError(errors.New(long)); len(got) != 120 {
		t.Errorf("trimmed length = %d, want 120", len(got))
	}
	if got := trimError(nil); got != "" {
		t.Errorf("trimError(nil) = %q", got)
	}
}
