package queue

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestConvertJobRoundTrip(t *testing.T) {
	job := ConvertJob{
		JobID:          "8d9f0c1e",
		SourceRef:      "s3://docs/reports/q3.pdf",
		OutputKey:      "pocketmod/q3_pocketmod.pdf",
		RequestedBy:    "mila",
		Source:         "api",
		Preview:        true,
		IdempotencyKey: IdempotencyKey("s3://docs/reports/q3.pdf", "pocketmod/q3_pocketmod.pdf"),
		Attempt:        1,
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ConvertJob
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != job {
		t.Errorf("round trip = %+v, want %+v", got, job)
	}

	// Wire names stay snake_case so payloads written by other tools match.
	for _, field := range []string{"job_id", "source_ref", "output_key", "idempotency_key", "attempt"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("payload %s missing field %q", data, field)
		}
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("s3://docs/a.pdf", "out/a.pdf")
	if !strings.HasPrefix(a, "doc:") {
		t.Errorf("key = %q, want doc: prefix", a)
	}
	if b := IdempotencyKey("s3://docs/a.pdf", "out/a.pdf"); b != a {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
	if c := IdempotencyKey("s3://docs/a.pdf", "out/b.pdf"); c == a {
		t.Error("different output keys must not collide")
	}
	if d := IdempotencyKey("s3://docs/b.pdf", "out/a.pdf"); d == a {
		t.Error("different sources must not collide")
	}
}
