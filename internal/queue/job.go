package queue

import (
    "crypto/sha256"
    "encoding/hex"
)

// ConvertJob is the payload carried on the conversion stream. SourceRef is
// either an s3://bucket/key object or a file://path already on this host.
type ConvertJob struct {
    JobID          string `json:"job_id"`
    SourceRef      string `json:"source_ref"`
    OutputKey      string `json:"output_key"`
    RequestedBy    string `json:"requested_by,omitempty"`
    Source         string `json:"source,omitempty"`
    Preview        bool   `json:"preview,omitempty"`
    IdempotencyKey string `json:"idempotency_key,omitempty"`
    Attempt        int    `json:"attempt"`
}

// IdempotencyKey derives the dedup key for a source/output pair, so the
// same document queued twice for the same destination converts once.
func IdempotencyKey(sourceRef, outputKey string) string {
    sum := sha256.Sum256([]byte(sourceRef + "\x00" + outputKey))
    return "doc:" + hex.EncodeToString(sum[:8])
}
