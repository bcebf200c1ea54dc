// Package server exposes the HTTP surface of the conversion service:
// job submission, uploads, status, downloads, cancellation, health.
package server

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "os"
    "path"
    "path/filepath"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/local/pocketmod/internal/metrics"
    "github.com/local/pocketmod/internal/queue"
    "github.com/local/pocketmod/internal/statuscheck"
    "github.com/local/pocketmod/internal/store"
)

type Queue interface {
    Enqueue(ctx context.Context, payload []byte) error
    CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
    Set(ctx context.Context, jobID string, st store.Status) error
    Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type Config struct {
    DefaultBucket string // bare source refs resolve against this bucket
    KeyPrefix     string // prefix for derived output keys
    UploadDir     string
}

type Dependencies struct {
    Queue   Queue
    Status  StatusStore
    Checker *statuscheck.Checker
}

type Server struct {
    cfg  Config
    deps Dependencies
}

func New(cfg Config, deps Dependencies) *Server {
    if cfg.UploadDir == "" { cfg.UploadDir = "uploads" }
    return &Server{cfg: cfg, deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", s.handleHealth)
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/convert", s.handleConvert)
    mux.HandleFunc("/convert_upload", s.handleConvertUpload)
    mux.HandleFunc("/jobs/", s.handleJobStatus)
    mux.HandleFunc("/download/", s.handleDownload)
    mux.HandleFunc("/webhook/cancel_job", s.handleCancelJob)
}

type convertReq struct {
    SourceRef   string `json:"source_ref"`
    OutputKey   string `json:"output_key"`
    RequestedBy string `json:"requested_by"`
    Preview     bool   `json:"preview"`
}

type convertResp struct {
    Status  string `json:"status"`
    JobID   string `json:"job_id"`
    Message string `json:"message"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed); return
    }
    defer r.Body.Close()
    var req convertReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid json", http.StatusBadRequest); return
    }
    if req.SourceRef == "" {
        http.Error(w, "missing source_ref", http.StatusBadRequest); return
    }

    // normalize bare object keys against the configured bucket
    sourceRef := req.SourceRef
    if !strings.HasPrefix(sourceRef, "s3://") && !strings.HasPrefix(sourceRef, "file://") {
        if s.cfg.DefaultBucket == "" {
            http.Error(w, "bare source_ref needs a configured bucket", http.StatusBadRequest); return
        }
        sourceRef = fmt.Sprintf("s3://%s/%s", s.cfg.DefaultBucket, strings.TrimPrefix(sourceRef, "/"))
    }
    outputKey := req.OutputKey
    if outputKey == "" { outputKey = s.deriveOutputKey(sourceRef) }

    jobID := uuid.NewString()
    log.Info().Str("job_id", jobID).Str("source", sourceRef).Str("output_key", outputKey).Msg("conversion job created")
    start := time.Now()
    _ = s.deps.Status.Set(r.Context(), jobID, store.Status{Status: store.StateQueued, Progress: 0, Message: "queued", Start: &start,
        Metadata: map[string]interface{}{"source_ref": sourceRef, "output_key": outputKey, "requested_by": req.RequestedBy, "source": "api"}})

    job := queue.ConvertJob{
        JobID:          jobID,
        SourceRef:      sourceRef,
        OutputKey:      outputKey,
        RequestedBy:    req.RequestedBy,
        Source:         "api",
        Preview:        req.Preview,
        IdempotencyKey: queue.IdempotencyKey(sourceRef, outputKey),
        Attempt:        1,
    }
    data, _ := json.Marshal(job)
    if err := s.deps.Queue.Enqueue(r.Context(), data); err != nil {
        log.Error().Err(err).Msg("enqueue failed")
        http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusCreated)
    _ = json.NewEncoder(w).Encode(convertResp{Status: "ok", JobID: jobID, Message: "Conversion job created"})
}

// deriveOutputKey names the booklet after the source document when the
// caller does not pick a key.
func (s *Server) deriveOutputKey(sourceRef string) string {
    base := path.Base(sourceRef)
    stem := strings.TrimSuffix(base, path.Ext(base))
    return path.Join(s.cfg.KeyPrefix, stem+"_pocketmod.pdf")
}

// handleConvertUpload accepts multipart/form-data uploads and enqueues the
// conversion against the saved local copy, skipping S3 entirely.
func (s *Server) handleConvertUpload(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if err := r.ParseMultipartForm(64 << 20); err != nil { // 64MB max memory before temp files
        http.Error(w, "invalid multipart form", http.StatusBadRequest); return
    }
    file, hdr, err := r.FormFile("file")
    if err != nil { http.Error(w, "missing file", http.StatusBadRequest); return }
    defer file.Close()
    requestedBy := r.FormValue("requested_by")
    previewWanted := r.FormValue("preview") == "on" || r.FormValue("preview") == "true"

    if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil { http.Error(w, "cannot create upload dir", 500); return }
    jobID := uuid.NewString()
    // derive filename with job prefix to avoid collisions
    name := filepath.Base(hdr.Filename)
    if name == "" || name == "." { name = "upload.pdf" }
    localPath := filepath.Join(s.cfg.UploadDir, fmt.Sprintf("%s_%s", jobID, name))
    out, err := os.Create(localPath)
    if err != nil { http.Error(w, "cannot save upload", 500); return }
    if _, err := io.Copy(out, file); err != nil { out.Close(); http.Error(w, "write failed", 500); return }
    _ = out.Close()

    stem := strings.TrimSuffix(name, filepath.Ext(name))
    job := queue.ConvertJob{
        JobID:          jobID,
        SourceRef:      "file://" + localPath,
        OutputKey:      fmt.Sprintf("%s_%s_pocketmod.pdf", jobID, stem),
        RequestedBy:    requestedBy,
        Source:         "upload",
        Preview:        previewWanted,
        IdempotencyKey: queue.IdempotencyKey("file://"+localPath, jobID),
        Attempt:        1,
    }

    start := time.Now()
    _ = s.deps.Status.Set(r.Context(), jobID, store.Status{Status: store.StateQueued, Progress: 0, Message: "queued",
        Start: &start, Metadata: map[string]interface{}{"source_ref": job.SourceRef, "upload_name": name, "requested_by": requestedBy, "source": "upload"}})

    data, _ := json.Marshal(job)
    if err := s.deps.Queue.Enqueue(r.Context(), data); err != nil {
        log.Error().Err(err).Msg("enqueue failed")
        http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusCreated)
    _ = json.NewEncoder(w).Encode(convertResp{Status: "ok", JobID: jobID, Message: "Upload conversion job created"})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/jobs/")
    if id == "" { http.Error(w, "missing job id", http.StatusBadRequest); return }
    st, ok, err := s.deps.Status.Get(r.Context(), id)
    if err != nil { http.Error(w, "error", 500); return }
    if !ok {
        http.Error(w, "not found", http.StatusNotFound); return
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(map[string]interface{}{
        "success":    st.Status == store.StateSuccess,
        "job_id":     id,
        "status":     st.Status,
        "progress":   st.Progress,
        "message":    st.Message,
        "pages":      intFromMeta(st.Metadata, "pages"),
        "sheets":     intFromMeta(st.Metadata, "sheets"),
        "output_ref": strFromMeta(st.Metadata, "output_ref"),
        "start_time": st.Start,
        "end_time":   st.End,
    })
}

// handleDownload serves the finished booklet for jobs whose result lives on
// local disk (uploads and file refs).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/download/")
    st, ok, err := s.deps.Status.Get(r.Context(), id)
    if err != nil || !ok { http.Error(w, "not found", http.StatusNotFound); return }
    if st.Status != store.StateSuccess { http.Error(w, "not ready", http.StatusAccepted); return }
    ref := strFromMeta(st.Metadata, "output_ref")
    if !strings.HasPrefix(ref, "file://") {
        http.Error(w, "result not stored locally", http.StatusBadRequest); return
    }
    p := strings.TrimPrefix(ref, "file://")
    b, err := os.ReadFile(p)
    if err != nil { http.Error(w, "failed to read", 500); return }
    w.Header().Set("Content-Type", "application/pdf")
    w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(p)))
    _, _ = w.Write(b)
}

type cancelReq struct {
    JobID  string `json:"job_id"`
    Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req cancelReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil { http.Error(w, "invalid json", 400); return }
    if req.JobID == "" { http.Error(w, "missing job_id", 400); return }
    // mark cancelled in the queue's cancel set so workers drop it
    if err := s.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
        http.Error(w, "cancel failed", 500); return
    }
    st, ok, _ := s.deps.Status.Get(r.Context(), req.JobID)
    if !ok { st = store.Status{} }
    st.Status = store.StateCancelled
    st.Progress = 0
    if req.Reason != "" { st.Message = fmt.Sprintf("Cancelled: %s", req.Reason) } else { st.Message = "Cancelled" }
    now := time.Now(); st.End = &now
    _ = s.deps.Status.Set(r.Context(), req.JobID, st)
    _ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "job_id": req.JobID, "status": "cancelled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    w.Header().Set("Content-Type", "application/json")
    if s.deps.Checker == nil {
        _ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
        return
    }
    _ = json.NewEncoder(w).Encode(s.deps.Checker.Summary(r.Context()))
}

func intFromMeta(m map[string]interface{}, key string) int {
    if m == nil { return 0 }
    if v, ok := m[key]; ok {
        switch t := v.(type) {
        case float64: return int(t)
        case int: return t
        }
    }
    return 0
}

func strFromMeta(m map[string]interface{}, key string) string {
    if m == nil { return "" }
    s, _ := m[key].(string)
    return s
}
