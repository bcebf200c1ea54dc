package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
    Port string
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
    RedisURL     string
    Stream       string
    Group        string
    PollInterval time.Duration
}

// WorkerConfig defines conversion worker behavior and retry limits.
type WorkerConfig struct {
    Concurrency        int
    JobTimeout         time.Duration
    JobMaxAttempts     int
    RetryBaseDelay     time.Duration
    RetryJitter        time.Duration
    RetryBackoffFactor float64
}

// StorageConfig defines S3 locations and optional at-rest encryption.
// Endpoint plus static keys point at S3-compatible services (MinIO etc).
type StorageConfig struct {
    Bucket     string
    Prefix     string
    Region     string
    Endpoint   string
    AccessKey  string
    SecretKey  string
    Passphrase string
}

// ConvertConfig defines pipeline toggles and work directories.
type ConvertConfig struct {
    Preflight  bool
    Optimize   bool
    Verify     bool
    ScratchDir string
    UploadDir  string
    ResultDir  string
}

// PreviewConfig defines sheet preview rendering.
type PreviewConfig struct {
    Enabled bool
    DPI     int
    Quality int
}

// Config is the top-level configuration.
type Config struct {
    Logging LoggingConfig
    Axiom   AxiomConfig
    Server  ServerConfig
    Queue   QueueConfig
    Worker  WorkerConfig
    Storage StorageConfig
    Convert ConvertConfig
    Preview PreviewConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/pocketmod.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_pocketmod",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    // Server defaults
    cfg.Server = ServerConfig{
        Port: getEnv("PORT", "8080"),
    }

    // Queue defaults
    cfg.Queue = QueueConfig{
        RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
        Stream:       getEnv("QUEUE_STREAM", "jobs:pocketmod:convert"),
        Group:        getEnv("QUEUE_GROUP", "workers:pocketmod"),
        PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
    }

    // Worker defaults
    cfg.Worker = WorkerConfig{
        Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
        JobTimeout:         parseDuration(getEnv("JOB_TIMEOUT", "2m"), 2*time.Minute),
        JobMaxAttempts:     parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
        RetryBaseDelay:     parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
        RetryJitter:        parseDuration(getEnv("RETRY_JITTER", "500ms"), 500*time.Millisecond),
        RetryBackoffFactor: parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
    }

    // Storage defaults
    cfg.Storage = StorageConfig{
        Bucket:     getEnv("AWS_S3_BUCKET", ""),
        Prefix:     getEnv("S3_PREFIX", "pocketmod/"),
        Region:     getEnv("AWS_REGION", "us-east-1"),
        Endpoint:   getEnv("S3_ENDPOINT", ""),
        AccessKey:  getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
        Passphrase: getEnv("STORAGE_PASSPHRASE", ""),
    }

    // Convert defaults
    cfg.Convert = ConvertConfig{
        Preflight:  parseBool(getEnv("PREFLIGHT", "true")),
        Optimize:   parseBool(getEnv("OPTIMIZE_OUTPUT", "false")),
        Verify:     parseBool(getEnv("VERIFY_OUTPUT", "true")),
        ScratchDir: getEnv("SCRATCH_DIR", os.TempDir()),
        UploadDir:  getEnv("UPLOAD_DIR", "uploads"),
        ResultDir:  getEnv("RESULT_DIR", "uploads/results"),
    }

    // Preview defaults
    cfg.Preview = PreviewConfig{
        Enabled: parseBool(getEnv("PREVIEW_ENABLED", "false")),
        DPI:     parseInt(getEnv("PREVIEW_DPI", "96"), 96),
        Quality: parseInt(getEnv("PREVIEW_QUALITY", "85"), 85),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
