package main

import (
    "context"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/pocketmod/internal/config"
    "github.com/local/pocketmod/internal/convert"
    logpkg "github.com/local/pocketmod/internal/logger"
    "github.com/local/pocketmod/internal/metrics"
    "github.com/local/pocketmod/internal/queue"
    "github.com/local/pocketmod/internal/server"
    "github.com/local/pocketmod/internal/statuscheck"
    "github.com/local/pocketmod/internal/storage"
    "github.com/local/pocketmod/internal/store"
    "github.com/local/pocketmod/internal/worker"
)

// runServe starts the HTTP API plus the queue workers and blocks until
// SIGINT/SIGTERM.
func runServe(cfg cfgpkg.Config) {
    _ = logpkg.Init(logpkg.Options{
        Level:        cfg.Logging.Level,
        Pretty:       cfg.Logging.Pretty,
        Console:      true,
        File:         cfg.Logging.File,
        MaxSizeMB:    cfg.Logging.MaxSizeMB,
        MaxBackups:   cfg.Logging.MaxBackups,
        MaxAgeDays:   cfg.Logging.MaxAgeDays,
        Compress:     cfg.Logging.Compress,
        SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey:  cfg.Axiom.APIKey,
        AxiomOrgID:   cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush:   cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()

    metrics.Init()

    // Queue
    rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to connect to redis")
    }
    defer rq.Close()

    // Status store
    rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to init redis status store")
    }
    defer rs.Close()

    // Object storage is optional; without a bucket only file:// jobs work.
    var objects worker.ObjectStore
    if cfg.Storage.Bucket != "" {
        s3c, err := storage.NewS3Client(context.Background(), storage.Options{
            Bucket:     cfg.Storage.Bucket,
            Region:     cfg.Storage.Region,
            Endpoint:   cfg.Storage.Endpoint,
            AccessKey:  cfg.Storage.AccessKey,
            SecretKey:  cfg.Storage.SecretKey,
            Passphrase: cfg.Storage.Passphrase,
        })
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init s3 storage")
        }
        objects = s3c
    }

    conv := convert.New(convert.Options{
        Preflight: cfg.Convert.Preflight,
        Optimize:  cfg.Convert.Optimize,
        Verify:    cfg.Convert.Verify,
    })

    // Conversion workers
    w := worker.New(worker.Config{
        Concurrency:        cfg.Worker.Concurrency,
        JobTimeout:         cfg.Worker.JobTimeout,
        MaxAttempts:        cfg.Worker.JobMaxAttempts,
        RetryBaseDelay:     cfg.Worker.RetryBaseDelay,
        RetryJitter:        cfg.Worker.RetryJitter,
        RetryBackoffFactor: cfg.Worker.RetryBackoffFactor,
        ScratchDir:         cfg.Convert.ScratchDir,
        ResultDir:          cfg.Convert.ResultDir,
        PreviewDPI:         cfg.Preview.DPI,
        PreviewQuality:     cfg.Preview.Quality,
    }, rq, rs, objects, conv)
    w.Start()

    checker := statuscheck.New(statuscheck.Options{
        Redis:      rq,
        S3Bucket:   cfg.Storage.Bucket,
        ScratchDir: cfg.Convert.ScratchDir,
    })

    srv := server.New(server.Config{
        DefaultBucket: cfg.Storage.Bucket,
        KeyPrefix:     cfg.Storage.Prefix,
        UploadDir:     cfg.Convert.UploadDir,
    }, server.Dependencies{Queue: rq, Status: rs, Checker: checker})
    mux := http.NewServeMux()
    srv.RegisterRoutes(mux)

    httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
    go func() {
        log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
        if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = httpSrv.Shutdown(ctx)
    if err := w.Stop(ctx); err != nil {
        log.Warn().Err(err).Msg("workers did not drain in time")
    }
    log.Info().Msg("shutdown complete")
}
