package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/local/pocketmod/internal/batch"
    cfgpkg "github.com/local/pocketmod/internal/config"
    "github.com/local/pocketmod/internal/convert"
    logpkg "github.com/local/pocketmod/internal/logger"
    "github.com/local/pocketmod/internal/preview"
)

const separator = "-----------------------------------------------------"

type cliOptions struct {
    output  string
    force   bool
    yes     bool
    jobs    int
    preview bool
    quiet   bool
}

func main() {
    _ = godotenv.Load()

    output := flag.String("output", "", "output file name (without .pdf), skips the name prompt")
    force := flag.Bool("force", false, "replace existing output files without asking")
    yes := flag.Bool("yes", false, "never prompt, take default answers")
    jobs := flag.Int("jobs", 1, "parallel conversions in folder mode (needs -yes)")
    withPreview := flag.Bool("preview", false, "render JPEG previews next to each output")
    quiet := flag.Bool("quiet", false, "suppress conversion messages")
    verbose := flag.Bool("verbose", false, "enable debug logging")
    flag.Parse()

    cfg := cfgpkg.FromEnv()
    if *quiet { cfg.Logging.Level = "error" }
    if *verbose { cfg.Logging.Level = "debug" }

    if flag.NArg() == 1 && flag.Arg(0) == "serve" {
        runServe(cfg)
        return
    }

    // CLI mode logs to the file only; stdout carries the conversation.
    _ = logpkg.Init(logpkg.Options{
        Level:      cfg.Logging.Level,
        File:       cfg.Logging.File,
        MaxSizeMB:  cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress:   cfg.Logging.Compress,
    })

    if flag.NArg() != 1 {
        fmt.Fprintln(os.Stderr, "usage: pocketmod [flags] <input.pdf | folder | serve>")
        flag.PrintDefaults()
        logpkg.Close()
        os.Exit(2)
    }

    code := run(cfg, flag.Arg(0), cliOptions{
        output:  *output,
        force:   *force,
        yes:     *yes,
        jobs:    *jobs,
        preview: *withPreview || cfg.Preview.Enabled,
        quiet:   *quiet,
    })
    logpkg.Close()
    os.Exit(code)
}

func run(cfg cfgpkg.Config, input string, opts cliOptions) int {
    conv := convert.New(convert.Options{
        Preflight: cfg.Convert.Preflight,
        Optimize:  cfg.Convert.Optimize,
        Verify:    cfg.Convert.Verify,
    })
    prompter := newCLIPrompter(opts)

    info, err := os.Stat(input)
    if err != nil {
        fmt.Fprintf(os.Stderr, "pocketmod: %v\n", &convert.UnsupportedInputError{Path: input, Reason: "no such file or directory"})
        return 1
    }
    if info.IsDir() {
        return runFolder(cfg, conv, prompter, input, opts)
    }
    return runSingle(cfg, conv, prompter, input, opts)
}

func runSingle(cfg cfgpkg.Config, conv *convert.Converter, prompter convert.Prompter, path string, opts cliOptions) int {
    if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
        fmt.Fprintf(os.Stderr, "pocketmod: %v\n", &convert.UnsupportedInputError{Path: path, Reason: "file type is not a pdf"})
        return 1
    }

    // Output lands in the directory the tool was called from.
    out, err := convert.ResolveOutputPath(prompter, "", path)
    if err != nil {
        fmt.Fprintf(os.Stderr, "pocketmod: %v\n", err)
        return 1
    }
    res, err := conv.Convert(context.Background(), path, out)
    if err != nil {
        fmt.Fprintf(os.Stderr, "pocketmod: conversion failed: %v\n", err)
        return 1
    }
    if !opts.quiet {
        fmt.Printf("The file has been converted. The output file is: %s\n", res.OutputPath)
    }
    renderPreviews(cfg, res.OutputPath, opts)
    return 0
}

func runFolder(cfg cfgpkg.Config, conv *convert.Converter, prompter convert.Prompter, dir string, opts cliOptions) int {
    jobs := opts.jobs
    if !opts.yes { jobs = 1 } // prompts force sequential processing

    printing := !opts.quiet
    r := batch.New(conv, prompter, "", jobs)
    if printing {
        r.OnSkip = func(name string) {
            fmt.Printf("%s is not pdf thus will be skipped.\n", name)
            fmt.Println(separator)
        }
        r.OnStart = func(name string) {
            fmt.Printf("Current converting file: %s\n", name)
        }
    }
    r.OnResult = func(res batch.FileResult) {
        switch res.Status {
        case batch.StatusConverted:
            if printing {
                fmt.Printf("The file has been converted. The output file is: %s\n", res.Output)
            }
            renderPreviews(cfg, res.Output, opts)
        case batch.StatusFailed:
            if printing {
                fmt.Printf("Conversion failed for %s: %v\n", filepath.Base(res.Path), res.Err)
            }
        }
        if printing { fmt.Println(separator) }
    }

    if _, err := r.Run(context.Background(), dir); err != nil {
        fmt.Fprintf(os.Stderr, "pocketmod: %v\n", err)
        return 1
    }
    // per-file failures were already reported; the batch itself succeeded
    if printing { fmt.Println("Conversion finished.") }
    return 0
}

func renderPreviews(cfg cfgpkg.Config, pdfPath string, opts cliOptions) {
    if !opts.preview { return }
    paths, err := preview.RenderSheets(pdfPath, filepath.Dir(pdfPath), cfg.Preview.DPI, cfg.Preview.Quality)
    if err != nil {
        log.Warn().Err(err).Str("output", pdfPath).Msg("preview rendering failed")
        return
    }
    if !opts.quiet {
        for _, p := range paths {
            fmt.Printf("Preview sheet written: %s\n", p)
        }
    }
}

// cliPrompter layers the flags over the interactive prompts: -output
// answers the first name question, -force answers every overwrite
// question, -yes keeps the terminal out of it entirely.
type cliPrompter struct {
    preset string
    force  bool
    yes    bool
    term   *convert.TerminalPrompter
}

func newCLIPrompter(opts cliOptions) convert.Prompter {
    return &cliPrompter{preset: opts.output, force: opts.force, yes: opts.yes,
        term: convert.NewTerminalPrompter(os.Stdin, os.Stdout)}
}

func (p *cliPrompter) OutputName(suggested string) (string, error) {
    if p.preset != "" {
        name := p.preset
        p.preset = "" // consumed; a declined overwrite re-asks on the terminal
        return name, nil
    }
    if p.yes {
        return suggested, nil
    }
    return p.term.OutputName(suggested)
}

func (p *cliPrompter) ConfirmReplace(path string) (bool, error) {
    if p.force {
        return true, nil
    }
    if p.yes {
        return false, fmt.Errorf("%s already exists (use -force to replace)", path)
    }
    return p.term.ConfirmReplace(path)
}
