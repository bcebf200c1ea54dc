// Package batch converts every PDF in a folder. One file's failure never
// stops the rest of the run.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/pocketmod/internal/convert"
	"github.com/local/pocketmod/internal/metrics"
)

// Status of one directory entry after the run.
type Status string

const (
	StatusConverted Status = "converted"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// FileResult records the outcome for one directory entry, in directory order.
type FileResult struct {
	Path   string
	Status Status
	Output string
	Sheets int
	Err    error
}

type documentConverter interface {
	Convert(ctx context.Context, inputPath, outputPath string) (*convert.Result, error)
}

// Runner walks one folder and converts each entry ending in .pdf
// (case-insensitive). Other entries are skipped with a notice.
type Runner struct {
	conv     documentConverter
	prompter convert.Prompter
	outDir   string
	jobs     int

	// OnSkip, when set, is called with the entry name of every skipped file.
	OnSkip func(name string)

	// OnStart and OnResult, when set, observe each conversion as it runs,
	// in directory order when jobs == 1.
	OnStart  func(name string)
	OnResult func(res FileResult)
}

// New creates a runner. With jobs > 1 files convert in parallel; the
// prompter must then answer without a terminal.
func New(conv documentConverter, prompter convert.Prompter, outDir string, jobs int) *Runner {
	if jobs <= 0 {
		jobs = 1
	}
	return &Runner{conv: conv, prompter: prompter, outDir: outDir, jobs: jobs}
}

// Run converts the folder's PDFs and reports one result per entry.
func (r *Runner) Run(ctx context.Context, dir string) ([]FileResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &convert.UnsupportedInputError{Path: dir, Reason: "cannot read directory: " + err.Error()}
	}

	results := make([]FileResult, len(entries))
	var pdfs []int
	for i, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			results[i] = FileResult{Path: path, Status: StatusSkipped}
			log.Info().Str("entry", name).Msg("not a pdf, skipping")
			metrics.IncBatchFile("skipped")
			if r.OnSkip != nil {
				r.OnSkip(name)
			}
			continue
		}
		pdfs = append(pdfs, i)
	}

	if r.jobs == 1 {
		for _, i := range pdfs {
			results[i] = r.convertOne(ctx, filepath.Join(dir, entries[i].Name()))
		}
		return results, nil
	}

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < r.jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = r.convertOne(ctx, filepath.Join(dir, entries[i].Name()))
			}
		}()
	}
	for _, i := range pdfs {
		work <- i
	}
	close(work)
	wg.Wait()
	return results, nil
}

func (r *Runner) convertOne(ctx context.Context, path string) (fr FileResult) {
	if r.OnStart != nil {
		r.OnStart(filepath.Base(path))
	}
	defer func() {
		if r.OnResult != nil {
			r.OnResult(fr)
		}
	}()

	out, err := convert.ResolveOutputPath(r.prompter, r.outDir, path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("cannot pick output name")
		metrics.IncBatchFile("failed")
		return FileResult{Path: path, Status: StatusFailed, Err: err}
	}

	res, err := r.conv.Convert(ctx, path, out)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("conversion failed")
		metrics.IncBatchFile("failed")
		return FileResult{Path: path, Status: StatusFailed, Err: err}
	}

	metrics.IncBatchFile("converted")
	return FileResult{Path: path, Status: StatusConverted, Output: res.OutputPath, Sheets: res.SheetCount}
}
