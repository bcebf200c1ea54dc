// Package convert runs single-document pocketmod conversions: preflight,
// layout planning, sheet compositing and the optional checks around them.
package convert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/pocketmod/internal/filetype"
	"github.com/local/pocketmod/internal/layout"
	"github.com/local/pocketmod/internal/metrics"
	"github.com/local/pocketmod/internal/pdfdoc"
	"github.com/local/pocketmod/internal/preview"
)

// Options control the optional stages around the core transformation.
type Options struct {
	Preflight bool
	Optimize  bool
	Verify    bool
}

// Result summarizes one finished conversion.
type Result struct {
	InputPath   string
	OutputPath  string
	PageCount   int
	SheetCount  int
	Orientation layout.Orientation
	Duration    time.Duration
}

// Converter turns source documents into pocketmod booklets. It keeps no
// state between calls and is safe for concurrent use.
type Converter struct {
	opts     Options
	detector *filetype.Detector
}

func New(opts Options) *Converter {
	return &Converter{opts: opts, detector: filetype.New()}
}

// Convert reads inputPath and writes the folded booklet to outputPath.
// The input must already be a PDF; each of its pages lands in one slot of
// the output, eight slots per sheet, in reading order.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	start := time.Now()
	outcome := "error"
	defer func() { metrics.IncConversion(outcome) }()

	if err := c.detector.CheckPDF(inputPath); err != nil {
		return nil, &DocumentOpenError{Path: inputPath, Err: err}
	}
	if c.opts.Preflight {
		if err := preflight(inputPath); err != nil {
			return nil, &DocumentOpenError{Path: inputPath, Err: err}
		}
	}

	src, err := pdfdoc.Open(inputPath)
	if err != nil {
		return nil, &DocumentOpenError{Path: inputPath, Err: err}
	}
	defer src.Close()

	dim, orient, err := layout.Resolve(src)
	if err != nil {
		return nil, wrapResolve(inputPath, err)
	}
	plan, err := layout.Compose(src.PageCount(), dim)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("input", inputPath).
		Int("pages", plan.PageCount).
		Int("sheets", plan.SheetCount).
		Str("orientation", orient.String()).
		Float64("scale", plan.Scale).
		Msg("layout planned")

	if err := writeSheets(ctx, src, plan, outputPath); err != nil {
		return nil, err
	}

	if c.opts.Optimize {
		if err := optimize(outputPath); err != nil {
			log.Warn().Err(err).Str("output", outputPath).Msg("output optimization failed, keeping unoptimized file")
		}
	}
	if c.opts.Verify {
		if err := preview.VerifySheetCount(outputPath, plan.SheetCount); err != nil {
			os.Remove(outputPath)
			return nil, fmt.Errorf("output verification: %w", err)
		}
	}

	dur := time.Since(start)
	outcome = "success"
	metrics.ObserveConversion(orient.String(), dur.Seconds())
	metrics.AddSheets(plan.SheetCount)
	log.Info().Str("input", inputPath).Str("output", outputPath).Dur("took", dur).Msg("conversion finished")

	return &Result{
		InputPath:   inputPath,
		OutputPath:  outputPath,
		PageCount:   plan.PageCount,
		SheetCount:  plan.SheetCount,
		Orientation: orient,
		Duration:    dur,
	}, nil
}

// wrapResolve passes taxonomy errors through and folds reader failures into
// a DocumentOpenError.
func wrapResolve(path string, err error) error {
	if IsFatal(err) {
		return err
	}
	return &DocumentOpenError{Path: path, Err: err}
}

// writeSheets draws the plan into a fresh output document. On any failure
// the partial output file is removed.
func writeSheets(ctx context.Context, src *pdfdoc.Document, plan *layout.Plan, outputPath string) error {
	w, err := pdfdoc.CreateSheets(outputPath, plan.SheetWidth, plan.SheetHeight)
	if err != nil {
		return err
	}

	next := 0
	for sheet := 0; sheet < plan.SheetCount; sheet++ {
		if err := ctx.Err(); err != nil {
			w.Close()
			os.Remove(outputPath)
			return err
		}
		w.BeginSheet()
		for next < len(plan.Placements) && plan.Placements[next].Sheet == sheet {
			p := plan.Placements[next]
			if err := w.Place(src, p.Page, p.Matrix()); err != nil {
				w.Close()
				os.Remove(outputPath)
				return fmt.Errorf("sheet %d slot %d: %w", p.Sheet, p.Slot, err)
			}
			next++
		}
		if err := w.EndSheet(); err != nil {
			w.Close()
			os.Remove(outputPath)
			return fmt.Errorf("sheet %d: %w", sheet, err)
		}
	}
	if err := w.Close(); err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

func preflight(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, conf)
}

func optimize(path string) error {
	return api.OptimizeFile(path, "", model.NewDefaultConfiguration())
}
