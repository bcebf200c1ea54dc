package convert

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"

	"github.com/local/pocketmod/internal/layout"
	"github.com/local/pocketmod/internal/pdfdoc"
)

// writeSourcePDF builds a plain multi-page document with a stroked frame on
// every page.
func writeSourcePDF(t *testing.T, path string, pages int, width, height float64) {
	t.Helper()
	paper := &pdf.Rectangle{URx: width, URy: height}
	doc, err := document.CreateMultiPage(path, paper, pdf.V1_7, nil)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	for i := 0; i < pages; i++ {
		page := doc.AddPage()
		page.Rectangle(50, 50, width-100, height-100)
		page.Stroke()
		if err := page.Close(); err != nil {
			t.Fatalf("close page %d: %v", i, err)
		}
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("close source: %v", err)
	}
}

func TestConvertEndToEnd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.pdf")
	out := filepath.Join(dir, "out.pdf")
	writeSourcePDF(t, src, 10, 595.2756, 841.8898)

	res, err := New(Options{}).Convert(context.Background(), src, out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.PageCount != 10 || res.SheetCount != 2 {
		t.Errorf("result = %d pages, %d sheets, want 10 pages, 2 sheets", res.PageCount, res.SheetCount)
	}
	if res.Orientation != layout.Portrait {
		t.Errorf("orientation = %v, want portrait", res.Orientation)
	}

	got, err := pdfdoc.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer got.Close()
	if got.PageCount() != 2 {
		t.Errorf("output pages = %d, want 2", got.PageCount())
	}
	w, h, err := got.PageSize(0)
	if err != nil {
		t.Fatalf("output sheet size: %v", err)
	}
	wantW := 297.0 / layout.MMPerPoint
	wantH := 210.0 / layout.MMPerPoint
	if math.Abs(w-wantW) > 0.5 || math.Abs(h-wantH) > 0.5 {
		t.Errorf("sheet size = %gx%g, want %gx%g", w, h, wantW, wantH)
	}
}

func TestConvertLandscapeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.pdf")
	out := filepath.Join(dir, "out.pdf")
	writeSourcePDF(t, src, 8, 841.8898, 595.2756)

	res, err := New(Options{}).Convert(context.Background(), src, out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.SheetCount != 1 {
		t.Errorf("sheets = %d, want 1", res.SheetCount)
	}
	if res.Orientation != layout.Landscape {
		t.Errorf("orientation = %v, want landscape", res.Orientation)
	}

	// The working frame swaps, so the sheet media matches the portrait case.
	got, err := pdfdoc.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer got.Close()
	w, h, err := got.PageSize(0)
	if err != nil {
		t.Fatalf("output sheet size: %v", err)
	}
	if math.Abs(w-297.0/layout.MMPerPoint) > 0.5 || math.Abs(h-210.0/layout.MMPerPoint) > 0.5 {
		t.Errorf("sheet size = %gx%g, want swapped working frame", w, h)
	}
}

func TestConvertRejectsNonPDF(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake.pdf")
	if err := os.WriteFile(fake, []byte("just text, no pdf header"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.pdf")

	_, err := New(Options{}).Convert(context.Background(), fake, out)
	var open *DocumentOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Convert on text content = %v, want DocumentOpenError", err)
	}
	if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("rejected input must not leave an output file")
	}
}

func TestConvertMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{}).Convert(context.Background(), filepath.Join(dir, "gone.pdf"), filepath.Join(dir, "out.pdf"))
	var open *DocumentOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Convert on missing file = %v, want DocumentOpenError", err)
	}
}

func TestConvertCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.pdf")
	out := filepath.Join(dir, "out.pdf")
	writeSourcePDF(t, src, 8, 595.2756, 841.8898)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Options{}).Convert(ctx, src, out); !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert with cancelled context = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("cancelled conversion must not leave an output file")
	}
}
