// Package preview rasterizes finished booklets: JPEG previews of the
// output sheets and a cheap page-count verification of the written file.
package preview

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// RenderSheets renders every sheet of the booklet as a JPEG next to each
// other in outDir. It returns the written file paths in sheet order.
func RenderSheets(pdfPath, outDir string, dpi, quality int) ([]string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	paths := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render sheet %d: %w", i+1, err)
		}

		path := filepath.Join(outDir, fmt.Sprintf("%s_sheet%02d.jpg", stem, i+1))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to encode sheet %d: %w", i+1, err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}

		bounds := img.Bounds()
		log.Debug().
			Int("sheet", i+1).
			Int("width", bounds.Dx()).
			Int("height", bounds.Dy()).
			Int("dpi", dpi).
			Str("file", path).
			Msg("rendered sheet preview")
		paths = append(paths, path)
	}
	return paths, nil
}

// VerifySheetCount reopens the written booklet and checks that it carries
// the expected number of sheets.
func VerifySheetCount(pdfPath string, want int) error {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to reopen output: %w", err)
	}
	defer doc.Close()

	if got := doc.NumPage(); got != want {
		return fmt.Errorf("output has %d sheets, want %d", got, want)
	}
	return nil
}
