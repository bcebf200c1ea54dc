package preview

import (
	"os"
	"path/filepath"
	"testing"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"
)

func writePDF(t *testing.T, path string, pages int) {
	t.Helper()
	doc, err := document.CreateMultiPage(path, &pdf.Rectangle{URx: 200, URy: 100}, pdf.V1_7, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < pages; i++ {
		page := doc.AddPage()
		page.Rectangle(10, 10, 180, 80)
		page.Stroke()
		if err := page.Close(); err != nil {
			t.Fatalf("close page: %v", err)
		}
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("close doc: %v", err)
	}
}

func TestVerifySheetCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheets.pdf")
	writePDF(t, path, 2)

	if err := VerifySheetCount(path, 2); err != nil {
		t.Errorf("VerifySheetCount(2) = %v, want nil", err)
	}
	if err := VerifySheetCount(path, 3); err == nil {
		t.Error("VerifySheetCount(3) should fail for a 2-sheet file")
	}
}

func TestRenderSheets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheets.pdf")
	writePDF(t, path, 2)

	outDir := filepath.Join(dir, "previews")
	paths, err := RenderSheets(path, outDir, 72, 80)
	if err != nil {
		t.Fatalf("RenderSheets: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("previews = %d, want 2", len(paths))
	}
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			t.Fatalf("preview %s: %v", p, err)
		}
		if st.Size() == 0 {
			t.Errorf("preview %s is empty", p)
		}
	}
}
