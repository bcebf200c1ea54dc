package pdfdoc

import (
	"math"
	"testing"

	"seehuhn.de/go/pdf"
)

func TestMediaBox(t *testing.T) {
	dict := pdf.Dict{
		"MediaBox": pdf.Array{pdf.Integer(0), pdf.Integer(0), pdf.Real(595.2756), pdf.Real(841.8898)},
	}
	box, err := mediaBox(nil, dict)
	if err != nil {
		t.Fatalf("mediaBox: %v", err)
	}
	if math.Abs(box.Dx()-595.2756) > 1e-9 || math.Abs(box.Dy()-841.8898) > 1e-9 {
		t.Errorf("box = %v, want 595.2756x841.8898", box)
	}
}

func TestMediaBoxCropFallback(t *testing.T) {
	dict := pdf.Dict{
		"CropBox": pdf.Array{pdf.Integer(0), pdf.Integer(0), pdf.Integer(612), pdf.Integer(792)},
	}
	box, err := mediaBox(nil, dict)
	if err != nil {
		t.Fatalf("mediaBox: %v", err)
	}
	if box.Dx() != 612 || box.Dy() != 792 {
		t.Errorf("box = %v, want 612x792", box)
	}
}

func TestMediaBoxMissing(t *testing.T) {
	if _, err := mediaBox(nil, pdf.Dict{}); err == nil {
		t.Fatal("mediaBox on empty page dict should fail")
	}
}

func TestMediaBoxSwappedCorners(t *testing.T) {
	dict := pdf.Dict{
		"MediaBox": pdf.Array{pdf.Integer(612), pdf.Integer(792), pdf.Integer(0), pdf.Integer(0)},
	}
	box, err := mediaBox(nil, dict)
	if err != nil {
		t.Fatalf("mediaBox: %v", err)
	}
	if box.Dx() != 612 || box.Dy() != 792 {
		t.Errorf("box = %v, want normalized 612x792", box)
	}
}
