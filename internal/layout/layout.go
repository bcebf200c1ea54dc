// Package layout computes pocketmod page placements.
//
// A pocketmod is a single printed sheet folded into an eight-panel booklet.
// The planner measures the source document, selects the slot table for its
// orientation and assigns every source page a sheet, a slot and a transform.
// It performs no document I/O; reading and writing PDFs is the caller's job.
package layout

import (
	"fmt"
	"math"

	"seehuhn.de/go/geom/matrix"
)

// MMPerPoint converts native 1/72-inch units to whole millimetres.
const MMPerPoint = 0.3528

// SlotsPerSheet is fixed by the fold: one sheet exposes eight panels.
const SlotsPerSheet = 8

// Orientation of the source document, decided by its first page.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	if o == Landscape {
		return "landscape"
	}
	return "portrait"
}

// Dimension is a page size in whole millimetres.
type Dimension struct {
	Width  float64
	Height float64
}

// Orientation is Landscape only when the page is strictly wider than tall.
func (d Dimension) Orientation() Orientation {
	if d.Width > d.Height {
		return Landscape
	}
	return Portrait
}

// PageSource is the document view the planner reads: a page count and the
// size of individual pages in native 1/72-inch units.
type PageSource interface {
	PageCount() int
	PageSize(index int) (width, height float64, err error)
}

// SlotTransform positions one slot's content on the sheet. Rotation is in
// degrees counter-clockwise, offsets in native units.
type SlotTransform struct {
	Rotation int
	XOffset  float64
	YOffset  float64
}

// Placement assigns one source page to a slot on a sheet. Page, Sheet and
// Slot are zero-based.
type Placement struct {
	Sheet    int
	Slot     int
	Page     int
	Rotation int
	Scale    float64
	XOffset  float64
	YOffset  float64
}

// Matrix returns the content transform for the placement: rotate, then
// scale, then translate.
func (p Placement) Matrix() matrix.Matrix {
	return matrix.RotateDeg(float64(p.Rotation)).
		Mul(matrix.Scale(p.Scale, p.Scale)).
		Mul(matrix.Translate(p.XOffset, p.YOffset))
}

// Plan is the complete, immutable layout for one conversion. Sheet and
// translation values are in native units, Source in millimetres.
type Plan struct {
	PageCount    int
	Source       Dimension
	Orientation  Orientation
	SheetCount   int
	SheetWidth   float64
	SheetHeight  float64
	Scale        float64
	XTranslation float64
	YTranslation float64
	Placements   []Placement
}

// Resolve measures the first page of the source document and reports its
// size in whole millimetres together with the derived orientation.
func Resolve(src PageSource) (Dimension, Orientation, error) {
	if src.PageCount() == 0 {
		return Dimension{}, Portrait, &EmptyDocumentError{}
	}
	w, h, err := src.PageSize(0)
	if err != nil {
		return Dimension{}, Portrait, fmt.Errorf("first page size: %w", err)
	}
	dim := Dimension{
		Width:  math.Round(w * MMPerPoint),
		Height: math.Round(h * MMPerPoint),
	}
	if dim.Width <= 0 || dim.Height <= 0 {
		return Dimension{}, Portrait, &InvalidDocumentError{Width: dim.Width, Height: dim.Height}
	}
	return dim, dim.Orientation(), nil
}

// Compose builds the placement plan for pageCount source pages of the given
// size. Pages fill sheets eight at a time in reading order; trailing slots on
// the last sheet stay blank and receive no placement.
func Compose(pageCount int, dim Dimension) (*Plan, error) {
	if pageCount <= 0 {
		return nil, &EmptyDocumentError{}
	}
	if dim.Width <= 0 || dim.Height <= 0 {
		return nil, &InvalidDocumentError{Width: dim.Width, Height: dim.Height}
	}

	orient := dim.Orientation()
	w, h := dim.Width, dim.Height
	if orient == Landscape {
		w, h = h, w
	}

	cellWidth := h / 4
	cellHeight := w / 2
	xStep := cellWidth / MMPerPoint
	yStep := cellHeight / MMPerPoint
	scale := math.Min(cellWidth/w, cellHeight/h)
	slots := slotTransforms(orient, xStep, yStep)

	plan := &Plan{
		PageCount:    pageCount,
		Source:       dim,
		Orientation:  orient,
		SheetCount:   (pageCount + SlotsPerSheet - 1) / SlotsPerSheet,
		SheetWidth:   h / MMPerPoint,
		SheetHeight:  w / MMPerPoint,
		Scale:        scale,
		XTranslation: xStep,
		YTranslation: yStep,
		Placements:   make([]Placement, 0, pageCount),
	}
	for page := 0; page < pageCount; page++ {
		t := slots[page%SlotsPerSheet]
		plan.Placements = append(plan.Placements, Placement{
			Sheet:    page / SlotsPerSheet,
			Slot:     page % SlotsPerSheet,
			Page:     page,
			Rotation: t.Rotation,
			Scale:    scale,
			XOffset:  t.XOffset,
			YOffset:  t.YOffset,
		})
	}
	return plan, nil
}

// slotTransforms returns the eight panel transforms for the orientation.
// Slot order follows the fold: cover, top row left to right, then the bottom
// row right to left, so that the folded booklet reads front to back.
func slotTransforms(o Orientation, xStep, yStep float64) [SlotsPerSheet]SlotTransform {
	if o == Landscape {
		return [SlotsPerSheet]SlotTransform{
			{Rotation: 270, XOffset: 0, YOffset: yStep},
			{Rotation: 90, XOffset: 1 * xStep, YOffset: yStep},
			{Rotation: 90, XOffset: 2 * xStep, YOffset: yStep},
			{Rotation: 90, XOffset: 3 * xStep, YOffset: yStep},
			{Rotation: 90, XOffset: 4 * xStep, YOffset: yStep},
			{Rotation: 270, XOffset: 3 * xStep, YOffset: yStep},
			{Rotation: 270, XOffset: 2 * xStep, YOffset: yStep},
			{Rotation: 270, XOffset: 1 * xStep, YOffset: yStep},
		}
	}
	return [SlotsPerSheet]SlotTransform{
		{Rotation: 180, XOffset: 1 * xStep, YOffset: yStep},
		{Rotation: 0, XOffset: 0, YOffset: yStep},
		{Rotation: 0, XOffset: 1 * xStep, YOffset: yStep},
		{Rotation: 0, XOffset: 2 * xStep, YOffset: yStep},
		{Rotation: 0, XOffset: 3 * xStep, YOffset: yStep},
		{Rotation: 180, XOffset: 4 * xStep, YOffset: yStep},
		{Rotation: 180, XOffset: 3 * xStep, YOffset: yStep},
		{Rotation: 180, XOffset: 2 * xStep, YOffset: yStep},
	}
}
