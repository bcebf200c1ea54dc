// Package pdfdoc adapts PDF reading and writing for the layout planner.
// Source pages cross into the output document as form XObjects, so their
// content streams and resources survive untouched.
package pdfdoc

import (
	"errors"
	"fmt"
	"io"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"
	"seehuhn.de/go/pdf/graphics"
	"seehuhn.de/go/pdf/graphics/form"
	"seehuhn.de/go/pdf/pagetree"
	"seehuhn.de/go/pdf/pdfcopy"
)

// Document is an open source PDF.
type Document struct {
	r         *pdf.Reader
	pageCount int
}

// Open reads the document's page tree and keeps the file open for page
// access. The caller must Close the document, and must keep it open until
// any sheet writer drawing from it has been closed as well.
func Open(path string) (*Document, error) {
	r, err := pdf.Open(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	n, err := pagetree.NumPages(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("page tree of %s: %w", path, err)
	}
	return &Document{r: r, pageCount: n}, nil
}

// PageCount reports the number of pages in the document.
func (d *Document) PageCount() int { return d.pageCount }

// PageSize returns the media box size of the page in native 1/72-inch
// units. The index is zero-based.
func (d *Document) PageSize(index int) (float64, float64, error) {
	_, pageDict, err := pagetree.GetPage(d.r, index)
	if err != nil {
		return 0, 0, fmt.Errorf("page %d: %w", index, err)
	}
	box, err := mediaBox(d.r, pageDict)
	if err != nil {
		return 0, 0, fmt.Errorf("page %d: %w", index, err)
	}
	return box.Dx(), box.Dy(), nil
}

// Close releases the underlying reader.
func (d *Document) Close() error { return d.r.Close() }

// mediaBox returns the page boundary used for both measurement and form
// bounds: the media box, falling back to the crop box.
func mediaBox(r pdf.Getter, pageDict pdf.Dict) (*pdf.Rectangle, error) {
	obj := pageDict["MediaBox"]
	if obj == nil {
		obj = pageDict["CropBox"]
	}
	box, err := pdf.GetRectangle(r, obj)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, errors.New("page has no media box")
	}
	return box, nil
}

// SheetWriter emits the converted document one fixed-size sheet at a time.
type SheetWriter struct {
	doc  *document.MultiPage
	page *document.Page
}

// CreateSheets creates the output document. Width and height are the sheet
// media size in native units and apply to every sheet.
func CreateSheets(path string, width, height float64) (*SheetWriter, error) {
	paper := &pdf.Rectangle{URx: width, URy: height}
	doc, err := document.CreateMultiPage(path, paper, pdf.V1_7, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &SheetWriter{doc: doc}, nil
}

// BeginSheet opens the next sheet. Slots left undrawn stay blank.
func (w *SheetWriter) BeginSheet() {
	w.page = w.doc.AddPage()
}

// Place draws one source page onto the open sheet under the given
// transform.
func (w *SheetWriter) Place(src *Document, pageIndex int, m matrix.Matrix) error {
	if w.page == nil {
		return errors.New("no open sheet")
	}
	_, pageDict, err := pagetree.GetPage(src.r, pageIndex)
	if err != nil {
		return fmt.Errorf("page %d: %w", pageIndex, err)
	}
	bbox, err := mediaBox(src.r, pageDict)
	if err != nil {
		return fmt.Errorf("page %d: %w", pageIndex, err)
	}

	xobj := &form.Form{
		Draw: func(g *graphics.Writer) error {
			copier := pdfcopy.NewCopier(g.RM.Out, src.r)

			res, err := pdf.GetDict(src.r, pageDict["Resources"])
			if err != nil {
				return err
			}
			if len(res) > 0 {
				resObj, err := copier.Copy(res)
				if err != nil {
					return err
				}
				g.Resources, err = pdf.GetResources(nil, resObj)
				if err != nil {
					return err
				}
			}

			contents, err := pagetree.ContentStream(src.r, pageDict)
			if err != nil {
				return err
			}
			_, err = io.Copy(g.Content, contents)
			return err
		},
		BBox: *bbox,
	}

	w.page.PushGraphicsState()
	w.page.Transform(m)
	w.page.DrawXObject(xobj)
	w.page.PopGraphicsState()
	return nil
}

// EndSheet finishes the open sheet.
func (w *SheetWriter) EndSheet() error {
	if w.page == nil {
		return nil
	}
	err := w.page.Close()
	w.page = nil
	return err
}

// Close finishes the output document. Any still-open sheet is closed first.
func (w *SheetWriter) Close() error {
	if w.page != nil {
		if err := w.page.Close(); err != nil {
			return err
		}
		w.page = nil
	}
	return w.doc.Close()
}
