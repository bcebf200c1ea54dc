package layout

import "fmt"

// InvalidDocumentError reports a source document whose first page has no usable size
type InvalidDocumentError struct {
	Width  float64
	Height float64
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid document: first page measures %gx%g mm", e.Width, e.Height)
}

// EmptyDocumentError reports a source document with no pages to place
type EmptyDocumentError struct{}

func (e *EmptyDocumentError) Error() string {
	return "empty document: no pages to place"
}
