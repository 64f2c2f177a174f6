// Package pdfutil inspects PDF uploads before they are sent for extraction.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// ErrNoPages is returned for PDFs that open but contain no pages.
var ErrNoPages = errors.New("pdf has no pages")

// Info summarizes a PDF.
type Info struct {
	Pages int
	// HasText reports whether the first page has extractable text. Scanned
	// documents usually do not.
	HasText bool
}

// Inspect opens data with ledongthuc/pdf and counts its pages.
func Inspect(data []byte) (info Info, err error) {
	// The reader panics on some malformed inputs instead of returning errors.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("new pdf reader: %w", err)
	}
	info.Pages = doc.NumPage()
	if info.Pages == 0 {
		return info, ErrNoPages
	}
	info.HasText = firstPageHasText(doc)
	return info, nil
}

func firstPageHasText(doc *pdf.Reader) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p := doc.Page(1)
	if p.V.IsNull() {
		return false
	}
	text, err := p.GetPlainText(nil)
	return err == nil && len(bytes.TrimSpace([]byte(text))) > 0
}

// IsPDF reports whether data starts with the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}
