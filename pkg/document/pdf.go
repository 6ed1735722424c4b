package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

func openPDF(data []byte) (r *pdf.Reader, err error) {
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func parsePDF(data []byte) (doc Document, err error) {
	r, err := openPDF(data)
	if err != nil {
		return Document{}, err
	}
	defer func() {
		if p := recover(); p != nil {
			doc, err = Document{}, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	info := r.Trailer().Key("Info")
	return Document{
		Title:    strings.TrimSpace(info.Key("Title").Text()),
		Author:   strings.TrimSpace(info.Key("Author").Text()),
		NumPages: r.NumPage(),
	}, nil
}

func pdfPageText(data []byte, page int) (text string, err error) {
	r, err := openPDF(data)
	if err != nil {
		return "", err
	}
	if page < 1 || page > r.NumPage() {
		return "", fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, r.NumPage())
	}
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("malformed pdf page %d: %v", page, p)
		}
	}()
	p := r.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	raw, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract page %d: %w", page, err)
	}
	return normalizeTextPreserveNewlines(raw), nil
}
