// Package document reads book metadata and page text from uploaded PDF and
// EPUB files.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"studyreader/pkg/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrPageOutOfRange    = errors.New("page out of range")
)

// ParseError wraps a failure reading a file of a supported format.
type ParseError struct {
	Format domain.Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Document is the metadata extracted from a file.
type Document struct {
	Title      string
	Author     string
	Format     domain.Format
	NumPages   int
	CoverImage string
	Size       int64
}

// SizeLabel renders Size for display, e.g. "2.4 MB".
func (d Document) SizeLabel() string {
	return SizeLabel(d.Size)
}

// Book builds the library record for the document.
func (d Document) Book() domain.Book {
	return domain.Book{
		Title:      d.Title,
		Author:     d.Author,
		Format:     d.Format,
		TotalPages: d.NumPages,
		FileSize:   d.SizeLabel(),
		CoverImage: d.CoverImage,
	}
}

func SizeLabel(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// FormatOf maps a filename extension to a supported format.
func FormatOf(filename string) (domain.Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.FormatPDF, nil
	case ".epub":
		return domain.FormatEPUB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Parse reads metadata from data. The title falls back to the file name
// when the file carries none.
func Parse(filename string, data []byte) (Document, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	switch format {
	case domain.FormatPDF:
		doc, err = parsePDF(data)
	case domain.FormatEPUB:
		doc, err = parseEPUB(data)
	}
	if err != nil {
		return Document{}, &ParseError{Format: format, Err: err}
	}
	doc.Format = format
	doc.Size = int64(len(data))
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return doc, nil
}

// PageText returns the normalized text of a 1-based page. EPUB pages are
// spine items.
func PageText(format domain.Format, data []byte, page int) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case domain.FormatPDF:
		text, err = pdfPageText(data, page)
	case domain.FormatEPUB:
		text, err = epubPageText(data, page)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		if errors.Is(err, ErrPageOutOfRange) {
			return "", err
		}
		return "", &ParseError{Format: format, Err: err}
	}
	return text, nil
}
