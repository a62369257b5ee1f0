// Package pdfutil extracts plain text from PDF documents for indexing.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	pdf "github.com/ledongthuc/pdf"
)

// MaxBytes caps how much of a document ExtractFromReader buffers.
const MaxBytes = 64 << 20

// ErrTooLarge is returned when a document exceeds MaxBytes.
var ErrTooLarge = errors.New("pdf exceeds extraction size limit")

// ExtractText returns the text of every page, one line per page, with runs
// of whitespace collapsed.
func ExtractText(r io.ReaderAt, size int64) (string, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if text := Normalize(content); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// ExtractFromReader buffers r, up to MaxBytes, and extracts its text.
func ExtractFromReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}
	return ExtractText(bytes.NewReader(data), int64(len(data)))
}

// Normalize collapses whitespace runs to single spaces and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
