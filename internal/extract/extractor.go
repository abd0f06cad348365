// Package extract provides page-aware text extraction from document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
)

// Extractor extracts per-page plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its pages.
func (e *Extractor) Extract(path string) ([]models.Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts pages from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
//
// Page boundaries come from the format: PDF pages, explicit DOCX page breaks,
// XLSX sheets, PPTX slides, and form feeds in plain text. Pages are numbered
// from 1 in document order, including pages with no text, so that numbers
// match what a reader sees.
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]models.Page, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	default:
		// .txt, .md, .rst and unknown extensions are read as plain text.
		return extractPlain(content)
	}
}

// numberPages turns texts into pages numbered from 1.
func numberPages(texts []string) []models.Page {
	pages := make([]models.Page, len(texts))
	for i, t := range texts {
		pages[i] = models.Page{Number: i + 1, Text: t}
	}
	return pages
}
