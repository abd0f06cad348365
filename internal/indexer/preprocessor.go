package indexer

import (
	"regexp"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\v\x{00A0}]+`)
	spaceAroundLF   = regexp.MustCompile(` ?\n ?`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Preprocess normalizes extracted text: CRLF to LF, runs of spaces and tabs
// to one space, three or more newlines to a paragraph break, trimmed.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceAroundLF.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// PreprocessPages applies Preprocess to every page, keeping page numbers.
func PreprocessPages(pages []models.Page) []models.Page {
	out := make([]models.Page, len(pages))
	for i, p := range pages {
		out[i] = models.Page{Number: p.Number, Text: Preprocess(p.Text)}
	}
	return out
}
