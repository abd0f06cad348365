package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/hondana/internal/models"
)

// pageBreak separates pages in plain-text dumps (pdftotext and friends emit it).
const pageBreak = "\f"

// extractPlain returns content split into pages on form feeds. Invalid UTF-8
// sequences are replaced with the replacement character.
func extractPlain(content []byte) ([]models.Page, error) {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return numberPages(strings.Split(s, pageBreak)), nil
}
