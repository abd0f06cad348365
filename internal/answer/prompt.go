package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/hondana/internal/models"
)

const groundedPreamble = "Answer the question using the sources below. " +
	"Cite the sources you use as [Source N].\n\n"

// sourceHeading labels a passage in the grounded prompt.
func sourceHeading(n int, p models.Passage) string {
	return fmt.Sprintf("[Source %d] %s, page %d", n, p.Title, p.Page)
}

// groundedPrompt embeds passages in rank order while the prompt stays within
// maxChars runes. The first passage is always included. It returns the prompt
// and the passages that made it in.
func groundedPrompt(question string, passages []models.Passage, maxChars int) (string, []models.Passage) {
	tail := "Question: " + question + "\n"
	used := utf8.RuneCountInString(groundedPreamble) + utf8.RuneCountInString(tail)

	var body strings.Builder
	included := make([]models.Passage, 0, len(passages))
	for i, p := range passages {
		block := sourceHeading(i+1, p) + "\n" + p.Text + "\n\n"
		n := utf8.RuneCountInString(block)
		if len(included) > 0 && used+n > maxChars {
			break
		}
		body.WriteString(block)
		used += n
		included = append(included, p)
	}
	return groundedPreamble + body.String() + tail, included
}

// generalPrompt is the question alone.
func generalPrompt(question string) string {
	return question
}

// citations returns the (title, page) pairs of passages in order, without
// duplicates, and a preview source for the first passage of each.
func citations(passages []models.Passage, previewLen int, preview func(string, int) string) ([]models.Citation, []models.Source) {
	seen := make(map[models.Citation]bool, len(passages))
	cites := make([]models.Citation, 0, len(passages))
	sources := make([]models.Source, 0, len(passages))
	for _, p := range passages {
		c := models.Citation{Title: p.Title, Page: p.Page}
		if seen[c] {
			continue
		}
		seen[c] = true
		cites = append(cites, c)
		sources = append(sources, models.Source{Citation: c, Preview: preview(p.Text, previewLen), Score: p.Score})
	}
	return cites, sources
}
