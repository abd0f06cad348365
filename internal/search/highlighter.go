package search

import (
	"strings"

	"github.com/hyperjump/hondana/pkg/utils"
)

// PreviewLength is the preview size shown next to each source.
const PreviewLength = 200

// Preview flattens whitespace in a passage and truncates it to maxLen runes.
func Preview(text string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(text), " "), maxLen)
}
