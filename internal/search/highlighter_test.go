package search

import (
	"strings"
	"testing"
)

func TestPreview(t *testing.T) {
	if got := Preview("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Preview("line one\n\nline   two", 0); got != "line one line two" {
		t.Errorf("whitespace not flattened: %q", got)
	}
	if got := Preview("long text here", 4); got != "long..." {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("é", PreviewLength+5)
	if got := Preview(long, PreviewLength); len([]rune(got)) != PreviewLength+3 {
		t.Errorf("preview has %d runes", len([]rune(got)))
	}
}
