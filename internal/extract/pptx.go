package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
)

// pptxSlideName matches slide XML files inside a .pptx zip and captures the slide number.
var pptxSlideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t> (and any other attributes).
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX returns one page per slide, ordered by slide number
// (zip order puts slide10 before slide2).
func extractPPTX(content []byte) ([]models.Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		slides = append(slides, slide{num: num, text: joinMatches(atTag.FindAllStringSubmatch(string(data), -1))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	texts := make([]string, len(slides))
	for i, s := range slides {
		texts[i] = strings.TrimSpace(s.text)
	}
	return numberPages(texts), nil
}
