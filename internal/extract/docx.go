package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
)

const (
	docxDefaultBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxBodyType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t> runs, with or without attributes such as xml:space="preserve".
	docxText = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	// Override elements list PartName and ContentType in either order.
	docxOverride  = regexp.MustCompile(`<Override\s[^>]*/?>`)
	docxPartName  = regexp.MustCompile(`PartName="([^"]+)"`)
	docxPageBreak = regexp.MustCompile(`<w:br\b[^>]*w:type="page"[^>]*/>`)
	docxParaEnd   = regexp.MustCompile(`</w:p>`)
)

// extractDOCX reads the main document part of a .docx package. Word does not
// store rendered pages, so explicit page breaks are the page boundaries and a
// document without any is a single page. Paragraphs become lines.
func extractDOCX(content []byte) ([]models.Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	body := docxDefaultBody
	if ct, ok := files[docxContentTypes]; ok {
		if data, err := readZipFile(ct); err == nil {
			if p := docxBodyPart(string(data)); p != "" {
				body = p
			}
		}
	}
	f, ok := files[body]
	if !ok {
		return nil, fmt.Errorf("extract DOCX: %s not found", body)
	}
	xml, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}

	sections := docxPageBreak.Split(string(xml), -1)
	texts := make([]string, len(sections))
	for i, section := range sections {
		var lines []string
		for _, para := range docxParaEnd.Split(section, -1) {
			if line := joinMatches(docxText.FindAllStringSubmatch(para, -1)); line != "" {
				lines = append(lines, line)
			}
		}
		texts[i] = strings.Join(lines, "\n")
	}
	return numberPages(texts), nil
}

// docxBodyPart returns the main document part named in [Content_Types].xml,
// without its leading slash, or "".
func docxBodyPart(contentTypes string) string {
	for _, el := range docxOverride.FindAllString(contentTypes, -1) {
		if !strings.Contains(el, `ContentType="`+docxBodyType+`"`) {
			continue
		}
		if m := docxPartName.FindStringSubmatch(el); m != nil {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// joinMatches joins the unescaped first capture group of each match with
// single spaces, skipping blank runs.
func joinMatches(parts [][]string) string {
	var b strings.Builder
	for _, p := range parts {
		text := strings.TrimSpace(html.UnescapeString(p[1]))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
