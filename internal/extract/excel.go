package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
	"github.com/xuri/excelize/v2"
)

// extractExcel returns one page per sheet, rows joined by newlines and cells by tabs.
func extractExcel(content []byte) ([]models.Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	texts := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		texts = append(texts, strings.TrimSpace(buf.String()))
	}
	return numberPages(texts), nil
}
