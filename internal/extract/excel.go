package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each non-empty sheet under a "Sheet: name" line with one
// tab-separated line per row. Blank rows and trailing empty cells are dropped.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		wroteHeader := false
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(trimTrailingEmpty(row), "\t"), " \t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !wroteHeader {
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				fmt.Fprintf(&buf, "Sheet: %s\n", sheet)
				wroteHeader = true
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
