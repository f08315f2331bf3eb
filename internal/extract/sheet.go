package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/foliolabs/folio/internal/store"
)

// sheetRowsPerBlock controls how many data rows are rendered into one
// block. Each block repeats the header row so retrieval hits remain
// self-describing.
const sheetRowsPerBlock = 20

// SheetExtractor renders CSV exported from a spreadsheet into row-group
// blocks. The first row is treated as the header and rendered into
// every block as "header: value" lines.
type SheetExtractor struct {
	// SheetName labels locations; the export flattens to one sheet so
	// callers pass the file name.
	SheetName string
}

func (s SheetExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	doc := &Document{}
	if len(rows) == 0 {
		return doc, nil
	}

	header := rows[0]
	body := rows[1:]
	for start := 0; start < len(body); start += sheetRowsPerBlock {
		end := start + sheetRowsPerBlock
		if end > len(body) {
			end = len(body)
		}
		var b strings.Builder
		for i, row := range body[start:end] {
			if i > 0 {
				b.WriteString("\n")
			}
			// 1-based, skipping the header row.
			fmt.Fprintf(&b, "Row %d:", start+i+2)
			for col, val := range row {
				if strings.TrimSpace(val) == "" {
					continue
				}
				name := fmt.Sprintf("col%d", col+1)
				if col < len(header) && strings.TrimSpace(header[col]) != "" {
					name = strings.TrimSpace(header[col])
				}
				fmt.Fprintf(&b, " %s=%s;", name, strings.TrimSpace(val))
			}
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{
			Text: text,
			Location: store.Location{
				Type:      "sheet",
				SheetName: s.SheetName,
				RowRange:  fmt.Sprintf("%d-%d", start+2, end+1),
			},
		})
	}
	return doc, nil
}
