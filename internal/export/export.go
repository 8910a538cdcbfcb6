// Package export renders recent-document listings as downloadable files.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

const (
	FormatXLSX = "xlsx"
	FormatJSON = "json"

	SheetName = "Documents"
)

var headers = []string{"File", "Type", "Confidence", "Warnings", "Uploaded At"}

var columnWidths = []struct {
	col   string
	width float64
}{
	{"A", 48},
	{"B", 16},
	{"C", 12},
	{"D", 60},
	{"E", 24},
}

// ContentType returns the MIME type for format, or "" if it is unknown.
func ContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return ""
	}
}

// Filename is the attachment name for an export generated at t.
func Filename(format string, t time.Time) string {
	return fmt.Sprintf("documents-%s.%s", t.UTC().Format("20060102-150405"), format)
}

func Render(format string, docs []models.DocumentSummary) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return XLSX(docs)
	case FormatJSON:
		return JSON(docs)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func JSON(docs []models.DocumentSummary) ([]byte, error) {
	if docs == nil {
		docs = []models.DocumentSummary{}
	}
	return json.MarshalIndent(docs, "", "  ")
}

func XLSX(docs []models.DocumentSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := setRow(f, 1, header...); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, d := range docs {
		var class, confidence any = "", ""
		if d.Classification != nil {
			class = *d.Classification
		}
		if d.Confidence != nil {
			confidence = *d.Confidence
		}
		err := setRow(f, i+2,
			d.FileName,
			class,
			confidence,
			strings.Join(d.Warnings, "; "),
			d.UploadedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", d.FileName, err)
		}
	}

	for _, cw := range columnWidths {
		if err := f.SetColWidth(SheetName, cw.col, cw.col, cw.width); err != nil {
			return nil, fmt.Errorf("column %s width: %w", cw.col, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// setRow writes values into row starting at column A and stops at the first
// failing cell.
func setRow(f *excelize.File, row int, values ...any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, v); err != nil {
			return err
		}
	}
	return nil
}
