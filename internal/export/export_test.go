package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

func sampleDocs() []models.DocumentSummary {
	class, conf := "invoice", 0.91
	return []models.DocumentSummary{
		{
			FileName:       "0011223344556677_invoice.pdf",
			Classification: &class,
			Confidence:     &conf,
			UploadedAt:     time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
			Warnings:       []string{},
		},
		{
			FileName:   "8899aabbccddeeff_blob.bin",
			UploadedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			Warnings:   []string{"processing delegate rejected document", "no text"},
		},
	}
}

func TestXLSX(t *testing.T) {
	data, err := XLSX(sampleDocs())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "0011223344556677_invoice.pdf", rows[1][0])
	assert.Equal(t, "invoice", rows[1][1])
	assert.Equal(t, "0.91", rows[1][2])
	assert.Equal(t, "2024-05-01T09:30:00Z", rows[1][4])
	assert.Equal(t, "processing delegate rejected document; no text", rows[2][3])
}

func TestXLSX_EmptyHasHeaderOnly(t *testing.T) {
	data, err := XLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestXLSX_SetsColumnWidths(t *testing.T) {
	data, err := XLSX(sampleDocs())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	for _, cw := range columnWidths {
		w, err := f.GetColWidth(SheetName, cw.col)
		require.NoError(t, err)
		assert.Equal(t, cw.width, w, cw.col)
	}
}

func TestSetRowReportsInvalidCell(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", SheetName))

	assert.Error(t, setRow(f, 0, "a", "b"))
	assert.NoError(t, setRow(f, 1, "a", "b"))
}

func TestRender(t *testing.T) {
	data, err := Render(FormatJSON, sampleDocs())
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "invoice", out[0]["classification"])
	assert.Nil(t, out[1]["classification"])

	data, err = Render(FormatJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = Render("csv", nil)
	assert.Error(t, err)
}

func TestContentTypeAndFilename(t *testing.T) {
	assert.Equal(t, "application/json", ContentType(FormatJSON))
	assert.Contains(t, ContentType(FormatXLSX), "spreadsheetml")
	assert.Empty(t, ContentType("pdf"))

	at := time.Date(2024, 5, 1, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "documents-20240501-093005.xlsx", Filename(FormatXLSX, at))
}
