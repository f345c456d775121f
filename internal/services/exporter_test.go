package services

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/titlesync/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

func exportFixture() (*models.Job, []models.TranslationRecord) {
	job := &models.Job{
		Kind:                   models.JobKindCMS,
		Languages:              []string{"es", "de"},
		IncludeMetaDescription: true,
	}
	records := []models.TranslationRecord{
		{
			RowKey: "tt1", OriginalTitle: "Heat", OriginalBody: "Cops and robbers", Permalink: "/film/heat",
			Variants: []models.LocalizedVariant{
				{Language: "de", Title: "Heat", Body: "Polizisten", MetaDescription: "de meta"},
				{Language: "es", Title: "Fuego contra fuego", Body: "Policías", MetaDescription: "es meta"},
			},
		},
		{
			RowKey: "tt2", OriginalTitle: "Alien",
			Variants: []models.LocalizedVariant{
				{Language: "es", Title: "Alien, el octavo pasajero"},
				{Language: "de", Title: "Alien"},
			},
		},
	}
	return job, records
}

func TestExportTableColumns(t *testing.T) {
	job, records := exportFixture()
	table := ExportTable(job, records)

	wantHeader := []string{"row_key", "title", "body", "permalink",
		"es title", "es body", "es meta description",
		"de title", "de body", "de meta description"}
	if len(table[0]) != len(wantHeader) {
		t.Fatalf("Expected header %v, got %v", wantHeader, table[0])
	}
	for i := range wantHeader {
		if table[0][i] != wantHeader[i] {
			t.Errorf("Header %d: expected %q, got %q", i, wantHeader[i], table[0][i])
		}
	}
	// variants are placed by language, not by stored order
	if table[1][4] != "Fuego contra fuego" || table[1][7] != "Heat" {
		t.Errorf("Variants misplaced: %v", table[1])
	}
	if len(table) != 3 {
		t.Errorf("Expected 2 data rows, got %d", len(table)-1)
	}
}

func TestWriteExportCSVAndXLSX(t *testing.T) {
	job, records := exportFixture()
	table := ExportTable(job, records)

	var buf bytes.Buffer
	if err := WriteExport(&buf, ExportCSV, table); err != nil {
		t.Fatalf("CSV export failed: %v", err)
	}
	parsed, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read back csv: %v", err)
	}
	if len(parsed) != 3 || parsed[2][4] != "Alien, el octavo pasajero" {
		t.Errorf("Unexpected csv content %v", parsed)
	}

	buf.Reset()
	if err := WriteExport(&buf, ExportXLSX, table); err != nil {
		t.Fatalf("XLSX export failed: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("Failed to open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("Failed to read sheet: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "tt1" {
		t.Errorf("Unexpected xlsx rows %v", rows)
	}

	if err := WriteExport(&buf, "pdf", table); err == nil {
		t.Errorf("Expected unsupported format error")
	}
}
