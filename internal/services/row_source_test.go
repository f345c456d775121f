package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestOpenRowSourceCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "films.csv")
	content := "\xEF\xBB\xBFimdbid, title ,description\n" +
		"tt0068646,The Godfather,\"A crime family, in decline\"\n" +
		",,\n" +
		"tt0113277,Heat\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}

	src, err := OpenRowSource(path)
	if err != nil {
		t.Fatalf("OpenRowSource failed: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Expected blank rows skipped and 2 rows kept, got %d", src.Len())
	}
	if !HasColumn(src, "imdbid") || !HasColumn(src, "title") {
		t.Errorf("Expected BOM and padding stripped from headers, got %v", src.Headers())
	}

	row, err := src.Row(0)
	if err != nil {
		t.Fatalf("Row failed: %v", err)
	}
	if row["imdbid"] != "tt0068646" || row["description"] != "A crime family, in decline" {
		t.Errorf("Unexpected row %v", row)
	}
	short, _ := src.Row(1)
	if short["title"] != "Heat" || short["description"] != "" {
		t.Errorf("Expected missing cells to be empty, got %v", short)
	}
	if _, err := src.Row(2); err == nil {
		t.Errorf("Expected out of range error")
	}
}

func TestOpenRowSourceWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "films.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"imdbid", "title"},
		{"tt0110912", "Pulp Fiction"},
		{"tt0133093", "The Matrix"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := r
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("SetSheetRow failed: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs failed: %v", err)
	}
	f.Close()

	src, err := OpenRowSource(path)
	if err != nil {
		t.Fatalf("OpenRowSource failed: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", src.Len())
	}
	row, _ := src.Row(1)
	if row["title"] != "The Matrix" {
		t.Errorf("Expected The Matrix, got %v", row)
	}

	// the same file must decode to the same order every time
	again, _ := OpenRowSource(path)
	for i := 0; i < src.Len(); i++ {
		a, _ := src.Row(i)
		b, _ := again.Row(i)
		if a["imdbid"] != b["imdbid"] {
			t.Errorf("Row %d differs between reads", i)
		}
	}
}

func TestOpenRowSourceRejectsUnknownTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.exe")
	os.WriteFile(path, []byte("MZ"), 0644)
	if _, err := OpenRowSource(path); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.csv")
	os.WriteFile(empty, nil, 0644)
	if _, err := OpenRowSource(empty); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty csv, got %v", err)
	}
}
