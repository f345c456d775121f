package services

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/titlesync/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

type ExportFormat string

const (
	ExportXLSX ExportFormat = "xlsx"
	ExportCSV  ExportFormat = "csv"
)

const exportSheet = "Translations"

// ContentType returns the MIME type of an export in format f.
func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// ExportTable lays records out as a header row followed by one row per
// record, with one column group per configured language.
func ExportTable(job *models.Job, records []models.TranslationRecord) [][]string {
	withPermalink := job.Kind == models.JobKindCMS || job.Columns.Permalink != ""

	header := []string{"row_key", "title", "body"}
	if withPermalink {
		header = append(header, "permalink")
	}
	for _, lang := range job.Languages {
		header = append(header, lang+" title", lang+" body")
		if job.IncludeMetaDescription {
			header = append(header, lang+" meta description")
		}
	}

	table := make([][]string, 0, len(records)+1)
	table = append(table, header)
	for _, rec := range records {
		row := []string{rec.RowKey, rec.OriginalTitle, rec.OriginalBody}
		if withPermalink {
			row = append(row, rec.Permalink)
		}
		for _, lang := range job.Languages {
			v, _ := rec.Variant(lang)
			row = append(row, v.Title, v.Body)
			if job.IncludeMetaDescription {
				row = append(row, v.MetaDescription)
			}
		}
		table = append(table, row)
	}
	return table
}

// WriteExport encodes table to w in format.
func WriteExport(w io.Writer, format ExportFormat, table [][]string) error {
	switch format {
	case ExportCSV:
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(table); err != nil {
			return fmt.Errorf("failed to write csv export: %w", err)
		}
		return nil
	case ExportXLSX, "":
		return writeWorkbook(w, table)
	default:
		return fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
}

func writeWorkbook(w io.Writer, table [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, row := range table {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx export: %w", err)
	}
	return nil
}
