package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RowSource is a decoded tabular file. Row order is stable across re-reads
// of the same file, so a row index is a durable cursor.
type RowSource interface {
	Headers() []string
	Len() int
	Row(i int) (map[string]string, error)
}

// RowSourceOpener opens the row source stored at path.
type RowSourceOpener func(path string) (RowSource, error)

// SupportedUploadExtensions lists the file types OpenRowSource understands.
var SupportedUploadExtensions = []string{".csv", ".xlsx", ".xlsm"}

type tableSource struct {
	headers []string
	index   map[string]int
	rows    [][]string
}

// OpenRowSource decodes a .csv or the first sheet of an .xlsx/.xlsm file.
func OpenRowSource(path string) (RowSource, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(path)
	case ".xlsx", ".xlsm":
		records, err = readWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrValidation, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return newTableSource(records)
}

func newTableSource(records [][]string) (*tableSource, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", ErrValidation)
	}
	src := &tableSource{index: make(map[string]int)}
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		src.headers = append(src.headers, h)
		if _, dup := src.index[h]; !dup && h != "" {
			src.index[h] = i
		}
	}
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		src.rows = append(src.rows, rec)
	}
	return src, nil
}

func (s *tableSource) Headers() []string { return s.headers }

func (s *tableSource) Len() int { return len(s.rows) }

func (s *tableSource) Row(i int) (map[string]string, error) {
	if i < 0 || i >= len(s.rows) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, len(s.rows))
	}
	rec := s.rows[i]
	row := make(map[string]string, len(s.index))
	for name, col := range s.index {
		if col < len(rec) {
			row[name] = strings.TrimSpace(rec[col])
		} else {
			row[name] = ""
		}
	}
	return row, nil
}

// HasColumn reports whether the header row names column.
func HasColumn(src RowSource, column string) bool {
	for _, h := range src.Headers() {
		if h == column {
			return true
		}
	}
	return false
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = stripBOM(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv: %v", ErrValidation, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open workbook: %v", ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
