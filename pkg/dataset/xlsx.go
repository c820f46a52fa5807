package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// LoadXLSX reads the first sheet of an Excel workbook into a Table. The first
// row is the header; unnamed header cells get positional names.
func LoadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// LoadXLSXReader reads a workbook from a stream (uploads, remote objects).
func LoadXLSXReader(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) (*Table, error) {
	// First sheet, falling back to the sheet list when unnamed.
	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets found in xlsx file")
		}
		sheetName = sheets[0]
	}

	// Streaming row reader keeps memory flat on wide surveys.
	rows, err := f.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("xlsx file is empty")
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := normalizeHeader(header)
	t := New(cols)

	for rows.Next() {
		raw, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", t.NumRows()+2, err)
		}
		if err := t.AppendRow(parseCells(raw, len(cols))); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// normalizeHeader trims trailing empty header cells and names interior empty
// ones positionally.
func normalizeHeader(header []string) []string {
	end := len(header)
	for end > 0 && header[end-1] == "" {
		end--
	}

	cols := make([]string, end)
	for i := 0; i < end; i++ {
		if header[i] == "" {
			cols[i] = fmt.Sprintf("column_%d", i+1)
		} else {
			cols[i] = header[i]
		}
	}
	return cols
}

// parseCells pads or truncates a raw row to width and parses each cell.
func parseCells(raw []string, width int) []Value {
	cells := make([]Value, width)
	for i := 0; i < width; i++ {
		if i < len(raw) {
			cells[i] = Parse(raw[i])
		} else {
			cells[i] = Missing
		}
	}
	return cells
}

// SaveXLSX writes the table as a single-sheet workbook. The write is atomic:
// the workbook lands at path only after a successful full write.
func SaveXLSX(t *Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"

	header := make([]interface{}, t.NumCols())
	for i, c := range t.Columns() {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for r := 0; r < t.NumRows(); r++ {
		cells := make([]interface{}, t.NumCols())
		for c := 0; c < t.NumCols(); c++ {
			cells[c] = cellValue(t.Cell(r, c))
		}
		addr, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+1, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".soilflow-*.xlsx")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := f.SaveAs(tmpName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteXLSX writes the workbook to a stream (downloads).
func WriteXLSX(t *Table, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"

	header := make([]interface{}, t.NumCols())
	for i, c := range t.Columns() {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for r := 0; r < t.NumRows(); r++ {
		cells := make([]interface{}, t.NumCols())
		for c := 0; c < t.NumCols(); c++ {
			cells[c] = cellValue(t.Cell(r, c))
		}
		addr, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// cellValue maps a Value to what excelize should store. Missing cells stay
// blank.
func cellValue(v Value) interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindText:
		return v.Str
	}
	return nil
}
