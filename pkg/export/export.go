// Package export writes processed tables to disk in the supported output
// formats. Files are written to a temporary sibling first and renamed into
// place, so a failed run never leaves a truncated output behind.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Format selects the output encoding.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", errors.New(errors.CodeOutput, "unsupported output format "+s).
			WithContext("supported", "xlsx, csv, parquet")
	}
}

// FormatFromPath infers the format from a file extension, defaulting to xlsx.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	default:
		return FormatXLSX
	}
}

// Extension returns the canonical file extension for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// Save writes t to path in the given format, atomically.
func Save(t *dataset.Table, path string, format Format) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".soilflow-*"+format.Extension())
	if err != nil {
		return errors.OutputError(path, err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(t, tmp, format); err != nil {
		tmp.Close()
		return errors.OutputError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.OutputError(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}

// Write encodes t onto w in the given format.
func Write(t *dataset.Table, w io.Writer, format Format) error {
	switch format {
	case FormatCSV:
		return writeCSV(t, w)
	case FormatParquet:
		return writeParquet(t, w)
	default:
		return dataset.WriteXLSX(t, w)
	}
}

func writeCSV(t *dataset.Table, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return err
	}
	record := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, v := range t.Row(i) {
			record[j] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
