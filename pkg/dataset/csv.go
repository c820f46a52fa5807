package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/soilflow/soilflow/pkg/util"
)

// LoadCSV reads a comma-separated file into a Table. The first record is the
// header.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSVReader(f)
}

// LoadCSVReader reads CSV from a stream.
func LoadCSVReader(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // ragged rows are padded below

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := normalizeHeader(header)
	t := New(cols)

	for {
		raw, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", t.NumRows()+2, err)
		}
		if err := t.AppendRow(parseCells(raw, len(cols))); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Format identifies a dataset file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// DetectFormat picks a loader from the file extension, looking through a
// trailing .gz. Spreadsheets are the default.
func DetectFormat(path string) Format {
	switch util.BaseExt(path) {
	case ".csv":
		return FormatCSV
	default:
		return FormatXLSX
	}
}

// Load reads a dataset file, dispatching on its extension. Gzip-compressed
// files decompress transparently.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := util.OpenReader(f, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return LoadReader(r, DetectFormat(path))
}

// LoadReader reads a dataset from a stream in the given format.
func LoadReader(r io.Reader, format Format) (*Table, error) {
	switch format {
	case FormatCSV:
		return LoadCSVReader(r)
	default:
		return LoadXLSXReader(r)
	}
}
