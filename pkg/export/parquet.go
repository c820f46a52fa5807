package export

import (
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/soilflow/soilflow/pkg/dataset"
)

// tableSchema maps table columns onto an Arrow schema: numeric columns
// become nullable float64, everything else nullable string.
func tableSchema(t *dataset.Table) *arrow.Schema {
	fields := make([]arrow.Field, t.NumCols())
	for i, name := range t.Columns() {
		typ := arrow.BinaryTypes.String
		if t.IsNumeric(i) {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// writeParquet encodes the whole table as a single record batch. Runs
// produce at most a few thousand rows, so there is nothing to stream.
func writeParquet(t *dataset.Table, w io.Writer) error {
	allocator := memory.NewGoAllocator()
	schema := tableSchema(t)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return err
	}

	builders := make([]array.Builder, t.NumCols())
	for i, field := range schema.Fields() {
		if field.Type == arrow.PrimitiveTypes.Float64 {
			builders[i] = array.NewFloat64Builder(allocator)
		} else {
			builders[i] = array.NewStringBuilder(allocator)
		}
		builders[i].Reserve(t.NumRows())
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for r := 0; r < t.NumRows(); r++ {
		for c, v := range t.Row(r) {
			appendCell(builders[c], v)
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
		defer arrays[i].Release()
	}

	rec := array.NewRecord(schema, arrays, int64(t.NumRows()))
	defer rec.Release()

	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

func appendCell(b array.Builder, v dataset.Value) {
	switch builder := b.(type) {
	case *array.Float64Builder:
		if f, ok := v.Float(); ok {
			builder.Append(f)
		} else {
			builder.AppendNull()
		}
	case *array.StringBuilder:
		if v.IsMissing() {
			builder.AppendNull()
		} else {
			builder.Append(v.String())
		}
	}
}
