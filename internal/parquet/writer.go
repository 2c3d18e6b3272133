package parquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/render"
	"github.com/wegman-software/footprints/internal/wkb"
)

// Schema is the column layout of exported footprints
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "way_ref", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "source", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "building", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "height", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "levels", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "node_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "centroid_lon", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "centroid_lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// AttributesToJSON renders the attributes served as OSM tags as a flat
// JSON object keyed by tag name
func AttributesToJSON(a building.Attributes) string {
	b, _ := json.Marshal(render.Tags(a, "").Map())
	return string(b)
}

// BuildingWriter writes footprints with EWKB geometry to Parquet
type BuildingWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
	total     int
}

// NewBuildingWriter creates a zstd-compressed Parquet file at path
func NewBuildingWriter(path string, batchSize int) (*BuildingWriter, error) {
	if batchSize < 1 {
		batchSize = 10000
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(Schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &BuildingWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, Schema),
		batchSize: batchSize,
	}, nil
}

// Write appends one footprint
func (w *BuildingWriter) Write(b *building.Building) error {
	geom, err := wkb.Polygon(b.Polygon)
	if err != nil {
		return fmt.Errorf("building %d: %w", b.ID, err)
	}

	w.builder.Field(0).(*array.Int64Builder).Append(b.ID)
	w.builder.Field(1).(*array.Int64Builder).Append(b.WayRef)
	w.builder.Field(2).(*array.StringBuilder).Append(b.Source)
	w.builder.Field(3).(*array.StringBuilder).Append(b.Category)
	if b.Height != nil {
		w.builder.Field(4).(*array.Float64Builder).Append(*b.Height)
	} else {
		w.builder.Field(4).AppendNull()
	}
	if b.Levels != nil {
		w.builder.Field(5).(*array.Int32Builder).Append(int32(*b.Levels))
	} else {
		w.builder.Field(5).AppendNull()
	}
	w.builder.Field(6).(*array.StringBuilder).Append(AttributesToJSON(b.Attributes))
	w.builder.Field(7).(*array.Int32Builder).Append(int32(len(b.Ring)))
	w.builder.Field(8).(*array.Float64Builder).Append(b.Centroid[0])
	w.builder.Field(9).(*array.Float64Builder).Append(b.Centroid[1])
	w.builder.Field(10).(*array.BinaryBuilder).Append(geom)

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Count returns the number of footprints written so far
func (w *BuildingWriter) Count() int {
	return w.total
}

func (w *BuildingWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *BuildingWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	// the parquet writer may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
