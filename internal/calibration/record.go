// Package calibration ships recorded min/max ranges to a quantization
// service as Arrow records.
package calibration

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-lattice/internal/exec"
)

const (
	KindInput = "input"
	KindOp    = "op"
)

// Schema has one row per recorded tensor of every run.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "run", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "model", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "subgraph", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "index", Type: arrow.PrimitiveTypes.Uint32},
	{Name: "min", Type: arrow.PrimitiveTypes.Float32},
	{Name: "max", Type: arrow.PrimitiveTypes.Float32},
}, nil)

// Row is the Go form of one record row.
type Row struct {
	Run  uint32
	Kind string
	Key  exec.MinMaxKey
	exec.MinMax
}

// Rows flattens a dump, inputs before ops within each run.
func Rows(file *exec.MinMaxFile) []Row {
	var rows []Row
	for i, run := range file.Runs {
		for _, r := range run.Inputs {
			rows = append(rows, Row{Run: uint32(i), Kind: KindInput, Key: r.Key, MinMax: r.MinMax})
		}
		for _, r := range run.Ops {
			rows = append(rows, Row{Run: uint32(i), Kind: KindOp, Key: r.Key, MinMax: r.MinMax})
		}
	}
	return rows
}

// BuildRecord converts rows into a record of Schema. The caller releases it.
func BuildRecord(mem memory.Allocator, rows []Row) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	run := b.Field(0).(*array.Uint32Builder)
	kind := b.Field(1).(*array.StringBuilder)
	model := b.Field(2).(*array.Uint32Builder)
	subgraph := b.Field(3).(*array.Uint32Builder)
	index := b.Field(4).(*array.Uint32Builder)
	lo := b.Field(5).(*array.Float32Builder)
	hi := b.Field(6).(*array.Float32Builder)

	for _, r := range rows {
		run.Append(r.Run)
		kind.Append(r.Kind)
		model.Append(r.Key.Model)
		subgraph.Append(r.Key.Subgraph)
		index.Append(r.Key.Index)
		lo.Append(r.Min)
		hi.Append(r.Max)
	}
	return b.NewRecord()
}

// ReadRows is the inverse of BuildRecord.
func ReadRows(rec arrow.Record) []Row {
	run := rec.Column(0).(*array.Uint32)
	kind := rec.Column(1).(*array.String)
	model := rec.Column(2).(*array.Uint32)
	subgraph := rec.Column(3).(*array.Uint32)
	index := rec.Column(4).(*array.Uint32)
	lo := rec.Column(5).(*array.Float32)
	hi := rec.Column(6).(*array.Float32)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			Run:    run.Value(i),
			Kind:   kind.Value(i),
			Key:    exec.MinMaxKey{Model: model.Value(i), Subgraph: subgraph.Value(i), Index: index.Value(i)},
			MinMax: exec.MinMax{Min: lo.Value(i), Max: hi.Value(i)},
		}
	}
	return rows
}
