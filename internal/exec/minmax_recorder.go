package exec

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/memory"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

// MinMaxRecorder collects the value range of every float model input and of
// the first output of every operation, and appends one run per job to its
// dumper. Tensors of other element types are skipped.
type MinMaxRecorder struct {
	NopObserver

	dumper   *RawMinMaxDumper
	registry *memory.TensorRegistry
	model    uint32
	inputs   MinMaxMap
	ops      MinMaxMap
	lastErr  error
}

func NewMinMaxRecorder(dumper *RawMinMaxDumper) *MinMaxRecorder {
	return &MinMaxRecorder{dumper: dumper}
}

// Err returns the error of the most recent dump.
func (r *MinMaxRecorder) Err() error { return r.lastErr }

func (r *MinMaxRecorder) JobBegin(e *LinearExecutor) {
	r.registry = e.Tensors()
	r.model = e.Model().Value()
	r.inputs = make(MinMaxMap)
	r.ops = make(MinMaxMap)

	for i, idx := range e.Graph().Inputs() {
		t := e.Tensors().Tensor(idx)
		if t == nil {
			continue
		}
		if mm, ok := TensorMinMax(t); ok {
			key := MinMaxKey{Model: r.model, Subgraph: e.Subgraph().Value(), Index: uint32(i)}
			r.inputs[key] = mm
		}
	}
}

func (r *MinMaxRecorder) OpEnd(subg ir.SubgraphIndex, code *CodeAndInfo) {
	outputs := code.Op.Outputs.Defined()
	if len(outputs) == 0 || r.ops == nil {
		return
	}
	t := r.registry.Tensor(outputs[0])
	if t == nil {
		return
	}
	if mm, ok := TensorMinMax(t); ok {
		r.ops[MinMaxKey{Model: r.model, Subgraph: subg.Value(), Index: code.OpIndex.Value()}] = mm
	}
}

func (r *MinMaxRecorder) JobEnd(e *LinearExecutor, err error) {
	if err != nil {
		return
	}
	r.lastErr = r.dumper.Dump(r.inputs, r.ops)
	metrics.RecordMinMaxDump(r.lastErr)
	if r.lastErr != nil {
		logger.Log.Error("minmax dump failed", r.lastErr, "path", r.dumper.Path())
	}
}

// TensorMinMax scans a float32 or float16 tensor. It reports false for other
// element types and for empty buffers.
func TensorMinMax(t *memory.Tensor) (MinMax, bool) {
	if t.IsDynamic() {
		return MinMax{}, false
	}
	// Planned buffers may carry alignment padding past the last element.
	n := t.Info().Shape.NumElements()
	buf := t.Buffer()
	if n == 0 || len(buf) < t.TotalSize() {
		return MinMax{}, false
	}
	switch t.Info().Type.Type {
	case ir.Float32:
		mm := MinMax{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
		for i := 0; i < n; i++ {
			v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			mm.Min = min(mm.Min, v)
			mm.Max = max(mm.Max, v)
		}
		return mm, true
	case ir.Float16:
		mm := MinMax{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
		for i := 0; i < n; i++ {
			v := float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
			mm.Min = min(mm.Min, v)
			mm.Max = max(mm.Max, v)
		}
		return mm, true
	}
	return MinMax{}, false
}
