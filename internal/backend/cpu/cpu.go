// Package cpu is the reference backend. Its kernels work on the raw little
// endian buffers of float32 and float16 tensors.
package cpu

import (
	"encoding/binary"
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/memory"
)

const Name = "cpu"

// parallelThreshold is the element count above which kernels split work
// across goroutines.
const parallelThreshold = 1 << 14

var (
	ErrUnsupportedOp   = errors.New("cpu: unsupported operation")
	ErrUnsupportedType = errors.New("cpu: unsupported data type")
	ErrShapeMismatch   = errors.New("cpu: shape mismatch")
)

type Backend struct{}

func New() *Backend { return &Backend{} }

func (*Backend) Name() string { return Name }

// Generate binds op to its tensors. Buffers are read when the function runs,
// so it may be generated before memory is allocated.
func (*Backend) Generate(op *ir.Operation, inputs, outputs []*memory.Tensor) (exec.Function, error) {
	switch op.Code {
	case ir.OpAdd:
		return binary2(op, inputs, outputs, func(a, b float32) float32 { return a + b })
	case ir.OpMul:
		return binary2(op, inputs, outputs, func(a, b float32) float32 { return a * b })
	case ir.OpRelu:
		if err := arity(op, inputs, outputs, 1); err != nil {
			return nil, err
		}
		in, out := inputs[0], outputs[0]
		if err := sameType(in, out); err != nil {
			return nil, err
		}
		if in.Info().Shape.NumElements() != out.Info().Shape.NumElements() {
			return nil, errors.Wrapf(ErrShapeMismatch, "RELU %s -> %s", in.Info().Shape, out.Info().Shape)
		}
		return exec.FunctionFunc(func() error {
			dt := in.Info().Type.Type
			src, dst := in.Buffer(), out.Buffer()
			parallelFor(in.Info().Shape.NumElements(), func(start, end int) {
				for i := start; i < end; i++ {
					store(dt, dst, i, max(load(dt, src, i), 0))
				}
			})
			return nil
		}), nil
	case ir.OpReshape:
		// The optional second input carries the target shape, which the
		// output operand already has.
		if len(inputs) < 1 || len(outputs) != 1 || inputs[0] == nil || outputs[0] == nil {
			return nil, errors.Wrap(ErrUnsupportedOp, "RESHAPE needs one data input and one output")
		}
		in, out := inputs[0], outputs[0]
		if in.TotalSize() != out.TotalSize() {
			return nil, errors.Wrapf(ErrShapeMismatch, "RESHAPE %s -> %s", in.Info().Shape, out.Info().Shape)
		}
		return exec.FunctionFunc(func() error {
			copy(out.Buffer()[:out.TotalSize()], in.Buffer()[:in.TotalSize()])
			return nil
		}), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedOp, "%s", op.Code)
	}
}

// binary2 builds an elementwise kernel. The second operand is either the same
// size as the first or a single element broadcast over it.
func binary2(op *ir.Operation, inputs, outputs []*memory.Tensor, fn func(a, b float32) float32) (exec.Function, error) {
	if err := arity(op, inputs, outputs, 2); err != nil {
		return nil, err
	}
	a, b, out := inputs[0], inputs[1], outputs[0]
	if err := sameType(a, b, out); err != nil {
		return nil, err
	}
	n := a.Info().Shape.NumElements()
	nb := b.Info().Shape.NumElements()
	if out.Info().Shape.NumElements() != n || (nb != n && nb != 1) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s %s, %s -> %s", op.Code, a.Info().Shape, b.Info().Shape, out.Info().Shape)
	}
	return exec.FunctionFunc(func() error {
		dt := a.Info().Type.Type
		ab, bb, ob := a.Buffer(), b.Buffer(), out.Buffer()
		if nb == 1 {
			s := load(dt, bb, 0)
			parallelFor(n, func(start, end int) {
				for i := start; i < end; i++ {
					store(dt, ob, i, fn(load(dt, ab, i), s))
				}
			})
			return nil
		}
		parallelFor(n, func(start, end int) {
			for i := start; i < end; i++ {
				store(dt, ob, i, fn(load(dt, ab, i), load(dt, bb, i)))
			}
		})
		return nil
	}), nil
}

func arity(op *ir.Operation, inputs, outputs []*memory.Tensor, nIn int) error {
	if len(inputs) != nIn || len(outputs) != 1 {
		return errors.Wrapf(ErrUnsupportedOp, "%s takes %d inputs and 1 output, got %d and %d", op.Code, nIn, len(inputs), len(outputs))
	}
	for _, t := range append(append([]*memory.Tensor{}, inputs...), outputs...) {
		if t == nil {
			return errors.Wrapf(ErrUnsupportedOp, "%s with an omitted operand", op.Code)
		}
		if t.IsDynamic() {
			return errors.Wrapf(ErrShapeMismatch, "%s on dynamic shape %s", op.Code, t.Info().Shape)
		}
	}
	return nil
}

func sameType(ts ...*memory.Tensor) error {
	dt := ts[0].Info().Type.Type
	if dt != ir.Float32 && dt != ir.Float16 {
		return errors.Wrapf(ErrUnsupportedType, "%s", dt)
	}
	for _, t := range ts[1:] {
		if t.Info().Type.Type != dt {
			return errors.Wrapf(ErrUnsupportedType, "mixed %s and %s", dt, t.Info().Type.Type)
		}
	}
	return nil
}

func load(dt ir.DataType, buf []byte, i int) float32 {
	if dt == ir.Float16 {
		return float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
}

func store(dt ir.DataType, buf []byte, i int, v float32) {
	if dt == ir.Float16 {
		binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		return
	}
	binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
}

// parallelFor splits [0, n) into one chunk per CPU for large n.
func parallelFor(n int, fn func(start, end int)) {
	if n < parallelThreshold {
		fn(0, n)
		return
	}
	parallelism := runtime.NumCPU()
	chunkSize := (n + parallelism - 1) / parallelism
	var wg sync.WaitGroup
	for i := 0; i < n; i += chunkSize {
		end := min(i+chunkSize, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(i, end)
	}
	wg.Wait()
}
