package cpu

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/memory"
)

func tensor(dt ir.DataType, shape ir.Shape, vals ...float32) *memory.Tensor {
	t := memory.NewTensor(memory.TensorInfo{Shape: shape, Type: ir.TypeInfo{Type: dt}})
	t.SetBuffer(make([]byte, t.TotalSize()))
	for i, v := range vals {
		store(dt, t.Buffer(), i, v)
	}
	return t
}

func values(t *memory.Tensor) []float32 {
	n := t.Info().Shape.NumElements()
	out := make([]float32, n)
	for i := range out {
		out[i] = load(t.Info().Type.Type, t.Buffer(), i)
	}
	return out
}

func run(t *testing.T, code ir.OpCode, inputs []*memory.Tensor, out *memory.Tensor) {
	t.Helper()
	fn, err := New().Generate(ir.NewOperation(code, nil, nil), inputs, []*memory.Tensor{out})
	if err != nil {
		t.Fatal(err)
	}
	if err := fn.Run(); err != nil {
		t.Fatal(err)
	}
}

func equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-3 {
			return false
		}
	}
	return true
}

func TestKernels(t *testing.T) {
	for _, dt := range []ir.DataType{ir.Float32, ir.Float16} {
		t.Run(dt.String(), func(t *testing.T) {
			tests := []struct {
				name   string
				code   ir.OpCode
				inputs []*memory.Tensor
				want   []float32
			}{
				{"add", ir.OpAdd, []*memory.Tensor{tensor(dt, ir.Shape{4}, 1, 2, 3, 4), tensor(dt, ir.Shape{4}, 0.5, 0.5, -1, -8)}, []float32{1.5, 2.5, 2, -4}},
				{"add scalar", ir.OpAdd, []*memory.Tensor{tensor(dt, ir.Shape{2, 2}, 1, 2, 3, 4), tensor(dt, ir.Shape{1}, 10)}, []float32{11, 12, 13, 14}},
				{"mul", ir.OpMul, []*memory.Tensor{tensor(dt, ir.Shape{4}, 1, 2, 3, 4), tensor(dt, ir.Shape{4}, 2, 0, -1, 0.25)}, []float32{2, 0, -3, 1}},
				{"mul scalar", ir.OpMul, []*memory.Tensor{tensor(dt, ir.Shape{4}, 1, 2, 3, 4), tensor(dt, ir.Shape{}, -2)}, []float32{-2, -4, -6, -8}},
				{"relu", ir.OpRelu, []*memory.Tensor{tensor(dt, ir.Shape{4}, -1, 0, 2, -0.5)}, []float32{0, 0, 2, 0}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					out := tensor(dt, tt.inputs[0].Info().Shape)
					run(t, tt.code, tt.inputs, out)
					if got := values(out); !equal(got, tt.want) {
						t.Errorf("expected %v, got %v", tt.want, got)
					}
				})
			}
		})
	}
}

func TestReshapeCopies(t *testing.T) {
	in := tensor(ir.Float32, ir.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	out := tensor(ir.Float32, ir.Shape{3, 2})
	run(t, ir.OpReshape, []*memory.Tensor{in, nil}, out)
	if got := values(out); !equal(got, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected reshape output %v", got)
	}
}

func TestLargeInputRunsInParallel(t *testing.T) {
	n := parallelThreshold*2 + 7
	a := tensor(ir.Float32, ir.Shape{int32(n)})
	for i := 0; i < n; i++ {
		store(ir.Float32, a.Buffer(), i, float32(i%5)-2)
	}
	out := tensor(ir.Float32, ir.Shape{int32(n)})
	run(t, ir.OpRelu, []*memory.Tensor{a}, out)
	got := values(out)
	for i, v := range got {
		if want := max(float32(i%5)-2, 0); v != want {
			t.Fatalf("out[%d]: expected %v, got %v", i, want, v)
		}
	}
}

func TestGenerateRejects(t *testing.T) {
	f32 := func(shape ...int32) *memory.Tensor { return tensor(ir.Float32, shape) }
	tests := []struct {
		name    string
		code    ir.OpCode
		inputs  []*memory.Tensor
		outputs []*memory.Tensor
		want    error
	}{
		{"unknown op", ir.OpConv2D, []*memory.Tensor{f32(1)}, []*memory.Tensor{f32(1)}, ErrUnsupportedOp},
		{"wrong arity", ir.OpAdd, []*memory.Tensor{f32(1)}, []*memory.Tensor{f32(1)}, ErrUnsupportedOp},
		{"omitted operand", ir.OpAdd, []*memory.Tensor{f32(1), nil}, []*memory.Tensor{f32(1)}, ErrUnsupportedOp},
		{"int32", ir.OpRelu, []*memory.Tensor{tensor(ir.Int32, ir.Shape{2})}, []*memory.Tensor{tensor(ir.Int32, ir.Shape{2})}, ErrUnsupportedType},
		{"mixed types", ir.OpRelu, []*memory.Tensor{f32(2)}, []*memory.Tensor{tensor(ir.Float16, ir.Shape{2})}, ErrUnsupportedType},
		{"broadcast mismatch", ir.OpMul, []*memory.Tensor{f32(4), f32(2)}, []*memory.Tensor{f32(4)}, ErrShapeMismatch},
		{"reshape size", ir.OpReshape, []*memory.Tensor{f32(4)}, []*memory.Tensor{f32(5)}, ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Generate(ir.NewOperation(tt.code, nil, nil), tt.inputs, tt.outputs)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateRejectsDynamic(t *testing.T) {
	dyn := memory.NewTensor(memory.TensorInfo{Shape: ir.Shape{ir.UnspecifiedDim}, Type: ir.TypeInfo{Type: ir.Float32}})
	_, err := New().Generate(ir.NewOperation(ir.OpRelu, nil, nil), []*memory.Tensor{dyn}, []*memory.Tensor{dyn})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}
