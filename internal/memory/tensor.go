package memory

import (
	"fmt"

	"github.com/23skdu/longbow-lattice/internal/ir"
)

type TensorInfo struct {
	Shape ir.Shape
	Type  ir.TypeInfo
}

// InfoOf describes the tensor backing an operand.
func InfoOf(o *ir.Operand) TensorInfo {
	return TensorInfo{Shape: o.Shape(), Type: o.TypeInfo()}
}

// Tensor is a typed view over a buffer handed out by a MemoryManager, or over
// constant operand data.
type Tensor struct {
	info   TensorInfo
	buffer []byte
}

func NewTensor(info TensorInfo) *Tensor {
	return &Tensor{info: info}
}

func (t *Tensor) Info() TensorInfo { return t.info }

// IsDynamic reports a shape known only at execution time. Dynamic tensors are
// never planned.
func (t *Tensor) IsDynamic() bool { return t.info.Shape.HasUnspecifiedDim() }

func (t *Tensor) TotalSize() int {
	return t.info.Shape.NumElements() * t.info.Type.Type.Size()
}

func (t *Tensor) Buffer() []byte { return t.buffer }

func (t *Tensor) SetBuffer(b []byte) { t.buffer = b }

// TrainableTensor is a weight updated by training. Each optimizer variable
// (e.g. Adam moments) is a tensor of the same shape.
type TrainableTensor struct {
	Tensor
	optVars []*Tensor
}

func NewTrainableTensor(info TensorInfo, optVarsCount int) *TrainableTensor {
	t := &TrainableTensor{Tensor: Tensor{info: info}, optVars: make([]*Tensor, optVarsCount)}
	for i := range t.optVars {
		t.optVars[i] = NewTensor(info)
	}
	return t
}

func (t *TrainableTensor) OptVars() []*Tensor { return t.optVars }

func (t *TrainableTensor) SetOptVarBuffer(b []byte, pos int) {
	if pos < 0 || pos >= len(t.optVars) {
		panic(fmt.Sprintf("memory: optimizer variable %d out of range (%d)", pos, len(t.optVars)))
	}
	t.optVars[pos].SetBuffer(b)
}
