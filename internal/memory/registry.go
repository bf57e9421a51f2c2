package memory

import (
	"fmt"

	"github.com/23skdu/longbow-lattice/internal/ir"
)

// DisposableTensorIndex keys a back-prop tensor that lives only while one
// operation runs. The same operand may need a disposable tensor in several
// operations, hence the pair.
type DisposableTensorIndex struct {
	Operand ir.OperandIndex
	Op      ir.OperationIndex
}

func (i DisposableTensorIndex) String() string {
	return fmt.Sprintf("%s@%s", i.Operand, i.Op)
}

// LayerScopeTensorIndex keys a scratch tensor private to one operation,
// live from its forward step until its backward step finishes.
type LayerScopeTensorIndex struct {
	Op  ir.OperationIndex
	Sub uint32
}

func (i LayerScopeTensorIndex) String() string {
	return fmt.Sprintf("%s#%d", i.Op, i.Sub)
}

// TensorRegistry keeps one map per tensor category. Constant tensors are
// registered too so that kernels find every operand, but they are never
// planned.
type TensorRegistry struct {
	constant   map[ir.OperandIndex]*Tensor
	nonConst   map[ir.OperandIndex]*Tensor
	trainable  map[ir.OperandIndex]*TrainableTensor
	backProp   map[ir.OperandIndex]*Tensor
	gradient   map[ir.OperandIndex]*Tensor
	disposable map[DisposableTensorIndex]*Tensor
	layerScope map[LayerScopeTensorIndex]*Tensor
}

func NewTensorRegistry() *TensorRegistry {
	return &TensorRegistry{
		constant:   make(map[ir.OperandIndex]*Tensor),
		nonConst:   make(map[ir.OperandIndex]*Tensor),
		trainable:  make(map[ir.OperandIndex]*TrainableTensor),
		backProp:   make(map[ir.OperandIndex]*Tensor),
		gradient:   make(map[ir.OperandIndex]*Tensor),
		disposable: make(map[DisposableTensorIndex]*Tensor),
		layerScope: make(map[LayerScopeTensorIndex]*Tensor),
	}
}

func (r *TensorRegistry) SetConstTensor(idx ir.OperandIndex, t *Tensor)    { r.constant[idx] = t }
func (r *TensorRegistry) SetNonConstTensor(idx ir.OperandIndex, t *Tensor) { r.nonConst[idx] = t }
func (r *TensorRegistry) SetTrainableTensor(idx ir.OperandIndex, t *TrainableTensor) {
	r.trainable[idx] = t
}
func (r *TensorRegistry) SetBackPropTensor(idx ir.OperandIndex, t *Tensor) { r.backProp[idx] = t }
func (r *TensorRegistry) SetGradientTensor(idx ir.OperandIndex, t *Tensor) { r.gradient[idx] = t }
func (r *TensorRegistry) SetDisposableBackPropTensor(idx DisposableTensorIndex, t *Tensor) {
	r.disposable[idx] = t
}
func (r *TensorRegistry) SetLayerScopeTensor(idx LayerScopeTensorIndex, t *Tensor) {
	r.layerScope[idx] = t
}

func (r *TensorRegistry) NonConstTensor(idx ir.OperandIndex) *Tensor { return r.nonConst[idx] }
func (r *TensorRegistry) TrainableTensor(idx ir.OperandIndex) *TrainableTensor {
	return r.trainable[idx]
}
func (r *TensorRegistry) BackPropTensor(idx ir.OperandIndex) *Tensor { return r.backProp[idx] }
func (r *TensorRegistry) GradientTensor(idx ir.OperandIndex) *Tensor { return r.gradient[idx] }
func (r *TensorRegistry) DisposableBackPropTensor(idx DisposableTensorIndex) *Tensor {
	return r.disposable[idx]
}
func (r *TensorRegistry) LayerScopeTensor(idx LayerScopeTensorIndex) *Tensor {
	return r.layerScope[idx]
}

// Tensor returns the forward tensor of an operand, whichever of the constant,
// non-constant or trainable maps holds it.
func (r *TensorRegistry) Tensor(idx ir.OperandIndex) *Tensor {
	if t, ok := r.nonConst[idx]; ok {
		return t
	}
	if t, ok := r.trainable[idx]; ok {
		return &t.Tensor
	}
	return r.constant[idx]
}

func (r *TensorRegistry) NonConstTensors() map[ir.OperandIndex]*Tensor { return r.nonConst }

func (r *TensorRegistry) TrainableTensors() map[ir.OperandIndex]*TrainableTensor {
	return r.trainable
}

func (r *TensorRegistry) BackPropTensors() map[ir.OperandIndex]*Tensor { return r.backProp }

func (r *TensorRegistry) GradientTensors() map[ir.OperandIndex]*Tensor { return r.gradient }

func (r *TensorRegistry) DisposableBackPropTensors() map[DisposableTensorIndex]*Tensor {
	return r.disposable
}

func (r *TensorRegistry) LayerScopeTensors() map[LayerScopeTensorIndex]*Tensor {
	return r.layerScope
}
