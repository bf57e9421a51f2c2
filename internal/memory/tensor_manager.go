package memory

import (
	"fmt"

	"github.com/23skdu/longbow-lattice/internal/config"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

const DefaultAlignment = 16

// Category names, as used in logs and the planned-bytes gauge.
const (
	CategoryNonConst           = "nonconst"
	CategoryTrainable          = "trainable"
	CategoryBackProp           = "back_prop"
	CategoryGradient           = "gradient"
	CategoryDisposableBackProp = "disposable_back_prop"
	CategoryLayerScope         = "layer_scope"
)

type Options struct {
	Planner       config.PlannerKind
	Alignment     int
	OptimizerVars int
}

// TensorManager plans and allocates every tensor category independently.
// Categories never alias each other's buffers.
type TensorManager struct {
	tensors *TensorRegistry
	align   int

	nonConst   *MemoryManager[ir.OperandIndex]
	trainable  *TrainableMemoryManager
	backProp   *MemoryManager[ir.OperandIndex]
	gradient   *MemoryManager[ir.OperandIndex]
	disposable *MemoryManager[DisposableTensorIndex]
	layerScope *MemoryManager[LayerScopeTensorIndex]
}

func NewTensorManager(reg *TensorRegistry, opts Options) *TensorManager {
	align := opts.Alignment
	if align <= 0 {
		align = DefaultAlignment
	}
	return &TensorManager{
		tensors:    reg,
		align:      align,
		nonConst:   NewMemoryManager[ir.OperandIndex](opts.Planner),
		trainable:  NewTrainableMemoryManager(opts.Planner, opts.OptimizerVars),
		backProp:   NewMemoryManager[ir.OperandIndex](opts.Planner),
		gradient:   NewMemoryManager[ir.OperandIndex](opts.Planner),
		disposable: NewMemoryManager[DisposableTensorIndex](opts.Planner),
		layerScope: NewMemoryManager[LayerScopeTensorIndex](opts.Planner),
	}
}

func (m *TensorManager) Registry() *TensorRegistry { return m.tensors }

type bufferTarget interface {
	IsDynamic() bool
	SetBuffer([]byte)
}

func allocateMemory[K comparable, T bufferTarget](mgr *MemoryManager[K], tensors map[K]T, category string) {
	mgr.Allocate()
	metrics.RecordPlannedBytes(category, mgr.Capacity())

	log := logger.Log.Component("TensorManager")
	for idx, t := range tensors {
		if t.IsDynamic() {
			panic(fmt.Sprintf("memory: %s tensor %v is dynamic", category, idx))
		}
		t.SetBuffer(mgr.Buffer(idx))
		if p, ok := mgr.Plan(idx); ok {
			log.Debug("allocated", "category", category, "tensor", fmt.Sprint(idx), "offset", p.Offset, "size", p.Size)
		}
	}
}

func (m *TensorManager) AllocateNonConstTensors() {
	allocateMemory(m.nonConst, m.tensors.NonConstTensors(), CategoryNonConst)
}

// AllocateTrainableTensors also binds every optimizer variable buffer.
func (m *TensorManager) AllocateTrainableTensors() {
	m.trainable.Allocate()
	metrics.RecordPlannedBytes(CategoryTrainable, m.trainable.Capacity())
	for idx, t := range m.tensors.TrainableTensors() {
		if t.IsDynamic() {
			panic(fmt.Sprintf("memory: %s tensor %v is dynamic", CategoryTrainable, idx))
		}
		t.SetBuffer(m.trainable.Buffer(idx))
		for pos := range t.OptVars() {
			t.SetOptVarBuffer(m.trainable.OptVarBuffer(idx, pos), pos)
		}
	}
}

func (m *TensorManager) AllocateBackPropTensors() {
	allocateMemory(m.backProp, m.tensors.BackPropTensors(), CategoryBackProp)
}

func (m *TensorManager) AllocateGradientTensors() {
	allocateMemory(m.gradient, m.tensors.GradientTensors(), CategoryGradient)
}

func (m *TensorManager) AllocateDisposableBackPropTensors() {
	allocateMemory(m.disposable, m.tensors.DisposableBackPropTensors(), CategoryDisposableBackProp)
}

func (m *TensorManager) AllocateLayerScopeTensors() {
	allocateMemory(m.layerScope, m.tensors.LayerScopeTensors(), CategoryLayerScope)
}

func (m *TensorManager) alignedSize(size int) int {
	return (size + m.align - 1) &^ (m.align - 1)
}

// plannable panics unless t is registered and has a static shape.
func plannable(t *Tensor, category string, idx any) *Tensor {
	if t == nil {
		panic(fmt.Sprintf("memory: no %s tensor %v", category, idx))
	}
	if t.IsDynamic() {
		panic(fmt.Sprintf("memory: %s tensor %v is dynamic and cannot be planned", category, idx))
	}
	return t
}

func (m *TensorManager) ClaimNonConstPlan(idx ir.OperandIndex) {
	t := plannable(m.tensors.NonConstTensor(idx), CategoryNonConst, idx)
	m.nonConst.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseNonConstPlan(idx ir.OperandIndex) {
	plannable(m.tensors.NonConstTensor(idx), CategoryNonConst, idx)
	m.nonConst.ReleasePlan(idx)
}

func (m *TensorManager) ClaimTrainablePlan(idx ir.OperandIndex) {
	var t *Tensor
	if tt := m.tensors.TrainableTensor(idx); tt != nil {
		t = &tt.Tensor
	}
	plannable(t, CategoryTrainable, idx)
	m.trainable.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseTrainablePlan(idx ir.OperandIndex) {
	if m.tensors.TrainableTensor(idx) == nil {
		panic(fmt.Sprintf("memory: no %s tensor %v", CategoryTrainable, idx))
	}
	m.trainable.ReleasePlan(idx)
}

func (m *TensorManager) ClaimBackPropPlan(idx ir.OperandIndex) {
	t := plannable(m.tensors.BackPropTensor(idx), CategoryBackProp, idx)
	m.backProp.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseBackPropPlan(idx ir.OperandIndex) {
	plannable(m.tensors.BackPropTensor(idx), CategoryBackProp, idx)
	m.backProp.ReleasePlan(idx)
}

func (m *TensorManager) ClaimGradientPlan(idx ir.OperandIndex) {
	t := plannable(m.tensors.GradientTensor(idx), CategoryGradient, idx)
	m.gradient.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseGradientPlan(idx ir.OperandIndex) {
	plannable(m.tensors.GradientTensor(idx), CategoryGradient, idx)
	m.gradient.ReleasePlan(idx)
}

func (m *TensorManager) ClaimDisposableBackPropPlan(idx DisposableTensorIndex) {
	t := plannable(m.tensors.DisposableBackPropTensor(idx), CategoryDisposableBackProp, idx)
	m.disposable.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseDisposableBackPropPlan(idx DisposableTensorIndex) {
	plannable(m.tensors.DisposableBackPropTensor(idx), CategoryDisposableBackProp, idx)
	m.disposable.ReleasePlan(idx)
}

func (m *TensorManager) ClaimLayerScopePlan(idx LayerScopeTensorIndex) {
	t := plannable(m.tensors.LayerScopeTensor(idx), CategoryLayerScope, idx)
	m.layerScope.ClaimPlan(idx, m.alignedSize(t.TotalSize()))
}

func (m *TensorManager) ReleaseLayerScopePlan(idx LayerScopeTensorIndex) {
	if m.tensors.LayerScopeTensor(idx) == nil {
		panic(fmt.Sprintf("memory: no %s tensor %v", CategoryLayerScope, idx))
	}
	m.layerScope.ReleasePlan(idx)
}

// Footprint is the planned byte size of every category.
type Footprint struct {
	NonConst           int
	Trainable          int
	OptimizerVars      int
	BackProp           int
	Gradient           int
	DisposableBackProp int
	LayerScope         int
}

func (f Footprint) Total() int {
	return f.NonConst + f.Trainable + f.OptimizerVars + f.BackProp + f.Gradient + f.DisposableBackProp + f.LayerScope
}

func (m *TensorManager) Footprint() Footprint {
	return Footprint{
		NonConst:           m.nonConst.Capacity(),
		Trainable:          m.trainable.Capacity(),
		OptimizerVars:      m.trainable.Capacity() * m.trainable.optVarsCount,
		BackProp:           m.backProp.Capacity(),
		Gradient:           m.gradient.Capacity(),
		DisposableBackProp: m.disposable.Capacity(),
		LayerScope:         m.layerScope.Capacity(),
	}
}
