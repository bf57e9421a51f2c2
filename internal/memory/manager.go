package memory

import (
	"fmt"

	"github.com/23skdu/longbow-lattice/internal/config"
	"github.com/23skdu/longbow-lattice/internal/ir"
)

// MemoryManager owns one block sized by its planner and hands out slices of
// it. All claims must be made before Allocate.
type MemoryManager[K comparable] struct {
	planner Planner[K]
	plans   map[K]Plan
	block   []byte
}

func NewMemoryManager[K comparable](kind config.PlannerKind) *MemoryManager[K] {
	return &MemoryManager[K]{planner: NewPlanner[K](kind)}
}

func (m *MemoryManager[K]) ClaimPlan(k K, size int) { m.planner.Claim(k, size) }

func (m *MemoryManager[K]) ReleasePlan(k K) { m.planner.Release(k) }

// Allocate performs the single bulk allocation for every claimed plan.
func (m *MemoryManager[K]) Allocate() {
	m.plans = m.planner.MemoryPlans()
	m.block = make([]byte, m.planner.Capacity())
}

// Capacity is the planned footprint in bytes.
func (m *MemoryManager[K]) Capacity() int { return m.planner.Capacity() }

// Plan returns the byte range planned for k.
func (m *MemoryManager[K]) Plan(k K) (Plan, bool) {
	plans := m.plans
	if plans == nil {
		plans = m.planner.MemoryPlans()
	}
	p, ok := plans[k]
	return p, ok
}

// Buffer returns the slice planned for k. Allocate must have run.
func (m *MemoryManager[K]) Buffer(k K) []byte {
	if m.plans == nil {
		panic("memory: Buffer called before Allocate")
	}
	p, ok := m.plans[k]
	if !ok {
		panic(fmt.Sprintf("memory: no plan for %v", k))
	}
	return m.block[p.Offset:p.End():p.End()]
}

// TrainableMemoryManager additionally allocates one region per optimizer
// variable, each laid out exactly like the weights themselves.
type TrainableMemoryManager struct {
	*MemoryManager[ir.OperandIndex]
	optVarsCount int
	optVars      []byte
}

func NewTrainableMemoryManager(kind config.PlannerKind, optVarsCount int) *TrainableMemoryManager {
	return &TrainableMemoryManager{
		MemoryManager: NewMemoryManager[ir.OperandIndex](kind),
		optVarsCount:  optVarsCount,
	}
}

func (m *TrainableMemoryManager) Allocate() {
	m.MemoryManager.Allocate()
	m.optVars = make([]byte, m.Capacity()*m.optVarsCount)
}

// OptVarBuffer returns optimizer variable pos of weight k.
func (m *TrainableMemoryManager) OptVarBuffer(k ir.OperandIndex, pos int) []byte {
	if pos < 0 || pos >= m.optVarsCount {
		panic(fmt.Sprintf("memory: optimizer variable %d out of range (%d)", pos, m.optVarsCount))
	}
	p, ok := m.plans[k]
	if !ok {
		panic(fmt.Sprintf("memory: no plan for %v", k))
	}
	base := pos*m.Capacity() + p.Offset
	return m.optVars[base : base+p.Size : base+p.Size]
}
