// Package memory plans and allocates tensor buffers. A planner turns the
// claim/release events issued along an execution order into byte offsets
// inside one block; a MemoryManager owns that block; the TensorManager binds
// the resulting slices to the tensors of each category.
//
// Planning is single-threaded: claims and releases of one category must be
// issued by one goroutine, in execution order.
package memory

import (
	"fmt"
	"maps"
	"slices"

	"github.com/23skdu/longbow-lattice/internal/config"
)

// Plan is the byte range assigned to one tensor.
type Plan struct {
	Offset int
	Size   int
}

// End is the first byte past the plan.
func (p Plan) End() int { return p.Offset + p.Size }

func (p Plan) overlaps(o Plan) bool {
	return p.Offset < o.End() && o.Offset < p.End()
}

// Planner assigns offsets from a sequence of claims and releases. Claiming a
// key that is already live, or releasing one that is not, panics.
type Planner[K comparable] interface {
	Claim(k K, size int)
	Release(k K)
	Capacity() int
	MemoryPlans() map[K]Plan
}

// NewPlanner returns the planner of the given kind, WIC when kind is empty.
func NewPlanner[K comparable](kind config.PlannerKind) Planner[K] {
	switch kind {
	case config.PlannerBump:
		return NewBumpPlanner[K]()
	case config.PlannerFirstFit:
		return NewFirstFitPlanner[K]()
	case config.PlannerWIC, "":
		return NewWICPlanner[K]()
	}
	panic(fmt.Sprintf("memory: unknown planner %q", kind))
}

// BumpPlanner never reuses memory; every claim goes past the previous one.
type BumpPlanner[K comparable] struct {
	plans    map[K]Plan
	live     map[K]bool
	capacity int
}

func NewBumpPlanner[K comparable]() *BumpPlanner[K] {
	return &BumpPlanner[K]{plans: make(map[K]Plan), live: make(map[K]bool)}
}

func (p *BumpPlanner[K]) Claim(k K, size int) {
	if p.live[k] {
		panic(fmt.Sprintf("memory: %v claimed twice", k))
	}
	p.live[k] = true
	p.plans[k] = Plan{Offset: p.capacity, Size: size}
	p.capacity += size
}

func (p *BumpPlanner[K]) Release(k K) {
	if !p.live[k] {
		panic(fmt.Sprintf("memory: release of unclaimed %v", k))
	}
	delete(p.live, k)
}

func (p *BumpPlanner[K]) Capacity() int { return p.capacity }

func (p *BumpPlanner[K]) MemoryPlans() map[K]Plan { return maps.Clone(p.plans) }

type block[K comparable] struct {
	key K
	Plan
}

// FirstFitPlanner places each claim at the lowest offset that fits between
// the blocks live at claim time.
type FirstFitPlanner[K comparable] struct {
	plans map[K]Plan
	// live is sorted by offset
	live     []block[K]
	capacity int
}

func NewFirstFitPlanner[K comparable]() *FirstFitPlanner[K] {
	return &FirstFitPlanner[K]{plans: make(map[K]Plan)}
}

func (p *FirstFitPlanner[K]) Claim(k K, size int) {
	for _, b := range p.live {
		if b.key == k {
			panic(fmt.Sprintf("memory: %v claimed twice", k))
		}
	}

	offset := lowestFit(p.live, size)
	plan := Plan{Offset: offset, Size: size}
	pos, _ := slices.BinarySearchFunc(p.live, offset, func(b block[K], off int) int { return b.Offset - off })
	p.live = slices.Insert(p.live, pos, block[K]{key: k, Plan: plan})
	p.plans[k] = plan
	p.capacity = max(p.capacity, plan.End())
}

func (p *FirstFitPlanner[K]) Release(k K) {
	i := slices.IndexFunc(p.live, func(b block[K]) bool { return b.key == k })
	if i < 0 {
		panic(fmt.Sprintf("memory: release of unclaimed %v", k))
	}
	p.live = slices.Delete(p.live, i, i+1)
}

func (p *FirstFitPlanner[K]) Capacity() int { return p.capacity }

func (p *FirstFitPlanner[K]) MemoryPlans() map[K]Plan { return maps.Clone(p.plans) }

// lowestFit returns the lowest offset where size bytes fit without touching
// any of the blocks, which must be sorted by offset.
func lowestFit[K comparable](blocks []block[K], size int) int {
	offset := 0
	for _, b := range blocks {
		if offset+size <= b.Offset {
			break
		}
		offset = max(offset, b.End())
	}
	return offset
}

// WICPlanner does weighted interval colouring. Claims and releases only
// record which tensors are live at the same time; offsets are computed on
// demand by placing tensors from largest to smallest at the lowest offset
// that does not overlap an already placed tensor they interfere with.
type WICPlanner[K comparable] struct {
	sizes     map[K]int
	order     []K
	live      map[K]bool
	interfere map[K]map[K]bool

	plans    map[K]Plan
	capacity int
	dirty    bool
}

func NewWICPlanner[K comparable]() *WICPlanner[K] {
	return &WICPlanner[K]{
		sizes:     make(map[K]int),
		live:      make(map[K]bool),
		interfere: make(map[K]map[K]bool),
		plans:     make(map[K]Plan),
	}
}

func (p *WICPlanner[K]) Claim(k K, size int) {
	if _, seen := p.sizes[k]; seen {
		panic(fmt.Sprintf("memory: %v claimed twice", k))
	}
	p.sizes[k] = size
	p.order = append(p.order, k)
	p.interfere[k] = make(map[K]bool)
	for other := range p.live {
		p.interfere[k][other] = true
		p.interfere[other][k] = true
	}
	p.live[k] = true
	p.dirty = true
}

func (p *WICPlanner[K]) Release(k K) {
	if !p.live[k] {
		panic(fmt.Sprintf("memory: release of unclaimed %v", k))
	}
	delete(p.live, k)
}

func (p *WICPlanner[K]) Capacity() int {
	p.build()
	return p.capacity
}

func (p *WICPlanner[K]) MemoryPlans() map[K]Plan {
	p.build()
	return maps.Clone(p.plans)
}

func (p *WICPlanner[K]) build() {
	if !p.dirty {
		return
	}
	// Largest first; equal sizes keep claim order.
	sorted := slices.Clone(p.order)
	slices.SortStableFunc(sorted, func(a, b K) int { return p.sizes[b] - p.sizes[a] })

	p.plans = make(map[K]Plan, len(sorted))
	p.capacity = 0
	placed := make([]block[K], 0, len(sorted))
	for _, k := range sorted {
		var conflicts []block[K]
		for _, b := range placed {
			if p.interfere[k][b.key] {
				conflicts = append(conflicts, b)
			}
		}
		slices.SortFunc(conflicts, func(a, b block[K]) int { return a.Offset - b.Offset })

		plan := Plan{Offset: lowestFit(conflicts, p.sizes[k]), Size: p.sizes[k]}
		p.plans[k] = plan
		placed = append(placed, block[K]{key: k, Plan: plan})
		p.capacity = max(p.capacity, plan.End())
	}
	p.dirty = false
}
