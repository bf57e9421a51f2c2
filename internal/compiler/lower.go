package compiler

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-lattice/internal/backend/cpu"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/partition"
)

// LoweredGraph is a finalized graph with a fixed execution order and a
// backend for every operation.
type LoweredGraph struct {
	Graph     *ir.Graph
	Order     []ir.OperationIndex
	Placement map[ir.OperationIndex]string

	position map[ir.OperationIndex]int
}

// Position returns where op runs in Order.
func (l *LoweredGraph) Position(op ir.OperationIndex) (int, bool) {
	p, ok := l.position[op]
	return p, ok
}

// Lower places every operation using table, or on the cpu backend when table
// is nil.
func Lower(g *ir.Graph, table *partition.Table) (*LoweredGraph, error) {
	if g.IsBuildingPhase() {
		return nil, ErrNotFinalized
	}
	if table == nil {
		table = partition.Single(cpu.Name)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, errors.WithMessage(err, "lower")
	}

	l := &LoweredGraph{
		Graph:     g,
		Order:     order,
		Placement: make(map[ir.OperationIndex]string, len(order)),
		position:  make(map[ir.OperationIndex]int, len(order)),
	}
	for i, idx := range order {
		l.Placement[idx] = table.BackendFor(g.Operation(idx))
		l.position[idx] = i
	}
	return l, nil
}
