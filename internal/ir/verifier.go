package ir

import (
	"fmt"
)

// InputOutputChecker verifies that every declared graph input and output
// operand exists.
type InputOutputChecker struct{}

func (InputOutputChecker) Verify(g *Graph) error {
	for _, idx := range g.inputs.Concat(g.outputs) {
		if !idx.Valid() || !g.operands.Exist(idx) {
			return &ModelLoadError{Reason: ErrInvalidIO, Detail: fmt.Sprintf("operand %s", idx)}
		}
	}
	return nil
}

// OperandChecker verifies that dimensions are non-negative or
// UnspecifiedDim, and that a constant payload is exactly as large as its
// static shape.
type OperandChecker struct{}

func (OperandChecker) Verify(g *Graph) error {
	var err error
	g.operands.Iterate(func(idx OperandIndex, o *Operand) {
		if err != nil {
			return
		}
		for _, d := range o.shape {
			if d < UnspecifiedDim {
				err = &ModelLoadError{Reason: ErrInvalidOperand, Detail: fmt.Sprintf("operand %s has dimension %d", idx, d)}
				return
			}
		}
		if o.data == nil {
			return
		}
		if o.IsDynamic() {
			err = &ModelLoadError{Reason: ErrInvalidOperand, Detail: fmt.Sprintf("constant operand %s has dynamic shape %s", idx, o.shape)}
			return
		}
		if want := o.TotalSize(); o.data.Size() != want {
			err = &ModelLoadError{Reason: ErrInvalidOperand, Detail: fmt.Sprintf("constant operand %s holds %d bytes, shape %s needs %d", idx, o.data.Size(), o.shape, want)}
		}
	})
	return err
}

// DAGChecker verifies that the producer/consumer relation between operations
// has no cycle.
type DAGChecker struct{}

func (DAGChecker) Verify(g *Graph) error {
	const (
		unvisited = iota
		onStack
		done
	)
	succ := g.successors()
	state := make(map[OperationIndex]int, g.operations.Size())

	var visit func(OperationIndex) bool
	visit = func(idx OperationIndex) bool {
		switch state[idx] {
		case onStack:
			return false
		case done:
			return true
		}
		state[idx] = onStack
		for _, s := range succ[idx] {
			if !visit(s) {
				return false
			}
		}
		state[idx] = done
		return true
	}

	for _, idx := range g.operations.Indices() {
		if !visit(idx) {
			return &ModelLoadError{Reason: ErrCyclicGraph, Detail: fmt.Sprintf("cycle through operation %s", idx)}
		}
	}
	return nil
}

// EdgeConsistencyChecker verifies that def/use edges are reciprocal: an
// operand's def lists it as an output, every use lists it as an input, and
// vice versa. A failure is an internal bug, not a bad model.
type EdgeConsistencyChecker struct{}

func (EdgeConsistencyChecker) Verify(g *Graph) error {
	var mismatches int
	g.operations.Iterate(func(idx OperationIndex, op *Operation) {
		for _, in := range op.Inputs.Defined() {
			if o, ok := g.operands.Get(in); !ok || !o.HasUse(idx) {
				mismatches++
			}
		}
		for _, out := range op.Outputs.Defined() {
			if o, ok := g.operands.Get(out); !ok || o.Def() != idx {
				mismatches++
			}
		}
	})
	g.operands.Iterate(func(idx OperandIndex, o *Operand) {
		if def := o.Def(); def.Valid() {
			if op, ok := g.operations.Get(def); !ok || !op.Outputs.Contains(idx) {
				mismatches++
			}
		}
		for _, use := range o.Uses() {
			if op, ok := g.operations.Get(use); !ok || !op.Inputs.Contains(idx) {
				mismatches++
			}
		}
	})
	if mismatches > 0 {
		return fmt.Errorf("ir: %d inconsistent def/use edges", mismatches)
	}
	return nil
}
