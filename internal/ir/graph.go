package ir

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

type Phase int

const (
	// PhaseBuilding accepts structural mutation.
	PhaseBuilding Phase = iota
	// PhaseModel is terminal: the graph is validated and read-only.
	PhaseModel
)

func (p Phase) String() string {
	if p == PhaseBuilding {
		return "building"
	}
	return "model"
}

// Graph owns its operands and operations exclusively.
//
// Lifecycle:
//  1. NewGraph
//  2. AddOperand / AddOperation / SetOperandValue / AddInput / AddOutput
//  3. FinishBuilding, exactly once
//  4. read-only use, possibly from several goroutines
type Graph struct {
	phase      Phase
	operands   *Operands
	operations *Operations

	inputs      OperandIndexSequence
	outputs     OperandIndexSequence
	inputNames  map[string]IOIndex
	outputNames map[string]IOIndex

	signature    string
	hasSignature bool
}

func NewGraph() *Graph {
	return &Graph{
		operands:    newContainer[operandTag, Operand](),
		operations:  newContainer[operationTag, Operation](),
		inputNames:  make(map[string]IOIndex),
		outputNames: make(map[string]IOIndex),
	}
}

func (g *Graph) Phase() Phase                  { return g.phase }
func (g *Graph) IsBuildingPhase() bool         { return g.phase == PhaseBuilding }
func (g *Graph) Operands() *Operands           { return g.operands }
func (g *Graph) Operations() *Operations       { return g.operations }
func (g *Graph) Inputs() OperandIndexSequence  { return g.inputs }
func (g *Graph) Outputs() OperandIndexSequence { return g.outputs }

func (g *Graph) Operand(idx OperandIndex) *Operand       { return g.operands.At(idx) }
func (g *Graph) Operation(idx OperationIndex) *Operation { return g.operations.At(idx) }

// Signature returns the entry-point signature, if one was set.
func (g *Graph) Signature() (string, bool) { return g.signature, g.hasSignature }

func (g *Graph) SetSignature(sig string) {
	g.mustBuild("SetSignature")
	g.signature = sig
	g.hasSignature = true
}

func (g *Graph) mustBuild(op string) {
	if g.phase != PhaseBuilding {
		panic(fmt.Sprintf("ir: %s called on a graph in %s phase", op, g.phase))
	}
}

func (g *Graph) AddOperand(shape Shape, typeInfo TypeInfo) OperandIndex {
	g.mustBuild("AddOperand")
	return g.operands.Push(NewOperand(shape, typeInfo))
}

// AddOperation transfers ownership of op to the graph. Every defined operand
// slot must refer to an existing operand.
func (g *Graph) AddOperation(op *Operation) (OperationIndex, error) {
	g.mustBuild("AddOperation")
	for _, idx := range op.Inputs.Concat(op.Outputs).Defined() {
		if !g.operands.Exist(idx) {
			return OperationIndex{}, errors.Wrapf(ErrUnknownOperand, "%s operation references operand %s", op.Code, idx)
		}
	}
	return g.operations.Push(op), nil
}

func (g *Graph) SetOperandValue(idx OperandIndex, data Data) {
	g.mustBuild("SetOperandValue")
	g.operands.At(idx).data = data
}

// MarkTrainable flags a constant operand as a trainable weight.
func (g *Graph) MarkTrainable(idx OperandIndex) {
	g.mustBuild("MarkTrainable")
	g.operands.At(idx).trainable = true
}

func (g *Graph) AddInput(idx OperandIndex, name string) error {
	g.mustBuild("AddInput")
	if name != "" {
		if _, dup := g.inputNames[name]; dup {
			return errors.Wrapf(ErrDuplicateIOName, "input %q", name)
		}
		g.inputNames[name] = NewIOIndex(uint32(len(g.inputs)))
	}
	g.inputs = append(g.inputs, idx)
	return nil
}

func (g *Graph) AddOutput(idx OperandIndex, name string) error {
	g.mustBuild("AddOutput")
	if name != "" {
		if _, dup := g.outputNames[name]; dup {
			return errors.Wrapf(ErrDuplicateIOName, "output %q", name)
		}
		g.outputNames[name] = NewIOIndex(uint32(len(g.outputs)))
	}
	g.outputs = append(g.outputs, idx)
	return nil
}

// InputIndex returns an undefined IOIndex when no input has that name.
func (g *Graph) InputIndex(name string) IOIndex { return g.inputNames[name] }

// OutputIndex returns an undefined IOIndex when no output has that name.
func (g *Graph) OutputIndex(name string) IOIndex { return g.outputNames[name] }

// FinishBuilding moves the graph into the model phase. It computes use-def
// edges, sweeps unreferenced operands and validates the result. A returned
// error is a *ModelLoadError; calling it twice panics.
func (g *Graph) FinishBuilding() error {
	g.mustBuild("FinishBuilding")
	g.phase = PhaseModel

	g.initializeUseDef()
	g.sweepGarbageOperands()

	// Except for edge consistency the model may simply be bad, so those
	// checks report instead of asserting.
	if err := (OperandChecker{}).Verify(g); err != nil {
		metrics.RecordModelLoadError("invalid_operand")
		return err
	}
	if err := (InputOutputChecker{}).Verify(g); err != nil {
		metrics.RecordModelLoadError("invalid_io")
		return err
	}
	if err := (DAGChecker{}).Verify(g); err != nil {
		metrics.RecordModelLoadError("cyclic")
		return err
	}
	if debugChecks {
		if err := (EdgeConsistencyChecker{}).Verify(g); err != nil {
			panic(err)
		}
	}

	metrics.RecordGraphFinalized(g.operands.Size(), g.operations.Size())
	return nil
}

func (g *Graph) initializeUseDef() {
	g.operations.Iterate(func(idx OperationIndex, op *Operation) {
		for _, out := range op.Outputs.Defined() {
			g.operands.At(out).setDef(idx)
		}
		for _, in := range op.Inputs.Defined() {
			g.operands.At(in).insertUse(idx)
		}
	})
}

// sweepGarbageOperands removes operands that no operation touches, except
// graph inputs and outputs which are always reachable.
func (g *Graph) sweepGarbageOperands() {
	visited := make(map[OperandIndex]bool)
	g.operations.Iterate(func(_ OperationIndex, op *Operation) {
		for _, idx := range op.Inputs.Concat(op.Outputs) {
			visited[idx] = true
		}
	})
	for _, idx := range g.inputs.Concat(g.outputs) {
		visited[idx] = true
	}

	log := logger.Log.Component("Graph")
	swept := 0
	g.operands.Iterate(func(idx OperandIndex, _ *Operand) {
		if !visited[idx] {
			log.Debug("sweep garbage operand", "operand", idx.String())
			g.operands.Remove(idx)
			swept++
		}
	})
	metrics.RecordOperandsSwept(swept)
}

// successors returns, for every operation, the operations consuming one of its
// outputs. Requires use-def edges.
func (g *Graph) successors() map[OperationIndex][]OperationIndex {
	succ := make(map[OperationIndex][]OperationIndex, g.operations.Size())
	g.operations.Iterate(func(idx OperationIndex, op *Operation) {
		seen := make(map[OperationIndex]bool)
		for _, out := range op.Outputs.Defined() {
			for _, use := range g.operands.At(out).Uses() {
				if !seen[use] {
					seen[use] = true
					succ[idx] = append(succ[idx], use)
				}
			}
		}
	})
	return succ
}

// TopologicalOrder returns every operation so that producers precede their
// consumers. Among ready operations the lowest index goes first, which makes
// the order deterministic. Only valid in the model phase.
func (g *Graph) TopologicalOrder() ([]OperationIndex, error) {
	if g.phase != PhaseModel {
		panic("ir: TopologicalOrder called on a graph in building phase")
	}
	succ := g.successors()
	inDegree := make(map[OperationIndex]int, g.operations.Size())
	for _, targets := range succ {
		for _, s := range targets {
			inDegree[s]++
		}
	}

	ready := make([]OperationIndex, 0)
	for _, idx := range g.operations.Indices() {
		if inDegree[idx] == 0 {
			ready = append(ready, idx)
		}
	}

	order := make([]OperationIndex, 0, g.operations.Size())
	for len(ready) > 0 {
		// ready is kept sorted; pop the smallest
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, s := range succ[cur] {
			inDegree[s]--
			if inDegree[s] == 0 {
				ready = insertSorted(ready, s)
			}
		}
	}

	if len(order) != g.operations.Size() {
		return nil, &ModelLoadError{Reason: ErrCyclicGraph}
	}
	return order, nil
}

func insertSorted(s []OperationIndex, idx OperationIndex) []OperationIndex {
	i := 0
	for i < len(s) && s[i].Less(idx) {
		i++
	}
	s = append(s, OperationIndex{})
	copy(s[i+1:], s[i:])
	s[i] = idx
	return s
}
