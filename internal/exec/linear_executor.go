// Package exec runs compiled graphs. The LinearExecutor is the simplest
// scheduler: one goroutine, one operation at a time, in a fixed topological
// order.
package exec

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/memory"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

// Function is the executable form of one operation, bound to its tensors.
type Function interface {
	Run() error
}

// FunctionFunc adapts a plain function to Function.
type FunctionFunc func() error

func (f FunctionFunc) Run() error { return f() }

// CodeAndInfo pairs a compiled function with the operation it implements.
type CodeAndInfo struct {
	OpIndex ir.OperationIndex
	Op      *ir.Operation
	Backend string
	Fn      Function
}

type CodeMap map[ir.OperationIndex]*CodeAndInfo

// LinearExecutor is not safe for concurrent Execute calls. Several executors
// may share one finalized graph.
type LinearExecutor struct {
	graph     *ir.Graph
	tensors   *memory.TensorRegistry
	model     ir.ModelIndex
	subgraph  ir.SubgraphIndex
	code      []*CodeAndInfo
	observers []Observer
}

// NewLinearExecutor lays out the code list once, following order. Every
// operation in order must have an entry in codeMap.
func NewLinearExecutor(graph *ir.Graph, tensors *memory.TensorRegistry, codeMap CodeMap, order []ir.OperationIndex) *LinearExecutor {
	code := make([]*CodeAndInfo, 0, len(order))
	for _, idx := range order {
		c, ok := codeMap[idx]
		if !ok {
			panic(fmt.Sprintf("exec: no code for operation %s", idx))
		}
		code = append(code, c)
	}
	return &LinearExecutor{
		graph:    graph,
		tensors:  tensors,
		model:    ir.NewModelIndex(0),
		subgraph: ir.NewSubgraphIndex(0),
		code:     code,
	}
}

func (e *LinearExecutor) Graph() *ir.Graph                { return e.graph }
func (e *LinearExecutor) Tensors() *memory.TensorRegistry { return e.tensors }
func (e *LinearExecutor) Code() []*CodeAndInfo            { return e.code }
func (e *LinearExecutor) Model() ir.ModelIndex            { return e.model }
func (e *LinearExecutor) Subgraph() ir.SubgraphIndex      { return e.subgraph }
func (e *LinearExecutor) AddObserver(o Observer)          { e.observers = append(e.observers, o) }
func (e *LinearExecutor) SetCoordinates(m ir.ModelIndex, s ir.SubgraphIndex) {
	e.model, e.subgraph = m, s
}

// SetInput copies data into the buffer of graph input i.
func (e *LinearExecutor) SetInput(i int, data []byte) error {
	t, err := e.ioTensor(e.graph.Inputs(), i, "input")
	if err != nil {
		return err
	}
	if len(data) != t.TotalSize() {
		return fmt.Errorf("input %d: got %d bytes, want %d", i, len(data), t.TotalSize())
	}
	copy(t.Buffer(), data)
	return nil
}

// Output returns the buffer of graph output i. It is overwritten by the next
// Execute.
func (e *LinearExecutor) Output(i int) ([]byte, error) {
	t, err := e.ioTensor(e.graph.Outputs(), i, "output")
	if err != nil {
		return nil, err
	}
	return t.Buffer()[:t.TotalSize()], nil
}

func (e *LinearExecutor) ioTensor(seq ir.OperandIndexSequence, i int, kind string) (*memory.Tensor, error) {
	if i < 0 || i >= len(seq) {
		return nil, fmt.Errorf("%s %d out of range (%d)", kind, i, len(seq))
	}
	t := e.tensors.Tensor(seq[i])
	if t == nil {
		return nil, fmt.Errorf("%s %d: operand %s has no tensor", kind, i, seq[i])
	}
	if len(t.Buffer()) < t.TotalSize() {
		return nil, fmt.Errorf("%s %d: operand %s is not allocated", kind, i, seq[i])
	}
	return t, nil
}

// Execute runs every operation in order and stops at the first failure.
func (e *LinearExecutor) Execute() (err error) {
	start := time.Now()
	defer func() { metrics.RecordExecutorRun(time.Since(start), err) }()

	for _, o := range e.observers {
		o.JobBegin(e)
	}
	defer func() {
		for _, o := range e.observers {
			o.JobEnd(e, err)
		}
	}()

	for _, o := range e.observers {
		o.SubgraphBegin(e.subgraph)
	}
	for _, c := range e.code {
		for _, o := range e.observers {
			o.OpBegin(e.subgraph, c)
		}
		if err := c.Fn.Run(); err != nil {
			return fmt.Errorf("operation %s (%s on %s): %w", c.OpIndex, c.Op.Code, c.Backend, err)
		}
		for _, o := range e.observers {
			o.OpEnd(e.subgraph, c)
		}
	}
	for _, o := range e.observers {
		o.SubgraphEnd(e.subgraph)
	}
	return nil
}
