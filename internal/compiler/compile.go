package compiler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-lattice/internal/backend/custom"
	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/memory"
	"github.com/23skdu/longbow-lattice/internal/metrics"
	"github.com/23skdu/longbow-lattice/internal/partition"
)

type Options struct {
	// Partition places operations; nil puts everything on the cpu backend.
	Partition *partition.Table
	// Backends by name; nil means DefaultBackends.
	Backends map[string]Backend
	Memory   memory.Options
	// Training plans the back-prop, gradient and optimizer memory of one
	// training step in addition to the forward activations.
	Training bool
}

// Compiled is one graph ready to run.
type Compiled struct {
	Index    ir.GraphIndex
	Lowered  *LoweredGraph
	Tensors  *memory.TensorManager
	Executor *exec.LinearExecutor
}

// Compile lowers, plans and generates code for a finalized graph. Custom
// operations are built through kb.
func Compile(g *ir.Graph, kb custom.KernelBuilder, opts Options) (*Compiled, error) {
	lowered, err := Lower(g, opts.Partition)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry(g, opts.Training, opts.Memory.OptimizerVars)
	tm := memory.NewTensorManager(reg, opts.Memory)
	if opts.Training {
		registerLayerScope(lowered, reg, opts.Backends)
		err = PlanTraining(lowered, tm)
	} else {
		err = PlanInference(lowered, tm)
	}
	if err != nil {
		return nil, err
	}

	code, err := generate(lowered, reg, kb, opts.Backends)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Lowered:  lowered,
		Tensors:  tm,
		Executor: exec.NewLinearExecutor(g, reg, code, lowered.Order),
	}, nil
}

// registerLayerScope asks every backend implementing LayerScopePlanner for
// the scratch tensors of the operations placed on it.
func registerLayerScope(l *LoweredGraph, reg *memory.TensorRegistry, backends map[string]Backend) {
	if len(backends) == 0 {
		backends = DefaultBackends()
	}
	for _, idx := range l.Order {
		lp, ok := backends[l.Placement[idx]].(LayerScopePlanner)
		if !ok {
			continue
		}
		for i, info := range lp.LayerScopeTensors(l.Graph.Operation(idx)) {
			reg.SetLayerScopeTensor(memory.LayerScopeTensorIndex{Op: idx, Sub: uint32(i)}, memory.NewTensor(info))
		}
	}
}

func generate(l *LoweredGraph, reg *memory.TensorRegistry, kb custom.KernelBuilder, backends map[string]Backend) (exec.CodeMap, error) {
	if len(backends) == 0 {
		backends = DefaultBackends()
	}
	tensors := func(seq ir.OperandIndexSequence) []*memory.Tensor {
		out := make([]*memory.Tensor, len(seq))
		for i, idx := range seq {
			if idx.Valid() {
				out[i] = reg.Tensor(idx)
			}
		}
		return out
	}

	code := make(exec.CodeMap, len(l.Order))
	for _, idx := range l.Order {
		op := l.Graph.Operation(idx)
		var b Backend
		if op.Code == ir.OpCustom {
			b = customBackend{builder: kb}
		} else {
			var ok bool
			if b, ok = backends[l.Placement[idx]]; !ok {
				return nil, errors.Wrapf(ErrUnknownBackend, "operation %s (%s) on %q", idx, op.Code, l.Placement[idx])
			}
		}
		fn, err := b.Generate(op, tensors(op.Inputs), tensors(op.Outputs))
		if err != nil {
			return nil, errors.WithMessagef(err, "generate operation %s", idx)
		}
		code[idx] = &exec.CodeAndInfo{OpIndex: idx, Op: op, Backend: b.Name(), Fn: fn}
	}
	return code, nil
}

// CompilePackage compiles every graph of pkg concurrently. Graphs are only
// read, so they may be shared between the workers.
func CompilePackage(ctx context.Context, pkg *ir.Package, opts Options) (map[ir.GraphIndex]*Compiled, error) {
	start := time.Now()
	defer func() { metrics.RecordPackageCompile(time.Since(start)) }()

	type job struct {
		idx   ir.GraphIndex
		graph *ir.Graph
	}
	var jobs []job
	pkg.Iterate(func(idx ir.GraphIndex, g *ir.Graph) {
		jobs = append(jobs, job{idx, g})
	})

	var mu sync.Mutex
	out := make(map[ir.GraphIndex]*Compiled, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := Compile(j.graph, pkg.KernelBuilder(), opts)
			if err != nil {
				return errors.WithMessagef(err, "graph %s", j.idx)
			}
			c.Index = j.idx
			if model, subgraph, ok := pkg.Coordinates(j.idx); ok {
				c.Executor.SetCoordinates(model, subgraph)
			}

			mu.Lock()
			out[j.idx] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Log.Info("package compiled", "graphs", len(out), "duration", time.Since(start).String())
	return out, nil
}
