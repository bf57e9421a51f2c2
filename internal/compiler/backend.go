// Package compiler turns a finalized graph into a runnable LinearExecutor:
// it places every operation on a backend, fixes the execution order, plans
// tensor memory along that order and generates one function per operation.
package compiler

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-lattice/internal/backend/cpu"
	"github.com/23skdu/longbow-lattice/internal/backend/custom"
	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/memory"
)

// Backend generates executable code for the operations placed on it.
type Backend interface {
	Name() string
	Generate(op *ir.Operation, inputs, outputs []*memory.Tensor) (exec.Function, error)
}

// LayerScopePlanner is implemented by backends that need scratch memory
// while training. Each returned tensor lives from the forward of op to its
// backward and is keyed by its position in the slice.
type LayerScopePlanner interface {
	LayerScopeTensors(op *ir.Operation) []memory.TensorInfo
}

var (
	ErrNotFinalized    = errors.New("compiler: graph is still in the building phase")
	ErrUnknownBackend  = errors.New("compiler: operation placed on an unknown backend")
	ErrDynamicTensor   = errors.New("compiler: dynamic tensors cannot be planned")
	ErrNoKernelBuilder = errors.New("compiler: custom operation without a kernel builder")
)

// DefaultBackends is the set used when Options.Backends is empty.
func DefaultBackends() map[string]Backend {
	return map[string]Backend{cpu.Name: cpu.New()}
}

// customBackend resolves OpCustom through the package kernel builder.
type customBackend struct {
	builder custom.KernelBuilder
}

func (customBackend) Name() string { return "custom" }

func (b customBackend) Generate(op *ir.Operation, inputs, outputs []*memory.Tensor) (exec.Function, error) {
	if b.builder == nil {
		return nil, errors.Wrapf(ErrNoKernelBuilder, "custom op %q", op.CustomID)
	}
	kernel, err := b.builder.BuildKernel(custom.BuildParams{
		ID:       op.CustomID,
		UserData: op.UserData,
		Inputs:   kernelTypes(inputs),
		Outputs:  kernelTypes(outputs),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "custom op %q", op.CustomID)
	}
	return exec.FunctionFunc(func() error {
		return kernel.Run(buffers(inputs), buffers(outputs))
	}), nil
}

func kernelTypes(ts []*memory.Tensor) []custom.TypeInfo {
	out := make([]custom.TypeInfo, len(ts))
	for i, t := range ts {
		if t == nil {
			continue
		}
		out[i] = custom.TypeInfo{Shape: t.Info().Shape, DataType: t.Info().Type.Type.String()}
	}
	return out
}

// buffers returns the live byte range of every tensor; omitted operands are nil.
func buffers(ts []*memory.Tensor) [][]byte {
	out := make([][]byte, len(ts))
	for i, t := range ts {
		if t != nil {
			out[i] = t.Buffer()[:t.TotalSize()]
		}
	}
	return out
}
