// Package custom defines the hook through which vendor-defined operations are
// resolved to executable kernels at compile time.
package custom

// TypeInfo describes one kernel operand without depending on the IR.
type TypeInfo struct {
	Shape    []int32
	DataType string
}

// BuildParams is what a KernelBuilder sees of a custom operation.
type BuildParams struct {
	ID       string
	UserData []byte
	Inputs   []TypeInfo
	Outputs  []TypeInfo
}

// Kernel runs one custom operation over raw tensor buffers.
type Kernel interface {
	Run(inputs, outputs [][]byte) error
}

// KernelBuilder resolves a custom op id to a Kernel.
type KernelBuilder interface {
	BuildKernel(params BuildParams) (Kernel, error)
}

// KernelFunc adapts a plain function to Kernel.
type KernelFunc func(inputs, outputs [][]byte) error

func (f KernelFunc) Run(inputs, outputs [][]byte) error { return f(inputs, outputs) }

// Registry is a KernelBuilder backed by a map of factories.
type Registry struct {
	factories map[string]func(BuildParams) (Kernel, error)
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func(BuildParams) (Kernel, error))}
}

func (r *Registry) Register(id string, factory func(BuildParams) (Kernel, error)) {
	r.factories[id] = factory
}

func (r *Registry) BuildKernel(params BuildParams) (Kernel, error) {
	factory, ok := r.factories[params.ID]
	if !ok {
		return nil, &UnknownKernelError{ID: params.ID}
	}
	return factory(params)
}

type UnknownKernelError struct{ ID string }

func (e *UnknownKernelError) Error() string {
	return "custom: no kernel registered for " + e.ID
}
