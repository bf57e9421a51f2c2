package ir

import (
	"github.com/pkg/errors"
)

// Sentinel errors. Structural problems in an externally supplied model or
// package are returned wrapped around one of these.
var (
	ErrInvalidIO   = errors.New("one of model input and output operands does not exist")
	ErrCyclicGraph = errors.New("the graph is cyclic")
	// ErrInvalidOperand is a negative dimension or a constant payload whose
	// size does not match its shape.
	ErrInvalidOperand = errors.New("invalid operand")

	ErrDuplicateIOName = errors.New("duplicate input/output name")
	ErrUnknownOperand  = errors.New("operation references an unknown operand")

	ErrMultipleUnsignedEntries = errors.New("multiple entry graphs without signatures are not allowed")
	ErrDuplicateSignature      = errors.New("multiple entry graphs with same signature are not allowed")
	ErrEntryExists             = errors.New("only unique entry graph in modelfile is allowed")
	ErrEntryCoordinates        = errors.New("entry graph should be placed at model_index=0, subgraph_index=0")
	ErrNoUniqueEntry           = errors.New("entries is not unique")
	ErrIndexOverflow           = errors.New("failed to create a valid index")

	// ErrGraphNotFound and ErrMetadataNotFound are out-of-range lookups.
	ErrGraphNotFound    = errors.New("no graph found with given model_index and subgraph_index")
	ErrMetadataNotFound = errors.New("no metadata with given name")
)

// ModelLoadError reports a graph that cannot be accepted. Loaders must reject
// the whole model when they see one.
type ModelLoadError struct {
	Reason error
	Detail string
}

func (e *ModelLoadError) Error() string {
	if e.Detail == "" {
		return "model load: " + e.Reason.Error()
	}
	return "model load: " + e.Reason.Error() + ": " + e.Detail
}

func (e *ModelLoadError) Unwrap() error { return e.Reason }
