package ir

import "slices"

// OpCode names the computation an operation performs. The IR does not
// interpret it; backends do.
type OpCode string

const (
	OpAdd     OpCode = "ADD"
	OpMul     OpCode = "MUL"
	OpRelu    OpCode = "RELU"
	OpReshape OpCode = "RESHAPE"
	OpConv2D  OpCode = "CONV_2D"
	OpCustom  OpCode = "CUSTOM"
)

// OperandIndexSequence is an ordered list of operand slots. Undefined entries
// stand for optional inputs that were omitted.
type OperandIndexSequence []OperandIndex

// Defined returns the sequence with undefined slots dropped.
func (s OperandIndexSequence) Defined() OperandIndexSequence {
	out := make(OperandIndexSequence, 0, len(s))
	for _, idx := range s {
		if idx.Valid() {
			out = append(out, idx)
		}
	}
	return out
}

func (s OperandIndexSequence) Contains(idx OperandIndex) bool {
	return slices.Contains(s, idx)
}

// Concat returns s followed by o, in a new slice.
func (s OperandIndexSequence) Concat(o OperandIndexSequence) OperandIndexSequence {
	out := make(OperandIndexSequence, 0, len(s)+len(o))
	out = append(out, s...)
	return append(out, o...)
}

// Operation is a node of the graph.
type Operation struct {
	Code    OpCode
	Name    string
	Inputs  OperandIndexSequence
	Outputs OperandIndexSequence

	// CustomID and UserData are set for OpCustom only.
	CustomID string
	UserData []byte
}

func NewOperation(code OpCode, inputs, outputs OperandIndexSequence) *Operation {
	return &Operation{
		Code:    code,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
	}
}
