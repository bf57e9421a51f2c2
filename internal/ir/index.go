// Package ir holds the graph intermediate representation: typed index handles,
// operand and operation arenas, the Graph with its building/model lifecycle and
// the Package that groups graphs of a multi-model deployment.
//
// A Graph is single-writer while it is being built. After FinishBuilding it is
// read-only and may be shared by any number of goroutines, as long as nobody
// mutates it again. None of this is enforced with locks.
package ir

import (
	"math"
	"strconv"
)

type (
	operandTag   struct{}
	operationTag struct{}
	graphTag     struct{}
	modelTag     struct{}
	subgraphTag  struct{}
	ioTag        struct{}
)

// Index is an opaque handle into one of the IR arenas. The zero value is the
// undefined index. Handles of different kinds are distinct types, so an
// OperandIndex can never be passed where an OperationIndex is expected.
type Index[T any] struct {
	// v stores value+1 so that the zero value means "undefined".
	v uint32
}

type (
	OperandIndex   = Index[operandTag]
	OperationIndex = Index[operationTag]
	GraphIndex     = Index[graphTag]
	ModelIndex     = Index[modelTag]
	SubgraphIndex  = Index[subgraphTag]
	IOIndex        = Index[ioTag]
)

func newIndex[T any](n uint32) Index[T] {
	if n == math.MaxUint32 {
		return Index[T]{}
	}
	return Index[T]{v: n + 1}
}

func NewOperandIndex(n uint32) OperandIndex     { return newIndex[operandTag](n) }
func NewOperationIndex(n uint32) OperationIndex { return newIndex[operationTag](n) }
func NewGraphIndex(n uint32) GraphIndex         { return newIndex[graphTag](n) }
func NewModelIndex(n uint32) ModelIndex         { return newIndex[modelTag](n) }
func NewSubgraphIndex(n uint32) SubgraphIndex   { return newIndex[subgraphTag](n) }
func NewIOIndex(n uint32) IOIndex               { return newIndex[ioTag](n) }

// Valid reports whether the index refers to something.
func (i Index[T]) Valid() bool { return i.v != 0 }

// Value returns the numeric value. It panics on an undefined index.
func (i Index[T]) Value() uint32 {
	if i.v == 0 {
		panic("ir: value of undefined index")
	}
	return i.v - 1
}

func (i Index[T]) String() string {
	if i.v == 0 {
		return "?"
	}
	return strconv.FormatUint(uint64(i.v-1), 10)
}

// Less orders indices by value; undefined sorts first.
func (i Index[T]) Less(o Index[T]) bool { return i.v < o.v }
