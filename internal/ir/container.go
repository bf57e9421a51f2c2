package ir

import (
	"math"
	"slices"
)

// Container is an arena of objects keyed by a monotonically allocated index.
//
// Invariant: an index value is never handed out twice. Removed slots are
// tombstoned, so a stale handle can be detected with Exist but can never alias
// a newer object.
type Container[T any, V any] struct {
	objects map[Index[T]]*V
	removed map[Index[T]]struct{}
	next    uint32
}

func newContainer[T any, V any]() *Container[T, V] {
	return &Container[T, V]{
		objects: make(map[Index[T]]*V),
		removed: make(map[Index[T]]struct{}),
	}
}

// generateIndex returns an undefined index once the counter has run out.
func (c *Container[T, V]) generateIndex() Index[T] {
	if c.next == math.MaxUint32 {
		return Index[T]{}
	}
	idx := newIndex[T](c.next)
	c.next++
	return idx
}

// Push stores obj under a fresh index.
func (c *Container[T, V]) Push(obj *V) Index[T] {
	idx := c.generateIndex()
	if !idx.Valid() {
		panic("ir: failed to create a valid index")
	}
	c.objects[idx] = obj
	return idx
}

// At returns the object at idx. It panics when idx is not live.
func (c *Container[T, V]) At(idx Index[T]) *V {
	obj, ok := c.objects[idx]
	if !ok {
		panic("ir: no object at index " + idx.String())
	}
	return obj
}

// Get is the non-panicking form of At.
func (c *Container[T, V]) Get(idx Index[T]) (*V, bool) {
	obj, ok := c.objects[idx]
	return obj, ok
}

func (c *Container[T, V]) Exist(idx Index[T]) bool {
	_, ok := c.objects[idx]
	return ok
}

// Removed reports whether idx was live once and has been removed since.
func (c *Container[T, V]) Removed(idx Index[T]) bool {
	_, ok := c.removed[idx]
	return ok
}

func (c *Container[T, V]) Remove(idx Index[T]) {
	if _, ok := c.objects[idx]; !ok {
		return
	}
	delete(c.objects, idx)
	c.removed[idx] = struct{}{}
}

func (c *Container[T, V]) Size() int { return len(c.objects) }

// Indices returns the live indices in ascending order.
func (c *Container[T, V]) Indices() []Index[T] {
	out := make([]Index[T], 0, len(c.objects))
	for idx := range c.objects {
		out = append(out, idx)
	}
	slices.SortFunc(out, compareIndex[T])
	return out
}

// Iterate calls fn for every live object in ascending index order. Removing
// the current object from within fn is allowed.
func (c *Container[T, V]) Iterate(fn func(Index[T], *V)) {
	for _, idx := range c.Indices() {
		if obj, ok := c.objects[idx]; ok {
			fn(idx, obj)
		}
	}
}

type (
	Operands   = Container[operandTag, Operand]
	Operations = Container[operationTag, Operation]
)
