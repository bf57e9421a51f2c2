package ir

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type DataType uint8

const (
	Float32 DataType = iota
	Float16
	Int32
	Int64
	Uint8
	Int8
	Int16
	Bool
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	case Float16, Int16:
		return 2
	case Uint8, Int8, Bool:
		return 1
	default:
		panic(fmt.Sprintf("ir: unknown data type %d", d))
	}
}

func (d DataType) String() string {
	switch d {
	case Float32:
		return "FLOAT32"
	case Float16:
		return "FLOAT16"
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Uint8:
		return "UINT8"
	case Int8:
		return "INT8"
	case Int16:
		return "INT16"
	case Bool:
		return "BOOL"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint8(d))
	}
}

// ParseDataType is the inverse of DataType.String, case-insensitive.
func ParseDataType(s string) (DataType, error) {
	for d := Float32; d <= Bool; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// UnspecifiedDim marks a dimension whose size is only known at execution time.
const UnspecifiedDim int32 = -1

type Shape []int32

func (s Shape) Rank() int { return len(s) }

// NumElements panics on a dynamic shape.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		if d == UnspecifiedDim {
			panic("ir: element count of dynamic shape")
		}
		n *= int(d)
	}
	return n
}

func (s Shape) HasUnspecifiedDim() bool {
	return slices.Contains(s, UnspecifiedDim)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d == UnspecifiedDim {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

type Quantization struct {
	Scales     []float32
	ZeroPoints []int64
}

type TypeInfo struct {
	Type  DataType
	Quant Quantization
}

// Data is a constant payload attached to an operand.
type Data interface {
	Bytes() []byte
	Size() int
}

// CachedData owns a private copy of its bytes.
type CachedData struct {
	buf []byte
}

func NewCachedData(b []byte) *CachedData {
	return &CachedData{buf: slices.Clone(b)}
}

func (d *CachedData) Bytes() []byte { return d.buf }
func (d *CachedData) Size() int     { return len(d.buf) }

// ExternalData aliases memory owned by someone else, typically a mapped model
// file. Two operands holding the same *ExternalData share the payload.
type ExternalData struct {
	buf []byte
}

func NewExternalData(b []byte) *ExternalData { return &ExternalData{buf: b} }

func (d *ExternalData) Bytes() []byte { return d.buf }
func (d *ExternalData) Size() int     { return len(d.buf) }

// Operand is one tensor slot of a graph.
type Operand struct {
	shape     Shape
	typeInfo  TypeInfo
	data      Data
	def       OperationIndex
	uses      map[OperationIndex]struct{}
	trainable bool
}

func NewOperand(shape Shape, typeInfo TypeInfo) *Operand {
	return &Operand{
		shape:    slices.Clone(shape),
		typeInfo: typeInfo,
		uses:     make(map[OperationIndex]struct{}),
	}
}

func (o *Operand) Shape() Shape        { return o.shape }
func (o *Operand) TypeInfo() TypeInfo  { return o.typeInfo }
func (o *Operand) Data() Data          { return o.data }
func (o *Operand) IsConstant() bool    { return o.data != nil }
func (o *Operand) IsDynamic() bool     { return o.shape.HasUnspecifiedDim() }
func (o *Operand) IsTrainable() bool   { return o.trainable }
func (o *Operand) Def() OperationIndex { return o.def }

// SetShape changes the shape. Rank changes are allowed only through here.
func (o *Operand) SetShape(s Shape) { o.shape = slices.Clone(s) }

// TotalSize is the byte size of the operand; it panics for dynamic shapes.
func (o *Operand) TotalSize() int {
	return o.shape.NumElements() * o.typeInfo.Type.Size()
}

// Uses returns the using operations in ascending index order.
func (o *Operand) Uses() []OperationIndex {
	out := slices.Collect(maps.Keys(o.uses))
	slices.SortFunc(out, compareIndex[operationTag])
	return out
}

func (o *Operand) HasUse(idx OperationIndex) bool {
	_, ok := o.uses[idx]
	return ok
}

func (o *Operand) setDef(idx OperationIndex) { o.def = idx }

func (o *Operand) insertUse(idx OperationIndex) { o.uses[idx] = struct{}{} }

func compareIndex[T any](a, b Index[T]) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
