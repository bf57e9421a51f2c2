package ir

import (
	"errors"
	"testing"
)

var f32 = TypeInfo{Type: Float32}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func mustAddOp(t *testing.T, g *Graph, op *Operation) OperationIndex {
	t.Helper()
	idx, err := g.AddOperation(op)
	if err != nil {
		t.Fatalf("AddOperation: %v", err)
	}
	return idx
}

// addGraph builds out = add(in, w), with w constant, plus one stray operand.
func addGraph(t *testing.T) (*Graph, OperandIndex) {
	t.Helper()
	g := NewGraph()
	in := g.AddOperand(Shape{2, 2}, f32)
	w := g.AddOperand(Shape{2, 2}, f32)
	out := g.AddOperand(Shape{2, 2}, f32)
	stray := g.AddOperand(Shape{8}, f32)

	g.SetOperandValue(w, NewCachedData(make([]byte, 16)))
	mustAddOp(t, g, NewOperation(OpAdd, OperandIndexSequence{in, w}, OperandIndexSequence{out}))
	if err := g.AddInput(in, "x"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddOutput(out, "y"); err != nil {
		t.Fatal(err)
	}
	return g, stray
}

func TestFinishBuildingSweepsGarbage(t *testing.T) {
	g, stray := addGraph(t)

	if err := g.FinishBuilding(); err != nil {
		t.Fatalf("FinishBuilding: %v", err)
	}
	if g.Phase() != PhaseModel {
		t.Errorf("expected model phase, got %s", g.Phase())
	}
	if g.Operands().Exist(stray) {
		t.Error("stray operand should have been swept")
	}
	if g.Operands().Size() != 3 {
		t.Errorf("expected 3 operands, got %d", g.Operands().Size())
	}

	g.Operands().Iterate(func(idx OperandIndex, o *Operand) {
		declared := g.Inputs().Contains(idx) || g.Outputs().Contains(idx)
		if !declared && !o.Def().Valid() && len(o.Uses()) == 0 {
			t.Errorf("operand %s survived without def, use or declaration", idx)
		}
	})
}

func TestFinishBuildingKeepsDeclaredButUnusedIO(t *testing.T) {
	g := NewGraph()
	in := g.AddOperand(Shape{1}, f32)
	passthrough := g.AddOperand(Shape{1}, f32)
	if err := g.AddInput(in, ""); err != nil {
		t.Fatal(err)
	}
	if err := g.AddOutput(passthrough, ""); err != nil {
		t.Fatal(err)
	}

	if err := g.FinishBuilding(); err != nil {
		t.Fatalf("FinishBuilding: %v", err)
	}
	if !g.Operands().Exist(in) || !g.Operands().Exist(passthrough) {
		t.Error("declared I/O operands must survive the sweep")
	}
}

func TestFinishBuildingUseDef(t *testing.T) {
	g := NewGraph()
	a := g.AddOperand(Shape{4}, f32)
	b := g.AddOperand(Shape{4}, f32)
	c := g.AddOperand(Shape{4}, f32)
	op0 := mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{a}, OperandIndexSequence{b}))
	op1 := mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{b}, OperandIndexSequence{c}))
	_ = g.AddInput(a, "")
	_ = g.AddOutput(c, "")

	if err := g.FinishBuilding(); err != nil {
		t.Fatalf("FinishBuilding: %v", err)
	}

	if g.Operand(a).Def().Valid() {
		t.Error("graph input should have no def")
	}
	if g.Operand(b).Def() != op0 {
		t.Errorf("expected def %s, got %s", op0, g.Operand(b).Def())
	}
	if !g.Operand(b).HasUse(op1) {
		t.Error("b should be used by op1")
	}
	if err := (EdgeConsistencyChecker{}).Verify(g); err != nil {
		t.Errorf("edges should be consistent: %v", err)
	}
}

func TestFinishBuildingSkipsUndefinedSlots(t *testing.T) {
	g := NewGraph()
	in := g.AddOperand(Shape{4}, f32)
	out := g.AddOperand(Shape{4}, f32)
	// The optional bias slot is left undefined.
	mustAddOp(t, g, NewOperation(OpConv2D, OperandIndexSequence{in, {}, OperandIndex{}}, OperandIndexSequence{out}))
	_ = g.AddInput(in, "")
	_ = g.AddOutput(out, "")

	if err := g.FinishBuilding(); err != nil {
		t.Fatalf("FinishBuilding: %v", err)
	}
	if g.Operands().Size() != 2 {
		t.Errorf("expected 2 operands, got %d", g.Operands().Size())
	}
}

func TestFinishBuildingRejectsCycle(t *testing.T) {
	g := NewGraph()
	in := g.AddOperand(Shape{1}, f32)
	b := g.AddOperand(Shape{1}, f32)
	c := g.AddOperand(Shape{1}, f32)
	// op A consumes op B's output c and produces b, which op B consumes.
	mustAddOp(t, g, NewOperation(OpAdd, OperandIndexSequence{in, c}, OperandIndexSequence{b}))
	mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{b}, OperandIndexSequence{c}))
	_ = g.AddInput(in, "")
	_ = g.AddOutput(c, "")

	err := g.FinishBuilding()
	if err == nil {
		t.Fatal("expected cyclic graph to fail")
	}
	if !errors.Is(err, ErrCyclicGraph) {
		t.Errorf("expected ErrCyclicGraph, got %v", err)
	}
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("expected *ModelLoadError, got %T", err)
	}
	if _, err := g.TopologicalOrder(); !errors.Is(err, ErrCyclicGraph) {
		t.Errorf("TopologicalOrder should also report the cycle, got %v", err)
	}
}

func TestFinishBuildingRejectsMissingIO(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *Graph, missing OperandIndex)
	}{
		{"missing input", func(g *Graph, missing OperandIndex) { _ = g.AddInput(missing, "") }},
		{"missing output", func(g *Graph, missing OperandIndex) { _ = g.AddOutput(missing, "") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			in := g.AddOperand(Shape{1}, f32)
			out := g.AddOperand(Shape{1}, f32)
			mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{in}, OperandIndexSequence{out}))
			_ = g.AddInput(in, "")
			_ = g.AddOutput(out, "")
			tt.build(g, NewOperandIndex(42))

			err := g.FinishBuilding()
			if !errors.Is(err, ErrInvalidIO) {
				t.Errorf("expected ErrInvalidIO, got %v", err)
			}
		})
	}
}

func TestFinishBuildingRejectsInvalidOperand(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		data  Data
		ok    bool
	}{
		{"negative dimension", Shape{2, -3}, nil, false},
		{"dynamic activation", Shape{UnspecifiedDim, 2}, nil, true},
		{"short constant", Shape{4}, NewCachedData(make([]byte, 4)), false},
		{"long constant", Shape{1}, NewExternalData(make([]byte, 8)), false},
		{"dynamic constant", Shape{UnspecifiedDim}, NewCachedData(make([]byte, 4)), false},
		{"exact constant", Shape{2, 2}, NewCachedData(make([]byte, 16)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			in := g.AddOperand(tt.shape, f32)
			out := g.AddOperand(Shape{1}, f32)
			if tt.data != nil {
				g.SetOperandValue(in, tt.data)
			}
			mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{in}, OperandIndexSequence{out}))
			_ = g.AddOutput(out, "")

			err := g.FinishBuilding()
			if tt.ok {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			var loadErr *ModelLoadError
			if !errors.As(err, &loadErr) || !errors.Is(err, ErrInvalidOperand) {
				t.Errorf("expected ModelLoadError wrapping ErrInvalidOperand, got %v", err)
			}
		})
	}
}

func TestAddOperationRejectsUnknownOperand(t *testing.T) {
	g := NewGraph()
	in := g.AddOperand(Shape{1}, f32)
	_, err := g.AddOperation(NewOperation(OpRelu, OperandIndexSequence{in}, OperandIndexSequence{NewOperandIndex(9)}))
	if !errors.Is(err, ErrUnknownOperand) {
		t.Errorf("expected ErrUnknownOperand, got %v", err)
	}
	if g.Operations().Size() != 0 {
		t.Error("rejected operation must not be stored")
	}
}

func TestIONames(t *testing.T) {
	g := NewGraph()
	a := g.AddOperand(Shape{1}, f32)
	b := g.AddOperand(Shape{1}, f32)

	if err := g.AddInput(a, "a"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddInput(b, "b"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddInput(b, "a"); !errors.Is(err, ErrDuplicateIOName) {
		t.Errorf("expected ErrDuplicateIOName, got %v", err)
	}
	// Unnamed slots never collide.
	if err := g.AddOutput(a, ""); err != nil {
		t.Fatal(err)
	}
	if err := g.AddOutput(b, ""); err != nil {
		t.Fatal(err)
	}
	// Input and output names live in separate namespaces.
	if err := g.AddOutput(b, "a"); err != nil {
		t.Errorf("output name may repeat an input name: %v", err)
	}

	if got := g.InputIndex("b"); !got.Valid() || got.Value() != 1 {
		t.Errorf("expected input index 1, got %s", got)
	}
	if got := g.OutputIndex("a"); !got.Valid() || got.Value() != 2 {
		t.Errorf("expected output index 2, got %s", got)
	}
	if g.InputIndex("missing").Valid() {
		t.Error("absent name should yield an invalid index")
	}
}

func TestModelPhaseIsReadOnly(t *testing.T) {
	g, _ := addGraph(t)
	if err := g.FinishBuilding(); err != nil {
		t.Fatal(err)
	}

	mustPanic(t, "FinishBuilding twice", func() { _ = g.FinishBuilding() })
	mustPanic(t, "AddOperand", func() { g.AddOperand(Shape{1}, f32) })
	mustPanic(t, "AddOperation", func() { _, _ = g.AddOperation(NewOperation(OpRelu, nil, nil)) })
	mustPanic(t, "AddInput", func() { _ = g.AddInput(NewOperandIndex(0), "") })
	mustPanic(t, "SetSignature", func() { g.SetSignature("serving_default") })
}

func TestTopologicalOrderIsDeterministic(t *testing.T) {
	g := NewGraph()
	in := g.AddOperand(Shape{1}, f32)
	mid := g.AddOperand(Shape{1}, f32)
	out := g.AddOperand(Shape{1}, f32)
	side := g.AddOperand(Shape{1}, f32)

	// Added consumer first so index order differs from dependency order.
	consumer := mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{mid}, OperandIndexSequence{out}))
	producer := mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{in}, OperandIndexSequence{mid}))
	independent := mustAddOp(t, g, NewOperation(OpRelu, OperandIndexSequence{in}, OperandIndexSequence{side}))
	_ = g.AddInput(in, "")
	_ = g.AddOutput(out, "")
	_ = g.AddOutput(side, "")

	mustPanic(t, "TopologicalOrder while building", func() { _, _ = g.TopologicalOrder() })
	if err := g.FinishBuilding(); err != nil {
		t.Fatal(err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []OperationIndex{producer, consumer, independent}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestOperandTotalSize(t *testing.T) {
	o := NewOperand(Shape{2, 3}, TypeInfo{Type: Float16})
	if o.TotalSize() != 12 {
		t.Errorf("expected 12 bytes, got %d", o.TotalSize())
	}
	dyn := NewOperand(Shape{UnspecifiedDim, 3}, f32)
	if !dyn.IsDynamic() {
		t.Error("expected dynamic operand")
	}
	mustPanic(t, "TotalSize of dynamic operand", func() { dyn.TotalSize() })
}

func TestExternalDataAliases(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	ext := NewExternalData(buf)
	cached := NewCachedData(buf)
	buf[0] = 9

	if ext.Bytes()[0] != 9 {
		t.Error("external data should alias the caller's slice")
	}
	if cached.Bytes()[0] != 1 {
		t.Error("cached data should own a copy")
	}
}
