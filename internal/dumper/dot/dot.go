// Package dot renders a graph in Graphviz DOT format.
package dot

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/23skdu/longbow-lattice/internal/ir"
)

const (
	inputShape     = "doublecircle"
	outputShape    = "doublecircle"
	operandShape   = "ellipse"
	operationShape = "rect"
	colorScheme    = "set18"
)

// Dump writes g as a digraph. placement, when non-nil, colours every
// operation by the backend it runs on.
func Dump(w io.Writer, name string, g *ir.Graph, placement map[ir.OperationIndex]string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  node [colorscheme=" + colorScheme + "];\n")

	colors := backendColors(placement)
	g.Operations().Iterate(func(idx ir.OperationIndex, op *ir.Operation) {
		label := fmt.Sprintf("%s: %s", idx, op.Code)
		if op.Name != "" {
			label += `\n` + op.Name
		}
		attrs := fmt.Sprintf("shape=%s, label=%q", operationShape, label)
		if backend, ok := placement[idx]; ok {
			attrs += fmt.Sprintf(", style=filled, fillcolor=%d, xlabel=%q", colors[backend], backend)
		}
		fmt.Fprintf(&sb, "  %s [%s];\n", operationID(idx), attrs)
	})

	g.Operands().Iterate(func(idx ir.OperandIndex, o *ir.Operand) {
		shape := operandShape
		switch {
		case g.Inputs().Contains(idx):
			shape = inputShape
		case g.Outputs().Contains(idx):
			shape = outputShape
		}
		label := fmt.Sprintf(`%%%s\n%s %s`, idx, o.Shape(), o.TypeInfo().Type)
		attrs := fmt.Sprintf("shape=%s, label=%q", shape, label)
		if o.IsConstant() {
			attrs += ", style=dashed"
		}
		fmt.Fprintf(&sb, "  %s [%s];\n", operandID(idx), attrs)
	})

	g.Operations().Iterate(func(idx ir.OperationIndex, op *ir.Operation) {
		for _, in := range op.Inputs.Defined() {
			fmt.Fprintf(&sb, "  %s -> %s;\n", operandID(in), operationID(idx))
		}
		for _, out := range op.Outputs.Defined() {
			fmt.Fprintf(&sb, "  %s -> %s;\n", operationID(idx), operandID(out))
		}
	})
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func operationID(idx ir.OperationIndex) string { return "operation" + idx.String() }

func operandID(idx ir.OperandIndex) string { return "operand" + idx.String() }

// backendColors numbers backends 1..8 in name order, cycling the scheme.
func backendColors(placement map[ir.OperationIndex]string) map[string]int {
	var names []string
	for _, b := range placement {
		if !slices.Contains(names, b) {
			names = append(names, b)
		}
	}
	slices.Sort(names)
	colors := make(map[string]int, len(names))
	for i, b := range names {
		colors[b] = i%8 + 1
	}
	return colors
}
