// Package loader builds an ir.Package from a JSON model description.
//
// Operand references are positions in the graph's "operands" array; -1 marks
// an omitted optional input. Constant data is either inline ("data", base64)
// or a window into the package weights file ("external"), which all graphs
// share without copying.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

type PackageDesc struct {
	// Weights is a file path, relative to the description, backing every
	// external operand.
	Weights  string            `json:"weights,omitempty"`
	Graphs   []GraphDesc       `json:"graphs"`
	Metadata map[string][]byte `json:"metadata,omitempty"`
}

// Coordinates place a graph inside a multi-model package.
type Coordinates struct {
	Model    uint32 `json:"model"`
	Subgraph uint32 `json:"subgraph"`
}

type GraphDesc struct {
	Entry       bool            `json:"entry"`
	Signature   *string         `json:"signature,omitempty"`
	Coordinates *Coordinates    `json:"coordinates,omitempty"`
	Operands    []OperandDesc   `json:"operands"`
	Operations  []OperationDesc `json:"operations"`
	Inputs      []IODesc        `json:"inputs"`
	Outputs     []IODesc        `json:"outputs"`
}

type OperandDesc struct {
	Shape      []int32       `json:"shape"`
	Type       string        `json:"type"`
	Scales     []float32     `json:"scales,omitempty"`
	ZeroPoints []int64       `json:"zero_points,omitempty"`
	Data       []byte        `json:"data,omitempty"`
	External   *ExternalDesc `json:"external,omitempty"`
	Trainable  bool          `json:"trainable,omitempty"`
}

type ExternalDesc struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

type OperationDesc struct {
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	Inputs   []int  `json:"inputs"`
	Outputs  []int  `json:"outputs"`
	CustomID string `json:"custom_id,omitempty"`
	UserData []byte `json:"user_data,omitempty"`
}

type IODesc struct {
	Operand int    `json:"operand"`
	Name    string `json:"name,omitempty"`
}

// LoadFile reads a description and its weights file.
func LoadFile(path string) (*ir.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}
	var desc PackageDesc
	if err := json.Unmarshal(data, &desc); err != nil {
		metrics.RecordModelLoadError("decode")
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	var weights []byte
	if desc.Weights != "" {
		wpath := desc.Weights
		if !filepath.IsAbs(wpath) {
			wpath = filepath.Join(filepath.Dir(path), wpath)
		}
		if weights, err = os.ReadFile(wpath); err != nil {
			return nil, fmt.Errorf("failed to read weights: %w", err)
		}
	}

	pkg, err := Build(&desc, weights)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("package loaded", "path", path, "graphs", pkg.GraphsCount(), "weights_bytes", len(weights))
	return pkg, nil
}

// Load decodes a description that has no external operands.
func Load(data []byte) (*ir.Package, error) {
	var desc PackageDesc
	if err := json.Unmarshal(data, &desc); err != nil {
		metrics.RecordModelLoadError("decode")
		return nil, fmt.Errorf("failed to decode package: %w", err)
	}
	return Build(&desc, nil)
}

// Build constructs and finalizes every graph, then assembles the package. The
// whole package is rejected on the first invalid graph.
func Build(desc *PackageDesc, weights []byte) (*ir.Package, error) {
	pkg := ir.NewPackage()
	for name, data := range desc.Metadata {
		pkg.AddMetadata(name, data)
	}

	for i := range desc.Graphs {
		gd := &desc.Graphs[i]
		g, err := buildGraph(gd, weights)
		if err != nil {
			return nil, fmt.Errorf("graph %d: %w", i, err)
		}
		if err := push(pkg, g, gd); err != nil {
			return nil, fmt.Errorf("graph %d: %w", i, err)
		}
	}
	return pkg, nil
}

func push(pkg *ir.Package, g *ir.Graph, gd *GraphDesc) error {
	var err error
	switch c := gd.Coordinates; {
	case gd.Entry && c == nil:
		_, err = pkg.PushEntry(g)
	case gd.Entry:
		_, err = pkg.PushEntryAt(g, ir.NewModelIndex(c.Model), ir.NewSubgraphIndex(c.Subgraph))
	case c != nil:
		_, err = pkg.Push(g, ir.NewModelIndex(c.Model), ir.NewSubgraphIndex(c.Subgraph))
	default:
		err = fmt.Errorf("non-entry graph needs coordinates")
	}
	return err
}

func buildGraph(gd *GraphDesc, weights []byte) (*ir.Graph, error) {
	g := ir.NewGraph()
	if gd.Signature != nil {
		g.SetSignature(*gd.Signature)
	}

	operands := make([]ir.OperandIndex, len(gd.Operands))
	for i, od := range gd.Operands {
		dt, err := ir.ParseDataType(od.Type)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		idx := g.AddOperand(od.Shape, ir.TypeInfo{
			Type:  dt,
			Quant: ir.Quantization{Scales: od.Scales, ZeroPoints: od.ZeroPoints},
		})
		operands[i] = idx

		switch {
		case od.External != nil:
			ext := od.External
			if ext.Offset < 0 || ext.Length < 0 || ext.Offset+ext.Length > len(weights) {
				return nil, fmt.Errorf("operand %d: external range [%d, %d) outside %d weight bytes", i, ext.Offset, ext.Offset+ext.Length, len(weights))
			}
			g.SetOperandValue(idx, ir.NewExternalData(weights[ext.Offset:ext.Offset+ext.Length]))
		case od.Data != nil:
			g.SetOperandValue(idx, ir.NewCachedData(od.Data))
		}
		if od.Trainable {
			g.MarkTrainable(idx)
		}
	}

	ref := func(pos int) (ir.OperandIndex, error) {
		if pos == -1 {
			return ir.OperandIndex{}, nil
		}
		if pos < 0 || pos >= len(operands) {
			return ir.OperandIndex{}, fmt.Errorf("operand reference %d out of range (%d)", pos, len(operands))
		}
		return operands[pos], nil
	}
	refs := func(ps []int) (ir.OperandIndexSequence, error) {
		seq := make(ir.OperandIndexSequence, len(ps))
		for i, p := range ps {
			idx, err := ref(p)
			if err != nil {
				return nil, err
			}
			seq[i] = idx
		}
		return seq, nil
	}

	for i, od := range gd.Operations {
		inputs, err := refs(od.Inputs)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		outputs, err := refs(od.Outputs)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		op := ir.NewOperation(ir.OpCode(od.Code), inputs, outputs)
		op.Name = od.Name
		op.CustomID = od.CustomID
		op.UserData = od.UserData
		if _, err := g.AddOperation(op); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}

	for _, io := range gd.Inputs {
		idx, err := ref(io.Operand)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", io.Name, err)
		}
		if err := g.AddInput(idx, io.Name); err != nil {
			return nil, err
		}
	}
	for _, io := range gd.Outputs {
		idx, err := ref(io.Operand)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", io.Name, err)
		}
		if err := g.AddOutput(idx, io.Name); err != nil {
			return nil, err
		}
	}

	if err := g.FinishBuilding(); err != nil {
		return nil, err
	}
	return g, nil
}
