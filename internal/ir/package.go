package ir

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-lattice/internal/backend/custom"
)

type coordinates struct {
	model    ModelIndex
	subgraph SubgraphIndex
}

// Package groups the graphs of one deployment. Some graphs are entries,
// callable from outside; the rest are only reachable from other graphs.
//
// A graph may be reachable both as an entry and through (model, subgraph)
// coordinates; both views share the same *Graph and the Package keeps it
// alive.
type Package struct {
	graphs      map[GraphIndex]*Graph
	entries     []GraphIndex
	coordinates map[GraphIndex]coordinates
	nextIndex   uint32

	kernelBuilder custom.KernelBuilder
	metadata      *MetadataStore
}

func NewPackage() *Package {
	return &Package{
		graphs:      make(map[GraphIndex]*Graph),
		coordinates: make(map[GraphIndex]coordinates),
		metadata:    NewMetadataStore(),
	}
}

// generateIndex returns an undefined index once the counter overflows.
func (p *Package) generateIndex() GraphIndex {
	if p.nextIndex == math.MaxUint32 {
		return GraphIndex{}
	}
	idx := NewGraphIndex(p.nextIndex)
	p.nextIndex++
	return idx
}

func (p *Package) allocate() (GraphIndex, error) {
	idx := p.generateIndex()
	if !idx.Valid() {
		return GraphIndex{}, ErrIndexOverflow
	}
	return idx, nil
}

// PushEntry adds an entry graph. A graph without signature must be the only
// entry; signed entries must have distinct signatures.
func (p *Package) PushEntry(g *Graph) (GraphIndex, error) {
	sig, signed := g.Signature()
	if !signed {
		if len(p.entries) > 0 {
			return GraphIndex{}, ErrMultipleUnsignedEntries
		}
	} else {
		if len(p.entries) == 1 {
			if _, ok := p.graphs[p.entries[0]].Signature(); !ok {
				return GraphIndex{}, ErrMultipleUnsignedEntries
			}
		}
		for _, e := range p.entries {
			if other, ok := p.graphs[e].Signature(); ok && other == sig {
				return GraphIndex{}, errors.Wrapf(ErrDuplicateSignature, "signature %q", sig)
			}
		}
	}

	idx, err := p.allocate()
	if err != nil {
		return GraphIndex{}, err
	}
	p.entries = append(p.entries, idx)
	p.graphs[idx] = g
	return idx, nil
}

// PushEntryAt adds the entry graph of a multi-model package. Only one entry is
// supported in this mode and it must sit at model 0, subgraph 0.
func (p *Package) PushEntryAt(g *Graph, model ModelIndex, subgraph SubgraphIndex) (GraphIndex, error) {
	if len(p.entries) > 0 {
		return GraphIndex{}, ErrEntryExists
	}
	if model != NewModelIndex(0) || subgraph != NewSubgraphIndex(0) {
		return GraphIndex{}, errors.Wrapf(ErrEntryCoordinates, "got model_index=%s, subgraph_index=%s", model, subgraph)
	}

	idx, err := p.allocate()
	if err != nil {
		return GraphIndex{}, err
	}
	p.entries = append(p.entries, idx)
	p.graphs[idx] = g
	p.coordinates[idx] = coordinates{model: model, subgraph: subgraph}
	return idx, nil
}

// Push adds a callee-only graph at the given coordinates.
func (p *Package) Push(g *Graph, model ModelIndex, subgraph SubgraphIndex) (GraphIndex, error) {
	idx, err := p.allocate()
	if err != nil {
		return GraphIndex{}, err
	}
	p.graphs[idx] = g
	p.coordinates[idx] = coordinates{model: model, subgraph: subgraph}
	return idx, nil
}

// Remove drops the graph together with its entry and coordinate bookkeeping.
func (p *Package) Remove(idx GraphIndex) {
	delete(p.graphs, idx)
	delete(p.coordinates, idx)
	p.entries = slices.DeleteFunc(p.entries, func(e GraphIndex) bool { return e == idx })
}

// At returns nil when idx is unknown.
func (p *Package) At(idx GraphIndex) *Graph { return p.graphs[idx] }

func (p *Package) Exist(idx GraphIndex) bool {
	_, ok := p.graphs[idx]
	return ok
}

// AtCoordinates scans the registered coordinates; ErrGraphNotFound otherwise.
func (p *Package) AtCoordinates(model ModelIndex, subgraph SubgraphIndex) (*Graph, error) {
	for idx, c := range p.coordinates {
		if c.model == model && c.subgraph == subgraph {
			return p.graphs[idx], nil
		}
	}
	return nil, errors.Wrapf(ErrGraphNotFound, "model_index=%s, subgraph_index=%s", model, subgraph)
}

func (p *Package) ExistCoordinates(model ModelIndex, subgraph SubgraphIndex) bool {
	_, err := p.AtCoordinates(model, subgraph)
	return err == nil
}

// Coordinates returns the (model, subgraph) pair of idx, if it has one.
func (p *Package) Coordinates(idx GraphIndex) (ModelIndex, SubgraphIndex, bool) {
	c, ok := p.coordinates[idx]
	return c.model, c.subgraph, ok
}

// EntryGraph returns the sole entry; zero or several entries is an error.
func (p *Package) EntryGraph() (*Graph, error) {
	if len(p.entries) != 1 {
		return nil, errors.Wrapf(ErrNoUniqueEntry, "%d entries", len(p.entries))
	}
	return p.graphs[p.entries[0]], nil
}

// EntryGraphBySignature returns nil when no entry carries sig.
func (p *Package) EntryGraphBySignature(sig string) *Graph {
	for _, e := range p.entries {
		if s, ok := p.graphs[e].Signature(); ok && s == sig {
			return p.graphs[e]
		}
	}
	return nil
}

func (p *Package) Entries() []GraphIndex { return slices.Clone(p.entries) }

func (p *Package) IsEntry(idx GraphIndex) bool { return slices.Contains(p.entries, idx) }

func (p *Package) GraphsCount() int { return len(p.graphs) }

// Iterate visits graphs in ascending index order.
func (p *Package) Iterate(fn func(GraphIndex, *Graph)) {
	indices := make([]GraphIndex, 0, len(p.graphs))
	for idx := range p.graphs {
		indices = append(indices, idx)
	}
	slices.SortFunc(indices, compareIndex[graphTag])
	for _, idx := range indices {
		fn(idx, p.graphs[idx])
	}
}

func (p *Package) BindKernelBuilder(kb custom.KernelBuilder) { p.kernelBuilder = kb }

func (p *Package) KernelBuilder() custom.KernelBuilder { return p.kernelBuilder }

func (p *Package) AddMetadata(name string, data []byte) { p.metadata.Add(name, data) }

func (p *Package) ExistsMetadata(name string) bool { return p.metadata.Exists(name) }

// ExtractMetadata removes and returns the named blob.
func (p *Package) ExtractMetadata(name string) ([]byte, error) { return p.metadata.Extract(name) }
