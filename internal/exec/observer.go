package exec

import (
	"sync"
	"time"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/metrics"
)

// Observer is notified around a job, the subgraph it runs and every
// operation. JobEnd receives the job's error, if any.
type Observer interface {
	JobBegin(e *LinearExecutor)
	SubgraphBegin(subg ir.SubgraphIndex)
	OpBegin(subg ir.SubgraphIndex, code *CodeAndInfo)
	OpEnd(subg ir.SubgraphIndex, code *CodeAndInfo)
	SubgraphEnd(subg ir.SubgraphIndex)
	JobEnd(e *LinearExecutor, err error)
}

// NopObserver implements every hook as a no-op, for embedding.
type NopObserver struct{}

func (NopObserver) JobBegin(*LinearExecutor)               {}
func (NopObserver) SubgraphBegin(ir.SubgraphIndex)         {}
func (NopObserver) OpBegin(ir.SubgraphIndex, *CodeAndInfo) {}
func (NopObserver) OpEnd(ir.SubgraphIndex, *CodeAndInfo)   {}
func (NopObserver) SubgraphEnd(ir.SubgraphIndex)           {}
func (NopObserver) JobEnd(*LinearExecutor, error)          {}

// ProfileObserver times every operation into the op duration histogram and
// keeps the totals per op code. One observer may watch several executors
// running concurrently.
type ProfileObserver struct {
	NopObserver

	mu     sync.Mutex
	starts map[*CodeAndInfo]time.Time
	totals map[ir.OpCode]time.Duration
}

func NewProfileObserver() *ProfileObserver {
	return &ProfileObserver{
		starts: make(map[*CodeAndInfo]time.Time),
		totals: make(map[ir.OpCode]time.Duration),
	}
}

func (p *ProfileObserver) OpBegin(_ ir.SubgraphIndex, code *CodeAndInfo) {
	p.mu.Lock()
	p.starts[code] = time.Now()
	p.mu.Unlock()
}

func (p *ProfileObserver) OpEnd(_ ir.SubgraphIndex, code *CodeAndInfo) {
	p.mu.Lock()
	start, ok := p.starts[code]
	delete(p.starts, code)
	if !ok {
		p.mu.Unlock()
		return
	}
	d := time.Since(start)
	p.totals[code.Op.Code] += d
	p.mu.Unlock()

	metrics.RecordOpDuration(string(code.Op.Code), d)
}

// Totals returns a copy of the accumulated time per op code.
func (p *ProfileObserver) Totals() map[ir.OpCode]time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[ir.OpCode]time.Duration, len(p.totals))
	for k, v := range p.totals {
		out[k] = v
	}
	return out
}
