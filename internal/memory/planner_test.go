package memory

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-lattice/internal/config"
)

var allKinds = []config.PlannerKind{config.PlannerBump, config.PlannerFirstFit, config.PlannerWIC}

type event struct {
	claim bool
	key   int
	size  int
}

// replay feeds events to p and returns, for every key, the keys that were
// live at the same time, plus the peak sum of live sizes.
func replay(p Planner[int], events []event) (map[int][]int, int) {
	live := make(map[int]int)
	interfere := make(map[int][]int)
	peak, cur := 0, 0
	for _, e := range events {
		if e.claim {
			for other := range live {
				interfere[e.key] = append(interfere[e.key], other)
			}
			live[e.key] = e.size
			cur += e.size
			peak = max(peak, cur)
			p.Claim(e.key, e.size)
		} else {
			cur -= live[e.key]
			delete(live, e.key)
			p.Release(e.key)
		}
	}
	return interfere, peak
}

// randomEvents claims n keys in order and, after each claim, releases a random
// subset of the live ones. sizeFn picks each size.
func randomEvents(seed int64, n int, sizeFn func(r *rand.Rand) int) []event {
	r := rand.New(rand.NewSource(seed))
	var events []event
	var live []int
	for k := 0; k < n; k++ {
		events = append(events, event{claim: true, key: k, size: sizeFn(r)})
		live = append(live, k)
		kept := live[:0]
		for _, l := range live {
			if r.Intn(3) == 0 {
				events = append(events, event{key: l})
			} else {
				kept = append(kept, l)
			}
		}
		live = kept
	}
	for _, l := range live {
		events = append(events, event{key: l})
	}
	return events
}

func TestPlannerCapacity(t *testing.T) {
	// A(64) and B(32) overlap, then C(64) reuses A's range and D(32) B's.
	events := []event{
		{claim: true, key: 0, size: 64},
		{claim: true, key: 1, size: 32},
		{key: 0},
		{claim: true, key: 2, size: 64},
		{key: 1},
		{claim: true, key: 3, size: 32},
		{key: 2},
		{key: 3},
	}

	tests := []struct {
		kind config.PlannerKind
		want int
	}{
		{config.PlannerBump, 192},
		{config.PlannerFirstFit, 96},
		{config.PlannerWIC, 96},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := NewPlanner[int](tt.kind)
			replay(p, events)
			if got := p.Capacity(); got != tt.want {
				t.Errorf("expected capacity %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPlannerReachesPeakForUniformSizes(t *testing.T) {
	// With equal sizes live ranges form an interval graph and greedy
	// placement in claim order is optimal: footprint equals peak liveness.
	for _, kind := range []config.PlannerKind{config.PlannerFirstFit, config.PlannerWIC} {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(fmt.Sprintf("%s/seed%d", kind, seed), func(t *testing.T) {
				p := NewPlanner[int](kind)
				_, peak := replay(p, randomEvents(seed, 60, func(*rand.Rand) int { return 64 }))
				if got := p.Capacity(); got != peak {
					t.Errorf("expected footprint %d, got %d", peak, got)
				}
			})
		}
	}
}

func TestPlannerNeverOverlapsLiveTensors(t *testing.T) {
	sizeFn := func(r *rand.Rand) int { return 16 * (1 + r.Intn(8)) }

	for _, kind := range allKinds {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(fmt.Sprintf("%s/seed%d", kind, seed), func(t *testing.T) {
				p := NewPlanner[int](kind)
				interfere, peak := replay(p, randomEvents(seed, 80, sizeFn))
				plans := p.MemoryPlans()

				for k, others := range interfere {
					for _, o := range others {
						if plans[k].overlaps(plans[o]) {
							t.Fatalf("tensors %d %v and %d %v are live together but overlap", k, plans[k], o, plans[o])
						}
					}
				}
				for k, plan := range plans {
					if plan.End() > p.Capacity() {
						t.Errorf("tensor %d ends at %d past capacity %d", k, plan.End(), p.Capacity())
					}
				}
				if p.Capacity() < peak {
					t.Errorf("capacity %d below peak liveness %d", p.Capacity(), peak)
				}
			})
		}
	}
}

func TestPlannerMisuse(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind)+"/double claim", func(t *testing.T) {
			p := NewPlanner[string](kind)
			p.Claim("a", 8)
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			p.Claim("a", 8)
		})
		t.Run(string(kind)+"/release unknown", func(t *testing.T) {
			p := NewPlanner[string](kind)
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			p.Release("missing")
		})
	}
}

func TestWICPlannerRebuildsAfterLateClaim(t *testing.T) {
	p := NewWICPlanner[int]()
	p.Claim(0, 32)
	p.Release(0)
	if p.Capacity() != 32 {
		t.Fatalf("expected 32, got %d", p.Capacity())
	}

	p.Claim(1, 64)
	p.Claim(2, 16)
	if p.Capacity() != 80 {
		t.Errorf("expected 80 after new claims, got %d", p.Capacity())
	}
	if p.MemoryPlans()[0].Offset != 0 {
		t.Errorf("disjoint tensor 0 should reuse offset 0")
	}
}

func TestNewPlannerDefaultsToWIC(t *testing.T) {
	if _, ok := NewPlanner[int]("").(*WICPlanner[int]); !ok {
		t.Error("expected WIC planner for empty kind")
	}
}
