package calibration

import (
	"testing"

	"github.com/23skdu/longbow-lattice/internal/exec"
)

func TestAggregate(t *testing.T) {
	key := exec.MinMaxKey{Index: 3}
	file := &exec.MinMaxFile{Runs: []exec.MinMaxRun{
		{Ops: []exec.MinMaxRecord{{Key: key, MinMax: exec.MinMax{Min: -1, Max: 2}}}},
		{Ops: []exec.MinMaxRecord{{Key: key, MinMax: exec.MinMax{Min: 0, Max: 5}}}},
		{
			Ops:    []exec.MinMaxRecord{{Key: key, MinMax: exec.MinMax{Min: -3, Max: 1}}},
			Inputs: []exec.MinMaxRecord{{Key: exec.MinMaxKey{}, MinMax: exec.MinMax{Min: 7, Max: 8}}},
		},
	}}

	r := Aggregate(file)
	if got := r.Ops[key]; got.Min != -3 || got.Max != 5 {
		t.Errorf("expected [-3, 5], got %+v", got)
	}
	if len(r.Inputs) != 1 || r.Inputs[exec.MinMaxKey{}].Max != 8 {
		t.Errorf("unexpected inputs %+v", r.Inputs)
	}
	if empty := Aggregate(&exec.MinMaxFile{}); len(empty.Ops) != 0 || len(empty.Inputs) != 0 {
		t.Errorf("expected empty ranges, got %+v", empty)
	}
}
