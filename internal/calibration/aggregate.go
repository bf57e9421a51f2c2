package calibration

import (
	"github.com/23skdu/longbow-lattice/internal/exec"
)

// Ranges merges every run of a dump into one range per key: the smallest
// min and the largest max seen.
type Ranges struct {
	Inputs exec.MinMaxMap
	Ops    exec.MinMaxMap
}

func Aggregate(file *exec.MinMaxFile) Ranges {
	r := Ranges{Inputs: make(exec.MinMaxMap), Ops: make(exec.MinMaxMap)}
	for _, run := range file.Runs {
		merge(r.Inputs, run.Inputs)
		merge(r.Ops, run.Ops)
	}
	return r
}

func merge(into exec.MinMaxMap, records []exec.MinMaxRecord) {
	for _, rec := range records {
		cur, ok := into[rec.Key]
		if !ok {
			into[rec.Key] = rec.MinMax
			continue
		}
		into[rec.Key] = exec.MinMax{Min: min(cur.Min, rec.Min), Max: max(cur.Max, rec.Max)}
	}
}
