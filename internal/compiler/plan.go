package compiler

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/memory"
)

// never marks an interval that stays live until the end of the timeline.
const never = -1

// interval is the live range of one tensor in timeline steps.
type interval[K comparable] struct {
	key     K
	claim   int
	release int
}

// replay issues claims and releases step by step. Within a step every claim
// comes before any release, so a step's inputs and outputs are live together.
func replay[K comparable](ivs []interval[K], steps int, claim, release func(K)) {
	claims := make([][]K, steps)
	releases := make([][]K, steps)
	for _, iv := range ivs {
		claims[iv.claim] = append(claims[iv.claim], iv.key)
		if iv.release != never {
			releases[iv.release] = append(releases[iv.release], iv.key)
		}
	}
	for t := 0; t < steps; t++ {
		for _, k := range claims[t] {
			claim(k)
		}
		for _, k := range releases[t] {
			release(k)
		}
	}
}

// NewRegistry creates a tensor for every operand of the graph. Constants
// alias their operand data. In training mode trainable operands become
// trainable tensors with optVars optimizer variables each.
func NewRegistry(g *ir.Graph, training bool, optVars int) *memory.TensorRegistry {
	reg := memory.NewTensorRegistry()
	g.Operands().Iterate(func(idx ir.OperandIndex, o *ir.Operand) {
		info := memory.InfoOf(o)
		switch {
		case training && o.IsTrainable():
			reg.SetTrainableTensor(idx, memory.NewTrainableTensor(info, optVars))
		case o.IsConstant():
			t := memory.NewTensor(info)
			t.SetBuffer(o.Data().Bytes())
			reg.SetConstTensor(idx, t)
		default:
			reg.SetNonConstTensor(idx, memory.NewTensor(info))
		}
	})
	return reg
}

func checkStatic(reg *memory.TensorRegistry) error {
	for _, idx := range sortedOperands(reg.NonConstTensors()) {
		if t := reg.NonConstTensor(idx); t.IsDynamic() {
			return errors.Wrapf(ErrDynamicTensor, "operand %s has shape %s", idx, t.Info().Shape)
		}
	}
	return nil
}

// sortedOperands returns the keys of a registry category in index order so
// that planning is deterministic.
func sortedOperands[T any](m map[ir.OperandIndex]T) []ir.OperandIndex {
	keys := make([]ir.OperandIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ir.OperandIndex) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return keys
}

// forwardInterval places an activation on the forward timeline: it becomes
// live at its def (or at step 0 for graph inputs) and dies after its last
// use. Graph inputs and outputs never die, so an input set once survives
// any number of runs. Unused tensors die right after their def.
func (l *LoweredGraph) forwardInterval(idx ir.OperandIndex, lastUse func(uses []int) int) interval[ir.OperandIndex] {
	o := l.Graph.Operand(idx)
	iv := interval[ir.OperandIndex]{key: idx}
	if p, ok := l.Position(o.Def()); ok {
		iv.claim = p
	}
	var uses []int
	for _, u := range o.Uses() {
		if p, ok := l.Position(u); ok {
			uses = append(uses, p)
		}
	}
	switch {
	case l.Graph.Inputs().Contains(idx), l.Graph.Outputs().Contains(idx):
		iv.release = never
	case len(uses) == 0:
		iv.release = iv.claim
	default:
		iv.release = lastUse(uses)
	}
	return iv
}

// PlanInference plans and allocates every non-constant tensor along the
// execution order.
func PlanInference(l *LoweredGraph, tm *memory.TensorManager) error {
	reg := tm.Registry()
	if err := checkStatic(reg); err != nil {
		return err
	}

	var ivs []interval[ir.OperandIndex]
	for _, idx := range sortedOperands(reg.NonConstTensors()) {
		ivs = append(ivs, l.forwardInterval(idx, func(uses []int) int { return slices.Max(uses) }))
	}
	replay(ivs, max(len(l.Order), 1), tm.ClaimNonConstPlan, tm.ReleaseNonConstPlan)
	tm.AllocateNonConstTensors()

	logger.Log.Component("Planner").Debug("inference plan", "tensors", len(ivs), "bytes", tm.Footprint().NonConst)
	return nil
}

// PlanTraining plans one training step: the forward pass over Order followed
// by the backward pass over the reverse order. Step i runs op Order[i]
// forward; step 2n-1-i runs its backward.
//
// Forward activations stay live until the backward of their first consumer.
// The back-prop tensor of an activation lives from the backward of its last
// consumer to the backward of its def. Gradients of trainable tensors live
// from their first backward contribution to the end of the step. Disposable
// tensors live for the single backward step that produces them. Layer-scope
// tensors, registered on the registry before planning (Compile asks every
// LayerScopePlanner backend), live from their op's forward to its backward.
func PlanTraining(l *LoweredGraph, tm *memory.TensorManager) error {
	reg := tm.Registry()
	if err := checkStatic(reg); err != nil {
		return err
	}
	for idx, t := range reg.TrainableTensors() {
		if t.IsDynamic() {
			return errors.Wrapf(ErrDynamicTensor, "trainable operand %s has shape %s", idx, t.Info().Shape)
		}
	}

	n := len(l.Order)
	steps := max(2*n, 1)
	bwd := func(p int) int { return 2*n - 1 - p }
	g := l.Graph

	registerTrainingTensors(l, reg)

	// Activations.
	var fwd []interval[ir.OperandIndex]
	for _, idx := range sortedOperands(reg.NonConstTensors()) {
		fwd = append(fwd, l.forwardInterval(idx, func(uses []int) int { return bwd(slices.Min(uses)) }))
	}
	replay(fwd, steps, tm.ClaimNonConstPlan, tm.ReleaseNonConstPlan)

	// Weights are live for the whole step.
	var weights []interval[ir.OperandIndex]
	for _, idx := range sortedOperands(reg.TrainableTensors()) {
		weights = append(weights, interval[ir.OperandIndex]{key: idx, release: never})
	}
	replay(weights, steps, tm.ClaimTrainablePlan, tm.ReleaseTrainablePlan)

	usePositions := func(idx ir.OperandIndex) []int {
		var ps []int
		for _, u := range g.Operand(idx).Uses() {
			if p, ok := l.Position(u); ok {
				ps = append(ps, p)
			}
		}
		return ps
	}

	var backProp []interval[ir.OperandIndex]
	for _, idx := range sortedOperands(reg.BackPropTensors()) {
		defPos, _ := l.Position(g.Operand(idx).Def())
		claim := n
		if ps := usePositions(idx); len(ps) > 0 && !g.Outputs().Contains(idx) {
			claim = bwd(slices.Max(ps))
		}
		backProp = append(backProp, interval[ir.OperandIndex]{key: idx, claim: claim, release: bwd(defPos)})
	}
	replay(backProp, steps, tm.ClaimBackPropPlan, tm.ReleaseBackPropPlan)

	var grads []interval[ir.OperandIndex]
	for _, idx := range sortedOperands(reg.GradientTensors()) {
		grads = append(grads, interval[ir.OperandIndex]{key: idx, claim: bwd(slices.Max(usePositions(idx))), release: never})
	}
	replay(grads, steps, tm.ClaimGradientPlan, tm.ReleaseGradientPlan)

	var disposable []interval[memory.DisposableTensorIndex]
	for i, opIdx := range l.Order {
		for _, in := range definedUnique(g.Operation(opIdx).Inputs) {
			key := memory.DisposableTensorIndex{Operand: in, Op: opIdx}
			if reg.DisposableBackPropTensor(key) != nil {
				disposable = append(disposable, interval[memory.DisposableTensorIndex]{key: key, claim: bwd(i), release: bwd(i)})
			}
		}
	}
	replay(disposable, steps, tm.ClaimDisposableBackPropPlan, tm.ReleaseDisposableBackPropPlan)

	var scoped []interval[memory.LayerScopeTensorIndex]
	for key := range reg.LayerScopeTensors() {
		p, ok := l.Position(key.Op)
		if !ok {
			return errors.Errorf("layer-scope tensor %s belongs to an operation outside the order", key)
		}
		scoped = append(scoped, interval[memory.LayerScopeTensorIndex]{key: key, claim: p, release: bwd(p)})
	}
	slices.SortFunc(scoped, func(a, b interval[memory.LayerScopeTensorIndex]) int {
		if a.key.Op != b.key.Op {
			if a.key.Op.Less(b.key.Op) {
				return -1
			}
			return 1
		}
		return int(a.key.Sub) - int(b.key.Sub)
	})
	replay(scoped, steps, tm.ClaimLayerScopePlan, tm.ReleaseLayerScopePlan)

	tm.AllocateNonConstTensors()
	tm.AllocateTrainableTensors()
	tm.AllocateBackPropTensors()
	tm.AllocateGradientTensors()
	tm.AllocateDisposableBackPropTensors()
	tm.AllocateLayerScopeTensors()

	// Weights start from their constant values.
	for idx, t := range reg.TrainableTensors() {
		if data := g.Operand(idx).Data(); data != nil {
			copy(t.Buffer(), data.Bytes())
		}
	}

	fp := tm.Footprint()
	logger.Log.Component("Planner").Debug("training plan",
		"nonconst", fp.NonConst, "trainable", fp.Trainable, "back_prop", fp.BackProp,
		"gradient", fp.Gradient, "disposable", fp.DisposableBackProp, "layer_scope", fp.LayerScope)
	return nil
}

// registerTrainingTensors adds the back-prop, gradient and disposable
// tensors a training step needs. Activations with a def and at least one
// consumer (or that are graph outputs) get a back-prop tensor. Trainable
// operands with a consumer get a gradient. Every distinct trainable or
// activation input of an operation gets a disposable tensor for that op.
func registerTrainingTensors(l *LoweredGraph, reg *memory.TensorRegistry) {
	g := l.Graph
	for idx, t := range reg.NonConstTensors() {
		o := g.Operand(idx)
		if _, ok := l.Position(o.Def()); !ok {
			continue
		}
		if len(o.Uses()) > 0 || g.Outputs().Contains(idx) {
			reg.SetBackPropTensor(idx, memory.NewTensor(t.Info()))
		}
	}
	for idx, t := range reg.TrainableTensors() {
		if len(g.Operand(idx).Uses()) > 0 {
			reg.SetGradientTensor(idx, memory.NewTensor(t.Info()))
		}
	}
	for _, opIdx := range l.Order {
		for _, in := range definedUnique(g.Operation(opIdx).Inputs) {
			t := reg.NonConstTensor(in)
			if t == nil {
				if tt := reg.TrainableTensor(in); tt != nil {
					t = &tt.Tensor
				}
			}
			if t != nil {
				reg.SetDisposableBackPropTensor(memory.DisposableTensorIndex{Operand: in, Op: opIdx}, memory.NewTensor(t.Info()))
			}
		}
	}
}

func definedUnique(seq ir.OperandIndexSequence) ir.OperandIndexSequence {
	out := make(ir.OperandIndexSequence, 0, len(seq))
	for _, idx := range seq.Defined() {
		if !out.Contains(idx) {
			out = append(out, idx)
		}
	}
	return out
}
