// Package vm implements C10: the register-based virtual machine that
// executes bytecode.CompiledSimulation. A run owns two flattened
// []float64 frames spanning the root model and every nested submodule
// instance's sub-range ("curr"/"next", spec §3.8/§4.10), a call window
// (registers 240-255) that carries builtin arguments and the runtime
// subscript index, and
// the result slab recorded at each save point.
package vm

import (
	"math"
	"sort"

	"sdyn/internal/bytecode"
	"sdyn/internal/errors"
)

// Series is one recorded variable's saved values, aligned to VM.Times.
type Series struct {
	Name   string
	Values []float64
}

// VM drives one simulation run of a CompiledSimulation: it owns the
// state frames, the recorded result slab, and the current step cursor.
// It is not safe for concurrent use; internal/project hands out one VM
// per Sim handle.
type VM struct {
	cs   *bytecode.CompiledSimulation
	curr []float64
	next []float64
	call [16]float64

	overrides map[int]float64 // absolute slot -> pinned value (set_value)

	time     float64
	stepIdx  int
	finished bool

	Times  []float64
	series map[string]*Series
	order  []string
}

// New allocates a VM for cs, ready to run_initials.
func New(cs *bytecode.CompiledSimulation) *VM {
	root := cs.Root()
	v := &VM{
		cs:        cs,
		curr:      make([]float64, root.FrameSize),
		next:      make([]float64, root.FrameSize),
		overrides: map[int]float64{},
		series:    map[string]*Series{},
	}
	v.reset()
	return v
}

func (v *VM) reset() {
	root := v.cs.Root()
	for i := range v.curr {
		v.curr[i] = 0
		v.next[i] = 0
	}
	v.curr[slotTimeOf(root)] = v.cs.Start
	v.time = v.cs.Start
	v.stepIdx = 0
	v.finished = false
	v.Times = nil
	v.series = map[string]*Series{}
	v.order = nil
	v.setTimeSlots(root, 0)
}

// Reset restarts the run at t=start, clearing the result slab but
// keeping any set_value overrides (spec §6.2's reset semantics).
func (v *VM) Reset() { v.reset() }

const (
	slotTime        = 0
	slotDT          = 1
	slotInitialTime = 2
	slotFinalTime   = 3
)

func slotTimeOf(cm *bytecode.CompiledModule) int { return slotTime }

func (v *VM) setTimeSlots(cm *bytecode.CompiledModule, base int) {
	v.curr[base+slotTime] = v.cs.Start
	v.curr[base+slotDT] = v.cs.DT
	v.curr[base+slotInitialTime] = v.cs.Start
	v.curr[base+slotFinalTime] = v.cs.Stop
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.setTimeSlots(child, base+sub.SlotBase)
	}
}

// SetValue pins an absolute variable slot to val for the rest of the
// run (spec §6.2's set_value, overriding whatever its equation would
// compute). name may be a dotted path into a submodule instance.
func (v *VM) SetValue(name string, val float64) bool {
	off, ok := v.resolveSlot(name)
	if !ok {
		return false
	}
	v.overrides[off] = val
	v.curr[off] = val
	return true
}

// SetValueByOffset pins an absolute frame slot directly, bypassing name
// resolution (spec §6.2's set_value_by_offset) — offset must be a value
// previously returned alongside a GetValue/resolveSlot lookup, or by
// internal/project walking a CompiledModule's VarSlot table itself.
func (v *VM) SetValueByOffset(offset int, val float64) {
	v.overrides[offset] = val
	v.curr[offset] = val
}

// ClearValues removes every set_value override.
func (v *VM) ClearValues() { v.overrides = map[int]float64{} }

// ResolveOffset exposes the absolute frame slot a (possibly dotted)
// variable name resolves to, for callers that want to cache it and use
// SetValueByOffset on a hot path instead of resolving by name each time.
func (v *VM) ResolveOffset(name string) (int, bool) { return v.resolveSlot(name) }

func (v *VM) resolveSlot(name string) (int, bool) {
	root := v.cs.Root()
	return v.resolveSlotIn(root, name, 0)
}

// resolveSlotIn resolves a (possibly dotted) variable path to an
// absolute slot within cm's instance starting at base.
func (v *VM) resolveSlotIn(cm *bytecode.CompiledModule, name string, base int) (int, bool) {
	if off, ok := cm.VarSlot[name]; ok {
		return base + off, true
	}
	for _, sub := range cm.Submodules {
		prefix := sub.InstanceName + "."
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			child := v.cs.Modules[sub.ModuleName]
			return v.resolveSlotIn(child, name[len(prefix):], base+sub.SlotBase)
		}
	}
	return 0, false
}

// RunInitials evaluates every model's Initials routine once, seeding
// stock values (spec §6.2's run_initials).
func (v *VM) RunInitials() errors.List {
	var errs errors.List
	root := v.cs.Root()
	v.execInitials(root, 0)
	v.applyOverrides()
	v.recordIfDue()
	return errs
}

func (v *VM) applyOverrides() {
	for off, val := range v.overrides {
		v.curr[off] = val
	}
}

func (v *VM) execInitials(cm *bytecode.CompiledModule, base int) {
	v.exec(cm.Initials, cm, base)
}

// RunToEnd advances the simulation from its current step to Stop (spec
// §6.2's run_to_end).
func (v *VM) RunToEnd() errors.List {
	return v.RunTo(v.cs.Stop)
}

// RunTo advances the simulation up to and including time t (spec
// §6.2's run_to).
func (v *VM) RunTo(t float64) errors.List {
	var errs errors.List
	root := v.cs.Root()
	dt := v.cs.DT
	for !v.finished && v.time < t-1e-9 {
		v.step(root)
		v.time = v.curr[slotTime]
		v.stepIdx++
		v.applyOverrides()
		v.recordIfDue()
		if v.time >= v.cs.Stop-1e-9 {
			v.finished = true
		}
		_ = dt
	}
	return errs
}

func (v *VM) saveStep() float64 {
	if v.cs.SaveStep > 0 {
		return v.cs.SaveStep
	}
	return v.cs.DT
}

func (v *VM) recordIfDue() {
	save := v.saveStep()
	steps := save / v.cs.DT
	if steps <= 0 {
		steps = 1
	}
	if math.Mod(float64(v.stepIdx), steps) > 1e-6 && math.Mod(float64(v.stepIdx), steps) < steps-1e-6 {
		return
	}
	root := v.cs.Root()
	v.Times = append(v.Times, v.time)
	v.recordModule(root, 0, "")
}

func (v *VM) recordModule(cm *bytecode.CompiledModule, base int, prefix string) {
	for _, name := range cm.VarNames {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		size := cm.VarSize[name]
		if size == 0 {
			size = 1
		}
		s, ok := v.series[full]
		if !ok {
			s = &Series{Name: full}
			v.series[full] = s
			v.order = append(v.order, full)
		}
		if size == 1 {
			s.Values = append(s.Values, v.curr[base+cm.VarSlot[name]])
		} else {
			sum := 0.0
			for i := 0; i < size; i++ {
				sum += v.curr[base+cm.VarSlot[name]+i]
			}
			s.Values = append(s.Values, sum)
		}
	}
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		childPrefix := sub.InstanceName
		if prefix != "" {
			childPrefix = prefix + "." + sub.InstanceName
		}
		v.recordModule(child, base+sub.SlotBase, childPrefix)
	}
}

// step advances the whole simulation's stock values by one dt,
// evaluating Flows first, then Stocks (for Euler) or a 4-stage
// Runge-Kutta combination (for RK4); spec §4.10.
func (v *VM) step(root *bytecode.CompiledModule) {
	switch v.cs.Method {
	case bytecode.MethodRK4:
		v.stepRK4(root)
	default:
		v.stepEuler(root)
	}
	v.curr[slotTime] += v.cs.DT
	v.propagateTime(root, 0)
}

func (v *VM) propagateTime(cm *bytecode.CompiledModule, base int) {
	v.curr[base+slotTime] = v.curr[slotTime]
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.propagateTime(child, base+sub.SlotBase)
	}
}

func (v *VM) evalFlows(root *bytecode.CompiledModule) {
	v.exec(root.Flows, root, 0)
	v.clampFlows(root, 0)
}

func (v *VM) clampFlows(cm *bytecode.CompiledModule, base int) {
	for _, name := range cm.NonNegFlows {
		off := base + cm.VarSlot[name]
		size := cm.VarSize[name]
		if size < 1 {
			size = 1
		}
		for i := 0; i < size; i++ {
			if v.curr[off+i] < 0 {
				v.curr[off+i] = 0
			}
		}
	}
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.clampFlows(child, base+sub.SlotBase)
	}
}

func (v *VM) stepEuler(root *bytecode.CompiledModule) {
	v.evalFlows(root)
	v.exec(root.Stocks, root, 0)
	dt := v.cs.DT
	v.integrate(root, 0, dt, 1)
	v.clampStocks(root, 0)
}

// integrate adds dt*weight*next[slot] into curr[slot] for every stock,
// then clears next for the following derivative evaluation.
func (v *VM) integrate(cm *bytecode.CompiledModule, base int, dt, weight float64) {
	for _, name := range cm.StockNames {
		off := base + cm.VarSlot[name]
		v.curr[off] += dt * weight * v.next[off]
		v.next[off] = 0
	}
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.integrate(child, base+sub.SlotBase, dt, weight)
	}
}

func (v *VM) clampStocks(cm *bytecode.CompiledModule, base int) {
	for _, name := range cm.NonNegStocks {
		off := base + cm.VarSlot[name]
		if v.curr[off] < 0 {
			v.curr[off] = 0
		}
	}
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.clampStocks(child, base+sub.SlotBase)
	}
}

// stepRK4 runs four derivative evaluations on perturbed stock copies
// and combines them with the classic 1/6,2/6,2/6,1/6 weights. The
// bytecode itself stays method-agnostic: it only ever computes net
// flow derivatives into the next frame (spec §4.10).
func (v *VM) stepRK4(root *bytecode.CompiledModule) {
	dt := v.cs.DT
	saved := append([]float64(nil), v.curr...)

	v.evalFlows(root)
	v.exec(root.Stocks, root, 0)
	k1 := append([]float64(nil), v.next...)
	v.zeroNext()

	v.applyDeriv(root, 0, saved, k1, dt/2)
	v.evalFlows(root)
	v.exec(root.Stocks, root, 0)
	k2 := append([]float64(nil), v.next...)
	v.zeroNext()

	v.applyDeriv(root, 0, saved, k2, dt/2)
	v.evalFlows(root)
	v.exec(root.Stocks, root, 0)
	k3 := append([]float64(nil), v.next...)
	v.zeroNext()

	v.applyDeriv(root, 0, saved, k3, dt)
	v.evalFlows(root)
	v.exec(root.Stocks, root, 0)
	k4 := v.next

	copy(v.curr, saved)
	for i := range v.curr {
		v.curr[i] += (dt / 6) * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
	}
	v.zeroNext()
	v.clampStocks(root, 0)
}

func (v *VM) zeroNext() {
	for i := range v.next {
		v.next[i] = 0
	}
}

func (v *VM) applyDeriv(cm *bytecode.CompiledModule, base int, saved, k []float64, scale float64) {
	for _, name := range cm.StockNames {
		off := base + cm.VarSlot[name]
		v.curr[off] = saved[off] + scale*k[off]
	}
	for _, sub := range cm.Submodules {
		child := v.cs.Modules[sub.ModuleName]
		v.applyDeriv(child, base+sub.SlotBase, saved, k, scale)
	}
}

// exec runs one instruction sequence against the shared curr/next
// frames, with base as the caller's absolute slot offset (0 for the
// root). Registers 0-239 are scratch, reset per call; the call window
// (240-255) is reused transiently for builtin arguments and the
// runtime subscript index.
func (v *VM) exec(seq []bytecode.Instruction, cm *bytecode.CompiledModule, base int) {
	var regs [bytecode.CallWindowBase]float64
	var cond float64
	for _, in := range seq {
		switch in.Op {
		case bytecode.OpRet:
			return
		case bytecode.OpMov:
			if in.A >= bytecode.CallWindowBase {
				v.call[in.A-bytecode.CallWindowBase] = regs[in.B]
			} else {
				regs[in.A] = regs[in.B]
			}
		case bytecode.OpLoadConstant:
			regs[in.A] = cm.Literals[in.B]
		case bytecode.OpLoadVar:
			regs[in.A] = v.curr[base+in.B]
		case bytecode.OpLoadSubscript:
			idx := int(v.call[0])
			if idx < 0 {
				idx = 0
			}
			regs[in.A] = v.curr[base+in.B+idx]
		case bytecode.OpSetSubscriptIndex:
			idx := int(regs[in.A])
			if idx < 0 {
				idx = 0
			} else if in.B > 0 && idx >= in.B {
				idx = in.B - 1
			}
			v.call[0] = float64(idx)
		case bytecode.OpAdd:
			regs[in.A] = regs[in.B] + regs[in.C]
		case bytecode.OpSub:
			regs[in.A] = regs[in.B] - regs[in.C]
		case bytecode.OpMul:
			regs[in.A] = regs[in.B] * regs[in.C]
		case bytecode.OpDiv:
			regs[in.A] = regs[in.B] / regs[in.C]
		case bytecode.OpMod:
			regs[in.A] = math.Mod(regs[in.B], regs[in.C])
		case bytecode.OpExp:
			regs[in.A] = math.Pow(regs[in.B], regs[in.C])
		case bytecode.OpGt:
			regs[in.A] = boolf(regs[in.B] > regs[in.C])
		case bytecode.OpGte:
			regs[in.A] = boolf(regs[in.B] >= regs[in.C])
		case bytecode.OpLt:
			regs[in.A] = boolf(regs[in.B] < regs[in.C])
		case bytecode.OpLte:
			regs[in.A] = boolf(regs[in.B] <= regs[in.C])
		case bytecode.OpEq:
			regs[in.A] = boolf(regs[in.B] == regs[in.C])
		case bytecode.OpNeq:
			regs[in.A] = boolf(regs[in.B] != regs[in.C])
		case bytecode.OpAnd:
			regs[in.A] = boolf(isTruthy(regs[in.B]) && isTruthy(regs[in.C]))
		case bytecode.OpOr:
			regs[in.A] = boolf(isTruthy(regs[in.B]) || isTruthy(regs[in.C]))
		case bytecode.OpNot:
			regs[in.A] = boolf(!isTruthy(regs[in.B]))
		case bytecode.OpNeg:
			regs[in.A] = -regs[in.B]
		case bytecode.OpSetCond:
			cond = regs[in.A]
		case bytecode.OpIf:
			if isTruthy(cond) {
				regs[in.A] = regs[in.B]
			} else {
				regs[in.A] = regs[in.C]
			}
		case bytecode.OpAssignCurr:
			v.curr[base+in.A] = regs[in.B]
		case bytecode.OpAssignNext:
			v.next[base+in.A] = regs[in.B]
		case bytecode.OpLookup:
			tbl := cm.GFTables[in.Text]
			regs[in.A] = lookupGF(tbl, regs[in.B])
		case bytecode.OpApply:
			args := make([]float64, in.B)
			for i := 0; i < in.B; i++ {
				args[i] = v.call[i]
			}
			regs[in.A] = applyBuiltin(in.Text, args, v.curr[base+slotTime], v.cs.DT)
		case bytecode.OpEvalModule:
			for _, sub := range cm.Submodules {
				if sub.InstanceName == in.Text {
					child := v.cs.Modules[sub.ModuleName]
					if in.Imm != 0 {
						v.exec(child.Initials, child, base+sub.SlotBase)
					} else {
						v.exec(child.Flows, child, base+sub.SlotBase)
						v.clampFlows(child, base+sub.SlotBase)
						v.exec(child.Stocks, child, base+sub.SlotBase)
					}
					break
				}
			}
		}
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// isTruthy treats a value as false only if it's approximately zero:
// conditions/flows are f64 computed through the register machine and
// can carry rounding noise, so an exact `== 0` would misclassify a
// logically-zero result that landed a few ULPs away from it.
func isTruthy(x float64) bool {
	return math.Abs(x) > 1e-9
}

func lookupGF(tbl bytecode.GFTable, x float64) float64 {
	n := len(tbl.X)
	if n == 0 {
		return 0
	}
	if x <= tbl.X[0] {
		if tbl.Kind == bytecode.GFExtrapolate && n >= 2 {
			return extrapolate(tbl.X[0], tbl.Y[0], tbl.X[1], tbl.Y[1], x)
		}
		return tbl.Y[0]
	}
	if x >= tbl.X[n-1] {
		if tbl.Kind == bytecode.GFExtrapolate && n >= 2 {
			return extrapolate(tbl.X[n-2], tbl.Y[n-2], tbl.X[n-1], tbl.Y[n-1], x)
		}
		return tbl.Y[n-1]
	}
	i := sort.SearchFloat64s(tbl.X, x)
	if i < len(tbl.X) && tbl.X[i] == x {
		return tbl.Y[i]
	}
	lo, hi := i-1, i
	if lo < 0 {
		lo = 0
	}
	if tbl.Kind == bytecode.GFDiscrete {
		return tbl.Y[lo]
	}
	x0, x1 := tbl.X[lo], tbl.X[hi]
	y0, y1 := tbl.Y[lo], tbl.Y[hi]
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

func extrapolate(x0, y0, x1, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	slope := (y1 - y0) / (x1 - x0)
	return y0 + slope*(x-x0)
}

// GetValue returns a variable's current value (spec §6.2's get_value).
func (v *VM) GetValue(name string) (float64, bool) {
	off, ok := v.resolveSlot(name)
	if !ok {
		return 0, false
	}
	return v.curr[off], true
}

// GetSeries returns a recorded variable's saved values in time order
// (spec §6.2's get_series).
func (v *VM) GetSeries(name string) ([]float64, bool) {
	s, ok := v.series[name]
	if !ok {
		return nil, false
	}
	return s.Values, true
}

// GetOffset returns the index into GetSeries' slice that corresponds to
// a given time, clamped to the nearest recorded step.
func (v *VM) GetOffset(t float64) int {
	step := v.saveStep()
	idx := int(math.Round((t - v.cs.Start) / step))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(v.Times) && len(v.Times) > 0 {
		idx = len(v.Times) - 1
	}
	return idx
}

// GetStepCount returns how many steps have been recorded so far.
func (v *VM) GetStepCount() int { return len(v.Times) }

// SeriesNames returns every recorded variable name in declaration
// order, dotted for submodule members.
func (v *VM) SeriesNames() []string { return append([]string{}, v.order...) }
