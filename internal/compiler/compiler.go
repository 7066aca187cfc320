// Package compiler implements C9: lowering a staged, scheduled model
// (internal/model) to the register-machine bytecode internal/vm
// executes (spec §4.9). One CompiledModule is produced per referenced
// model name; a Module-kind variable's instance gets a contiguous
// sub-range of its parent's frame rather than its own copy of the
// bytecode, so the same compiled model serves every instance that
// references it.
package compiler

import (
	"math"
	"strings"

	"sdyn/internal/ast"
	"sdyn/internal/bytecode"
	"sdyn/internal/common"
	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/model"
	"sdyn/internal/variable"
)

const (
	slotTime        = 0
	slotDT          = 1
	slotInitialTime = 2
	slotFinalTime   = 3
	reservedSlots   = 4
)

// Compile lowers every model in staged reachable from rootName into a
// bytecode.CompiledSimulation (C9/C12's build step). proj supplies the
// dimension table and simulation specs; staged is the output of
// model.StageProject.
func Compile(proj *datamodel.Project, staged map[string]*model.Staged, rootName string) (*bytecode.CompiledSimulation, errors.List) {
	var errs errors.List
	dimTable := datamodel.NewDimTable(proj.Dimensions)

	inputsByModel := map[string][]string{}
	for _, m := range proj.Models {
		for _, v := range m.Variables {
			if v.Kind != datamodel.KindModule {
				continue
			}
			key := common.Canonical(v.ModelName)
			for _, in := range v.Inputs {
				inputsByModel[key] = append(inputsByModel[key], common.Canonical(in.Dst))
			}
		}
	}

	cache := map[string]*bytecode.CompiledModule{}
	_, cerrs := compileModule(proj, staged, dimTable, inputsByModel, common.Canonical(rootName), cache)
	errs = append(errs, cerrs...)

	cs := &bytecode.CompiledSimulation{
		RootName:  common.Canonical(rootName),
		Modules:   cache,
		Start:     proj.SimSpecs.Start,
		Stop:      proj.SimSpecs.Stop,
		DT:        proj.SimSpecs.DT,
		SaveStep:  proj.SimSpecs.SaveStep,
		Method:    bytecode.IntegrationMethod(proj.SimSpecs.Method),
		TimeUnits: proj.SimSpecs.TimeUnits,
	}
	return cs, errs
}

type varShape struct {
	dims  []string
	sizes []int
	total int
}

type instInfo struct {
	cm   *bytecode.CompiledModule
	base int
}

type buildCtx struct {
	cm        *bytecode.CompiledModule
	dims      *datamodel.DimTable
	shapes    map[string]varShape
	instances map[string]instInfo
	modInputs map[string]bool
	litIndex  map[float64]int
}

func (ctx *buildCtx) intern(v float64) int {
	if idx, ok := ctx.litIndex[v]; ok {
		return idx
	}
	idx := len(ctx.cm.Literals)
	ctx.cm.Literals = append(ctx.cm.Literals, v)
	ctx.litIndex[v] = idx
	return idx
}

func alloc(reg *int) int {
	r := *reg
	*reg++
	if *reg >= bytecode.CallWindowBase {
		*reg = bytecode.CallWindowBase - 1
	}
	return r
}

// compileModule compiles one named model, recursing into every
// submodule it instantiates and memoizing by model name so an
// N-times-instantiated model is only lowered once.
func compileModule(proj *datamodel.Project, staged map[string]*model.Staged, dimTable *datamodel.DimTable, inputsByModel map[string][]string, modelName string, cache map[string]*bytecode.CompiledModule) (*bytecode.CompiledModule, errors.List) {
	if cm, ok := cache[modelName]; ok {
		return cm, nil
	}
	var errs errors.List
	st, ok := staged[modelName]
	if !ok {
		return nil, errors.List{errors.New(errors.KindProject, errors.DoesNotExist, modelName)}
	}

	cm := &bytecode.CompiledModule{
		Name:         st.Name,
		VarSlot:      map[string]int{},
		VarSize:      map[string]int{},
		NextSlot:     map[string]int{},
		GFTables:     map[string]bytecode.GFTable{},
		ModuleInputs: inputsByModel[modelName],
	}
	cache[modelName] = cm

	shapes := map[string]varShape{}
	instances := map[string]instInfo{}

	next := reservedSlots
	for _, v := range st.Variables {
		if v.Kind == datamodel.KindModule {
			childCM, cerrs := compileModule(proj, staged, dimTable, inputsByModel, common.Canonical(v.Raw.ModelName), cache)
			errs = append(errs, cerrs...)
			if childCM == nil {
				continue
			}
			base := next
			next += childCM.FrameSize
			var inputSlots []int
			for _, in := range v.Raw.Inputs {
				inputSlots = append(inputSlots, childCM.VarSlot[common.Canonical(in.Dst)])
			}
			cm.Submodules = append(cm.Submodules, bytecode.SubmoduleRef{
				InstanceName: v.Name,
				ModuleName:   common.Canonical(v.Raw.ModelName),
				SlotBase:     base,
				InputSlots:   inputSlots,
			})
			instances[v.Name] = instInfo{cm: childCM, base: base}
			cm.VarNames = append(cm.VarNames, v.Name)
			continue
		}

		dims, sizes, total := shapeOf(v, dimTable)
		shapes[v.Name] = varShape{dims: dims, sizes: sizes, total: total}
		cm.VarSlot[v.Name] = next
		cm.VarSize[v.Name] = total
		next += total
		cm.VarNames = append(cm.VarNames, v.Name)

		switch v.Kind {
		case datamodel.KindStock:
			cm.NextSlot[v.Name] = cm.VarSlot[v.Name]
			cm.StockNames = append(cm.StockNames, v.Name)
			if v.Raw.NonNegative {
				cm.NonNegStocks = append(cm.NonNegStocks, v.Name)
			}
		case datamodel.KindFlow:
			if v.Raw.NonNegative {
				cm.NonNegFlows = append(cm.NonNegFlows, v.Name)
			}
		}
		if v.Raw.GF != nil {
			cm.GFTables[v.Name] = bytecode.GFTable{
				X:    append([]float64{}, v.Raw.GF.X...),
				Y:    append([]float64{}, v.Raw.GF.Y...),
				Kind: bytecode.GFKind(v.Raw.GF.Kind),
			}
		}
	}
	cm.FrameSize = next

	ctx := &buildCtx{
		cm: cm, dims: dimTable, shapes: shapes, instances: instances,
		modInputs: map[string]bool{}, litIndex: map[float64]int{},
	}
	for _, n := range cm.ModuleInputs {
		ctx.modInputs[n] = true
	}

	for _, name := range st.InitialOrd {
		v := st.ByName[name]
		if v == nil || ctx.modInputs[v.Name] {
			continue
		}
		errs = append(errs, emitVariable(ctx, &cm.Initials, v, true)...)
	}
	for _, name := range st.Schedule {
		v := st.ByName[name]
		if v == nil || v.Kind == datamodel.KindStock || ctx.modInputs[v.Name] {
			continue
		}
		errs = append(errs, emitVariable(ctx, &cm.Flows, v, false)...)
	}
	// Module instances are already invoked once per Flows pass above
	// (st.Schedule includes KindModule entries); the Stocks routine only
	// adds each stock's net-derivative expression, which reads already-
	// fresh submodule output values through dotted VarRef1s.
	for _, v := range st.Variables {
		if v.Kind == datamodel.KindStock {
			errs = append(errs, emitStockDerivative(ctx, &cm.Stocks, v)...)
		}
	}

	cm.Initials = append(cm.Initials, bytecode.Instruction{Op: bytecode.OpRet})
	cm.Flows = append(cm.Flows, bytecode.Instruction{Op: bytecode.OpRet})
	cm.Stocks = append(cm.Stocks, bytecode.Instruction{Op: bytecode.OpRet})
	return cm, errs
}

// shapeOf returns a variable's declared dimensions, each axis's size,
// and the total element count. Stocks are always scalar: internal/
// variable's equation builder only parses a stock's plain Equation.Expr
// (see variable.Build), so apply-to-all/arrayed stocks never reach this
// stage — documented in DESIGN.md as a carried-over limitation.
func shapeOf(v *variable.Staged, dims *datamodel.DimTable) ([]string, []int, int) {
	if v.Kind == datamodel.KindStock {
		return nil, nil, 1
	}
	eq := v.Raw.FlowEquation
	switch eq.Kind {
	case datamodel.EqApplyToAll:
		sizes := make([]int, len(eq.Dims))
		total := 1
		for i, d := range eq.Dims {
			elems, _ := dims.Dimension(d)
			sizes[i] = len(elems)
			total *= sizes[i]
		}
		return eq.Dims, sizes, total
	case datamodel.EqArrayed:
		return nil, nil, len(eq.Elements)
	default:
		return nil, nil, 1
	}
}

func strides(sizes []int) []int {
	out := make([]int, len(sizes))
	stride := 1
	for i := len(sizes) - 1; i >= 0; i-- {
		out[i] = stride
		if sizes[i] > 0 {
			stride *= sizes[i]
		}
	}
	return out
}

func unravel(flat int, shape varShape) map[string]int {
	if len(shape.dims) == 0 {
		return nil
	}
	st := strides(shape.sizes)
	out := map[string]int{}
	for i, d := range shape.dims {
		if shape.sizes[i] == 0 {
			out[d] = 0
			continue
		}
		out[d] = (flat / st[i]) % shape.sizes[i]
	}
	return out
}

func emitVariable(ctx *buildCtx, seq *[]bytecode.Instruction, v *variable.Staged, isInitial bool) errors.List {
	switch v.Kind {
	case datamodel.KindModule:
		return emitModuleCall(ctx, seq, v, isInitial)
	case datamodel.KindStock:
		if !isInitial {
			return nil
		}
		baseSlot := ctx.cm.VarSlot[v.Name]
		reg := 0
		r, errs := ctx.compile(seq, v.Initial1, &reg, nil)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignCurr, A: baseSlot, B: r})
		return errs
	default:
		return emitEquation(ctx, seq, v, v.Raw.FlowEquation, v.Equation1, ctx.shapes[v.Name])
	}
}

func emitEquation(ctx *buildCtx, seq *[]bytecode.Instruction, v *variable.Staged, eq datamodel.Equation, scalarExpr ast.Expr1, shape varShape) errors.List {
	var errs errors.List
	baseSlot := ctx.cm.VarSlot[v.Name]
	switch eq.Kind {
	case datamodel.EqApplyToAll:
		for flat := 0; flat < shape.total; flat++ {
			active := unravel(flat, shape)
			reg := 0
			r, e := ctx.compile(seq, scalarExpr, &reg, active)
			errs = append(errs, e...)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignCurr, A: baseSlot + flat, B: r})
		}
	case datamodel.EqArrayed:
		for i, el := range eq.Elements {
			key := strings.Join(el.Subscript, ",")
			e0 := v.Elements0[key]
			e1, lerrs := ast.Lower1(e0)
			errs = append(errs, lerrs...)
			reg := 0
			r, e := ctx.compile(seq, e1, &reg, nil)
			errs = append(errs, e...)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignCurr, A: baseSlot + i, B: r})
		}
	default:
		reg := 0
		r, e := ctx.compile(seq, scalarExpr, &reg, nil)
		errs = append(errs, e...)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignCurr, A: baseSlot, B: r})
	}
	return errs
}

// emitStockDerivative emits the net-inflow-minus-outflow expression for
// a stock into the Stocks routine, writing the *derivative* (not the
// integrated value) via AssignNext: internal/vm owns the Euler/RK4
// weighting so the same bytecode serves either integrator (spec §4.10).
func emitStockDerivative(ctx *buildCtx, seq *[]bytecode.Instruction, v *variable.Staged) errors.List {
	slot := ctx.cm.VarSlot[v.Name]
	reg := 0
	var sumReg int
	have := false
	for _, in := range v.Raw.Inflows {
		off, ok := ctx.cm.VarSlot[common.Canonical(in)]
		if !ok {
			continue
		}
		r := alloc(&reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: off})
		if !have {
			sumReg, have = r, true
			continue
		}
		s := alloc(&reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAdd, A: s, B: sumReg, C: r})
		sumReg = s
	}
	for _, out := range v.Raw.Outflows {
		off, ok := ctx.cm.VarSlot[common.Canonical(out)]
		if !ok {
			continue
		}
		r := alloc(&reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: off})
		if !have {
			s := alloc(&reg)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpNeg, A: s, B: r})
			sumReg, have = s, true
			continue
		}
		s := alloc(&reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpSub, A: s, B: sumReg, C: r})
		sumReg = s
	}
	if !have {
		idx := ctx.intern(0)
		sumReg = alloc(&reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: sumReg, B: idx})
	}
	*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignNext, A: slot, B: sumReg})
	return nil
}

// emitModuleCall binds a module instance's inputs and invokes it.
// isInitial selects which of the callee's own routines runs: Initials
// while seeding t=0 state, otherwise Flows followed by Stocks, so the
// callee's stock derivatives land in the next frame (internal/vm's OpEvalModule
// reads this back off the instruction's Imm field).
func emitModuleCall(ctx *buildCtx, seq *[]bytecode.Instruction, v *variable.Staged, isInitial bool) errors.List {
	var errs errors.List
	inst, ok := ctx.instances[v.Name]
	if !ok {
		return errs
	}
	for _, in := range v.Raw.Inputs {
		expr0, perr := ast.ParseEquation(in.Src)
		errs = append(errs, perr...)
		expr1, lerr := ast.Lower1(expr0)
		errs = append(errs, lerr...)
		reg := 0
		r, cerr := ctx.compile(seq, expr1, &reg, nil)
		errs = append(errs, cerr...)
		dstOff := inst.base + inst.cm.VarSlot[common.Canonical(in.Dst)]
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpAssignCurr, A: dstOff, B: r})
	}
	imm := 0.0
	if isInitial {
		imm = 1
	}
	*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpEvalModule, Text: v.Name, Imm: imm})
	return errs
}

// compile lowers one Expr1 node, recursively, appending instructions to
// seq and returning the scratch register holding the result. active
// carries the per-dimension element index of the apply-to-all iteration
// currently being compiled (nil outside one), used to resolve wildcard
// and bare-dimension-name subscripts (spec §4.3).
func (ctx *buildCtx) compile(seq *[]bytecode.Instruction, e ast.Expr1, reg *int, active map[string]int) (int, errors.List) {
	var errs errors.List
	if e == nil {
		idx := ctx.intern(0)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	}
	switch n := e.(type) {
	case ast.NumberLit1:
		idx := ctx.intern(n.Value)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	case ast.NaNLit1:
		idx := ctx.intern(math.NaN())
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	case ast.VarRef1:
		return ctx.compileVarRef(seq, common.Canonical(n.Ident), reg)
	case ast.Subscript1:
		return ctx.compileSubscript(seq, n, reg, active)
	case ast.Call1:
		return ctx.compileCall(seq, n, reg, active)
	case ast.Lookup1:
		arg, e1 := ctx.compile(seq, n.Arg, reg, active)
		errs = append(errs, e1...)
		dst := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLookup, A: dst, B: arg, Text: common.Canonical(n.Ident)})
		return dst, errs
	case ast.Binary1:
		return ctx.compileBinary(seq, n, reg, active)
	case ast.Unary1:
		x, e1 := ctx.compile(seq, n.X, reg, active)
		errs = append(errs, e1...)
		switch n.Op {
		case "-":
			dst := alloc(reg)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpNeg, A: dst, B: x})
			return dst, errs
		case "not", "!":
			dst := alloc(reg)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpNot, A: dst, B: x})
			return dst, errs
		default: // "+" and postfix "'" (transpose is a no-op over scalars)
			return x, errs
		}
	case ast.If1:
		c, ce := ctx.compile(seq, n.Cond, reg, active)
		t, te := ctx.compile(seq, n.Then, reg, active)
		f, fe := ctx.compile(seq, n.Else, reg, active)
		errs = append(errs, ce...)
		errs = append(errs, te...)
		errs = append(errs, fe...)
		dst := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpSetCond, A: c})
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpIf, A: dst, B: t, C: f})
		return dst, errs
	default:
		idx := ctx.intern(0)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	}
}

func (ctx *buildCtx) compileVarRef(seq *[]bytecode.Instruction, name string, reg *int) (int, errors.List) {
	var errs errors.List
	switch name {
	case "time":
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: slotTime})
		return r, errs
	case "initial_time":
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: slotInitialTime})
		return r, errs
	case "final_time":
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: slotFinalTime})
		return r, errs
	}
	if common.IsDotted(name) {
		first, rest, _ := common.SplitDotted(name)
		if inst, ok := ctx.instances[first]; ok {
			if off, ok := inst.cm.VarSlot[common.Canonical(rest)]; ok {
				r := alloc(reg)
				*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: inst.base + off})
				return r, errs
			}
		}
	}
	off, ok := ctx.cm.VarSlot[name]
	if !ok {
		idx := ctx.intern(0)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	}
	r := alloc(reg)
	*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: off})
	return r, errs
}

func (ctx *buildCtx) compileSubscript(seq *[]bytecode.Instruction, n ast.Subscript1, reg *int, active map[string]int) (int, errors.List) {
	var errs errors.List
	ref, ok := n.Base.(ast.VarRef1)
	if !ok {
		base, e := ctx.compile(seq, n.Base, reg, active)
		return base, append(errs, e...)
	}
	name := common.Canonical(ref.Ident)
	shape, known := ctx.shapes[name]
	off, hasSlot := ctx.cm.VarSlot[name]
	if !known || !hasSlot {
		idx := ctx.intern(0)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	}
	st := strides(shape.sizes)

	// Single-axis dynamic subscript: compile the index expression and
	// use the SetSubscriptIndex/LoadSubscript runtime-indexing opcodes.
	if len(n.Subs) == 1 && len(shape.dims) == 1 {
		sub := n.Subs[0]
		if _, resolved := resolveSubArg(sub, shape.dims[0], active, ctx.dims); !resolved && !sub.Wildcard {
			idxReg, e := ctx.compile(seq, sub.Expr, reg, active)
			errs = append(errs, e...)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpSetSubscriptIndex, A: idxReg, B: shape.sizes[0]})
			dst := alloc(reg)
			*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadSubscript, A: dst, B: off})
			return dst, errs
		}
	}

	flat := 0
	for i, sub := range n.Subs {
		dimName := ""
		if i < len(shape.dims) {
			dimName = shape.dims[i]
		}
		idx, _ := resolveSubArg(sub, dimName, active, ctx.dims)
		if i < len(st) {
			flat += idx * st[i]
		}
	}
	dst := alloc(reg)
	*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: dst, B: off + flat})
	return dst, errs
}

// resolveSubArg resolves one subscript position to a constant 0-based
// element index, best-effort: wildcard and bare-dimension subscripts
// resolve against the enclosing apply-to-all's active index when the
// axis names match (the common broadcast idiom, e.g. `dst[D] = src[*]`
// inside an apply-to-all over D); anything else that cannot be resolved
// at compile time falls back to index 0 and reports unresolved so the
// caller can fall back to a runtime dynamic-index opcode instead.
func resolveSubArg(sub ast.SubArg1, dimName string, active map[string]int, dims *datamodel.DimTable) (int, bool) {
	if sub.Wildcard {
		if dimName != "" {
			if idx, ok := active[dimName]; ok {
				return idx, true
			}
		}
		return 0, true
	}
	if n, ok := sub.Expr.(ast.NumberLit1); ok {
		return int(n.Value) - 1, true
	}
	if ref, ok := sub.Expr.(ast.VarRef1); ok {
		name := common.Canonical(ref.Ident)
		if idx, ok := active[name]; ok {
			return idx, true
		}
		if dimName != "" {
			if idx, ok := dims.ElementIndex(dimName, name); ok {
				return idx, true
			}
		}
		return 0, true
	}
	return 0, false
}

func (ctx *buildCtx) compileCall(seq *[]bytecode.Instruction, n ast.Call1, reg *int, active map[string]int) (int, errors.List) {
	var errs errors.List
	name := n.Builtin.Name
	switch name {
	case "pi":
		idx := ctx.intern(math.Pi)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	case "inf":
		idx := ctx.intern(math.Inf(1))
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	case "dt", "time_step":
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadVar, A: r, B: slotDT})
		return r, errs
	case "ismoduleinput":
		val := 0.0
		if ref, ok := n.Args[0].(ast.VarRef1); ok && ctx.modInputs[common.Canonical(ref.Ident)] {
			val = 1
		}
		idx := ctx.intern(val)
		r := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpLoadConstant, A: r, B: idx})
		return r, errs
	}
	for i, a := range n.Args {
		r, e := ctx.compile(seq, a, reg, active)
		errs = append(errs, e...)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpMov, A: bytecode.CallWindowBase + i, B: r})
	}
	dst := alloc(reg)
	*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpApply, A: dst, B: len(n.Args), Text: name})
	return dst, errs
}

func (ctx *buildCtx) compileBinary(seq *[]bytecode.Instruction, n ast.Binary1, reg *int, active map[string]int) (int, errors.List) {
	var errs errors.List
	if n.Op == "//" {
		l, le := ctx.compile(seq, n.L, reg, active)
		r, re := ctx.compile(seq, n.R, reg, active)
		errs = append(errs, le...)
		errs = append(errs, re...)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpMov, A: bytecode.CallWindowBase, B: l})
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpMov, A: bytecode.CallWindowBase + 1, B: r})
		dst := alloc(reg)
		*seq = append(*seq, bytecode.Instruction{Op: bytecode.OpApply, A: dst, B: 2, Text: "safediv"})
		return dst, errs
	}
	l, le := ctx.compile(seq, n.L, reg, active)
	r, re := ctx.compile(seq, n.R, reg, active)
	errs = append(errs, le...)
	errs = append(errs, re...)
	dst := alloc(reg)
	var op bytecode.OpCode
	switch n.Op {
	case "+":
		op = bytecode.OpAdd
	case "-":
		op = bytecode.OpSub
	case "*":
		op = bytecode.OpMul
	case "/":
		op = bytecode.OpDiv
	case "%", "mod":
		op = bytecode.OpMod
	case "^":
		op = bytecode.OpExp
	case "=":
		op = bytecode.OpEq
	case "<>", "!=":
		op = bytecode.OpNeq
	case "<":
		op = bytecode.OpLt
	case "<=":
		op = bytecode.OpLte
	case ">":
		op = bytecode.OpGt
	case ">=":
		op = bytecode.OpGte
	case "and":
		op = bytecode.OpAnd
	case "or":
		op = bytecode.OpOr
	default:
		op = bytecode.OpAdd
	}
	*seq = append(*seq, bytecode.Instruction{Op: op, A: dst, B: l, C: r})
	return dst, errs
}
