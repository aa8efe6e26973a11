// Package slicer computes a dynamic backward program slice from an
// assertion backward to the instructions it actually depends on. It
// is the component every other package in this module exists to feed:
// control-flow/control-dependence graphs, the stack-effect oracle,
// the shadow stack simulator and the execution-flow reconstructor all
// come together here.
package slicer

import (
	"fmt"
	"time"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/flowbuilder"
	"checkedcov/internal/stackeffect"
	"checkedcov/internal/stacksim"
	"checkedcov/internal/trace"
)

// DynamicSlice is the de-duplicated result of slicing, in reverse
// execution order of first inclusion.
type DynamicSlice struct {
	OriginName   string
	Instructions []*bytecode.UniqueInstruction
}

// LocalVar identifies a local-variable definition or use, scoped to
// the procedure that owns the variable.
type LocalVar struct {
	Name         string
	CodeObjectID codeobject.ID
}

// GlobalVar identifies a module-level variable, scoped to the file
// defining it.
type GlobalVar struct {
	Name string
	File string
}

// NonlocalVar identifies a free/cell variable; Scope is the chain of
// enclosing procedure ids the variable's cell may be found at.
type NonlocalVar struct {
	Name  string
	Scope []codeobject.ID
}

func scopeContains(scope []codeobject.ID, id codeobject.ID) bool {
	for _, s := range scope {
		if s == id {
			return true
		}
	}
	return false
}

// SlicingCriterion names where to start slicing from: a specific
// occurrence of a static instruction, optionally seeded with known
// local/global variable dependencies (used for traced assertions that
// already know which variables they asserted on).
type SlicingCriterion struct {
	Instr           bytecode.UniqueInstruction
	Occurrence      int
	LocalVariables  []LocalVar
	GlobalVariables []GlobalVar
}

// context is the accumulating slicing state threaded through every
// backward step.
type context struct {
	ds []*bytecode.UniqueInstruction

	sc map[bytecode.Key]*bytecode.UniqueInstruction

	dLocal    []LocalVar
	dGlobal   []GlobalVar
	dNonlocal []NonlocalVar

	dAddresses  map[string]bool
	dAttributes map[string]bool

	attributeVariables map[string]bool
}

func newContext() *context {
	return &context{
		sc:                 map[bytecode.Key]*bytecode.UniqueInstruction{},
		dAddresses:         map[string]bool{},
		dAttributes:        map[string]bool{},
		attributeVariables: map[string]bool{},
	}
}

// Slicer computes dynamic slices against one registered set of
// procedures and one captured trace.
type Slicer struct {
	registry       *codeobject.Registry
	trace          *trace.ExecutionTrace
	builder        *flowbuilder.Builder
	maxSlicingTime time.Duration
}

// New returns a Slicer bound to reg and tr. maxSlicingTime bounds a
// single Slice call's wall-clock budget.
func New(reg *codeobject.Registry, tr *trace.ExecutionTrace, maxSlicingTime time.Duration) *Slicer {
	return &Slicer{
		registry:       reg,
		trace:          tr,
		builder:        flowbuilder.New(tr, reg),
		maxSlicingTime: maxSlicingTime,
	}
}

// FindTracePosition locates the trace position of the occurrence-th
// match of criterion's static instruction in the trace.
func FindTracePosition(tr *trace.ExecutionTrace, criterion SlicingCriterion) (int, error) {
	occurrences := 0
	want := criterion.Instr
	for pos := 0; pos < tr.Len(); pos++ {
		e, _ := tr.At(pos)
		if e.File == want.File && e.Opcode == want.Opcode && e.Line == want.Line && e.Offset == want.Offset {
			occurrences++
			if occurrences == criterion.Occurrence {
				return pos, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: slicing criterion occurrence %d", ErrInstructionNotFound, criterion.Occurrence)
}

// Slice performs the dynamic backward slice starting at criterion. If
// tracePosition is negative, it is derived from criterion.Occurrence
// via FindTracePosition.
func (s *Slicer) Slice(originName string, criterion SlicingCriterion, tracePosition int) (*DynamicSlice, error) {
	if tracePosition < 0 {
		pos, err := FindTracePosition(s.trace, criterion)
		if err != nil {
			return nil, err
		}
		tracePosition = pos
	}
	if criterion.Instr.Opcode.IsTraced() {
		tracePosition--
	}

	file := criterion.Instr.File
	coID := codeobject.ID(criterion.Instr.CodeObjectID)
	bbID := criterion.Instr.BlockID
	offset := criterion.Instr.Offset
	currInstr := criterion.Instr

	criterionInstr := criterion.Instr
	criterionInstr.SetInSlice()

	stackSimulation := true
	ts := stacksim.NewTraceStack()
	pops, pushes, err := stackeffect.Effect(criterionInstr.Opcode, criterionInstr.Arg, false)
	if err != nil {
		stackSimulation = false
	} else {
		ts.UpdatePushOperations(pushes, false)
		ts.UpdatePopOperations(pops, &criterionInstr, true)
	}

	ctx := newContext()
	ctx.ds = append(ctx.ds, &criterionInstr)
	ctx.dGlobal = append(ctx.dGlobal, criterion.GlobalVariables...)
	ctx.dLocal = append(ctx.dLocal, criterion.LocalVariables...)
	s.addControlDependencies(ctx, criterionInstr, coID)

	codeObjectDependent := false
	newAttributeObjectUses := map[string]bool{}
	var importBackCall *bytecode.UniqueInstruction

	deadline := time.Now().Add(s.maxSlicingTime)

	for {
		if time.Now().After(deadline) {
			return nil, ErrSlicingTimeout
		}

		lastState, err := s.builder.GetLastInstruction(file, currInstr, tracePosition, offset, coID, bbID, importBackCall)
		if err != nil {
			return nil, err
		}
		file = lastState.File
		offset = lastState.Offset
		coID = lastState.CodeObjectID
		bbID = lastState.BlockID

		if lastState.Exception {
			stackSimulation = false
		}
		if lastState.LastInstr == nil {
			return &DynamicSlice{OriginName: originName, Instructions: dedupeReversed(ctx.ds)}, nil
		}

		lastUniqueInstr := lastState.LastInstr

		var lastTraced trace.Event
		haveTraced := false
		if lastUniqueInstr.Opcode.IsTraced() {
			lastTraced, _ = s.trace.At(tracePosition)
			haveTraced = true
			tracePosition--
		}

		// Stack housekeeping.
		prevImportBackCall := ts.GetImportFrame()
		ts.SetAttributeUses(ctx.attributeVariables)
		if lastState.Returned {
			ts.PushStack(int(coID))
			ts.SetAttributeUses(newAttributeObjectUses)
			newAttributeObjectUses = map[string]bool{}
			ts.SetImportFrame(lastState.ImportBackCall)
		}
		if lastState.Call || lastState.ImportStart {
			ts.PopStack()
			if !stackSimulation {
				ts.PushArtificialStack()
				stackSimulation = true
			}
		}
		ctx.attributeVariables = ts.GetAttributeUses()
		importBackCall = ts.GetImportFrame()

		pops, pushes, err = stackeffect.Effect(lastUniqueInstr.Opcode, lastUniqueInstr.Arg, lastState.Jump)
		if err != nil {
			stackSimulation = false
		}

		controlDep := s.checkControlDependency(ctx, lastUniqueInstr, coID)

		var expDataDep bool
		var attributeCreationUses map[string]bool
		if haveTraced {
			expDataDep, attributeCreationUses, err = s.checkExplicitDataDependency(ctx, lastUniqueInstr, lastTraced)
			if err != nil {
				return nil, err
			}
		}
		for k := range attributeCreationUses {
			newAttributeObjectUses[k] = true
		}

		impDataDep := false
		if lastState.Call && codeObjectDependent {
			impDataDep = true
			codeObjectDependent = false

			if lastState.ImportStart && prevImportBackCall != nil {
				ctx.ds = append(ctx.ds, prevImportBackCall)
				numImportPops, _, _ := stackeffect.Effect(prevImportBackCall.Opcode, 0, false)
				ts.UpdatePopOperations(numImportPops, prevImportBackCall, true)
			}
		}

		includeUse := true
		if stackSimulation {
			var stackDep bool
			stackDep, includeUse = ts.UpdatePushOperations(pushes, lastState.Returned)
			if stackDep {
				impDataDep = true
			}
		}
		if lastState.Returned {
			codeObjectDependent = false
		}

		inSlice := controlDep || expDataDep || impDataDep
		if inSlice && !lastState.Call {
			codeObjectDependent = true
		}

		if lastState.Jump && lastUniqueInstr.Opcode.IsUncondJump() {
			inSlice = true
		}

		if inSlice {
			ctx.ds = append(ctx.ds, lastUniqueInstr)
		}
		if inSlice && lastUniqueInstr.Opcode.IsUse() && includeUse && haveTraced {
			if err := s.addUses(ctx, lastTraced); err != nil {
				return nil, err
			}
		}
		if inSlice {
			s.addControlDependencies(ctx, *lastUniqueInstr, coID)
		}
		if stackSimulation {
			ts.UpdatePopOperations(pops, lastUniqueInstr, inSlice)
		}

		currInstr = *lastUniqueInstr
	}
}

// dedupeReversed returns ds reversed with duplicates (by static
// identity) dropped, keeping the first occurrence encountered while
// scanning from the end of ds toward the start.
func dedupeReversed(ds []*bytecode.UniqueInstruction) []*bytecode.UniqueInstruction {
	seen := map[bytecode.Key]bool{}
	out := make([]*bytecode.UniqueInstruction, 0, len(ds))
	for i := len(ds) - 1; i >= 0; i-- {
		k := ds[i].Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ds[i])
	}
	return out
}

func (s *Slicer) checkControlDependency(ctx *context, instr *bytecode.UniqueInstruction, coID codeobject.ID) bool {
	if !instr.Opcode.IsCondBranch() {
		return false
	}
	meta := s.registry.Get(coID)
	successors := meta.CDG.Successors(instr.BlockID)

	succSet := map[int]bool{}
	for _, n := range successors {
		succSet[n] = true
	}

	dep := false
	for k, si := range ctx.sc {
		if succSet[si.BlockID] {
			delete(ctx.sc, k)
			dep = true
		}
	}
	return dep
}

func (s *Slicer) addControlDependencies(ctx *context, instr bytecode.UniqueInstruction, coID codeobject.ID) {
	meta := s.registry.Get(coID)
	for _, pred := range meta.CDG.Predecessors(instr.BlockID) {
		if !meta.CDG.IsArtificial(pred) {
			ctx.sc[instr.Key()] = &instr
			return
		}
	}
}

// isModuleBody reports whether coID names a module's top-level scope
// rather than a function or method.
func (s *Slicer) isModuleBody(coID codeobject.ID) bool {
	return s.registry.Get(coID).Parent == -1
}

func removeLocal(list []LocalVar, name string, coID codeobject.ID) ([]LocalVar, bool) {
	out := list[:0]
	found := false
	for _, lv := range list {
		if lv.Name == name && lv.CodeObjectID == coID {
			found = true
			continue
		}
		out = append(out, lv)
	}
	return out, found
}

func removeGlobal(list []GlobalVar, name, file string) ([]GlobalVar, bool) {
	out := list[:0]
	found := false
	for _, gv := range list {
		if gv.Name == name && gv.File == file {
			found = true
			continue
		}
		out = append(out, gv)
	}
	return out, found
}

func removeNonlocal(list []NonlocalVar, name string, coID codeobject.ID) ([]NonlocalVar, bool) {
	out := list[:0]
	found := false
	for _, nv := range list {
		if nv.Name == name && scopeContains(nv.Scope, coID) {
			found = true
			continue
		}
		out = append(out, nv)
	}
	return out, found
}

// checkExplicitDataDependency implements the explicit data-dependence
// check for a def instruction: does traced's definition cover any
// outstanding use recorded in ctx? Returns whether it does, plus any
// attribute-creation suffixes discovered while promoting an
// object-creation def (STORE_FAST x = SomeClass() style patterns,
// where the class's own attributes become covered too).
func (s *Slicer) checkExplicitDataDependency(ctx *context, instr *bytecode.UniqueInstruction, traced trace.Event) (bool, map[string]bool, error) {
	if !instr.Opcode.IsDef() {
		return false, nil, nil
	}

	cover := false
	attributeCreationUses := map[string]bool{}

	switch traced.Kind {
	case trace.Memory:
		switch {
		case instr.Opcode.IsLocalAccess():
			var found bool
			ctx.dLocal, found = removeLocal(ctx.dLocal, traced.Name, codeobject.ID(traced.CodeObjectID))
			cover = found
		case instr.Opcode.IsNameAccess():
			if s.isModuleBody(codeobject.ID(traced.CodeObjectID)) {
				var found bool
				ctx.dGlobal, found = removeGlobal(ctx.dGlobal, traced.Name, traced.File)
				cover = found
			} else {
				var found bool
				ctx.dLocal, found = removeLocal(ctx.dLocal, traced.Name, codeobject.ID(traced.CodeObjectID))
				cover = found
			}
		case instr.Opcode.IsGlobalAccess():
			var found bool
			ctx.dGlobal, found = removeGlobal(ctx.dGlobal, traced.Name, traced.File)
			cover = found
		case instr.Opcode.IsDerefAccess():
			var found bool
			ctx.dNonlocal, found = removeNonlocal(ctx.dNonlocal, traced.Name, codeobject.ID(traced.CodeObjectID))
			cover = found
		case instr.Opcode == bytecode.IMPORT_NAME:
			if traced.ObjectCreation {
				addr := hexAddr(traced.Address)
				if ctx.dAddresses[addr] {
					delete(ctx.dAddresses, addr)
					cover = true
				}
			}
		default:
			return false, nil, fmt.Errorf("%w: def opcode %v on a memory event", ErrUnrecognizedOpcode, instr.Opcode)
		}

		if traced.Address != 0 && traced.ObjectCreation {
			prefix := hexAddr(traced.Address) + "_"
			for k := range ctx.dAttributes {
				if len(k) > len(prefix) && k[:len(prefix)] == prefix {
					delete(ctx.dAttributes, k)
					attributeCreationUses[k[len(prefix):]] = true
					cover = true
				}
			}
		}
		if traced.IsMutable && traced.ObjectCreation {
			addr := hexAddr(traced.Address)
			if ctx.dAddresses[addr] {
				delete(ctx.dAddresses, addr)
				cover = true
			}
		}
		if ctx.attributeVariables[traced.Name] {
			delete(ctx.attributeVariables, traced.Name)
			cover = true
		}

	case trace.Attribute:
		combined := traced.Combined()
		if ctx.dAttributes[combined] {
			delete(ctx.dAttributes, combined)
			cover = true
		}
		if ctx.dAddresses[hexAddr(traced.SourceAddr)] {
			cover = true
		}
	}

	return cover, attributeCreationUses, nil
}

// addUses records the memory/attribute locations traced reads, so a
// later (earlier in execution) def of that same location is
// recognised as covering this use.
func (s *Slicer) addUses(ctx *context, traced trace.Event) error {
	switch traced.Kind {
	case trace.Memory:
		if traced.Address != 0 && traced.IsMutable {
			ctx.dAddresses[hexAddr(traced.Address)] = true
		}
		switch {
		case traced.Opcode == bytecode.LOAD_FAST:
			ctx.dLocal = append(ctx.dLocal, LocalVar{Name: traced.Name, CodeObjectID: codeobject.ID(traced.CodeObjectID)})
		case traced.Opcode == bytecode.LOAD_NAME:
			if s.isModuleBody(codeobject.ID(traced.CodeObjectID)) {
				ctx.dGlobal = append(ctx.dGlobal, GlobalVar{Name: traced.Name, File: traced.File})
			} else {
				ctx.dLocal = append(ctx.dLocal, LocalVar{Name: traced.Name, CodeObjectID: codeobject.ID(traced.CodeObjectID)})
			}
		case traced.Opcode == bytecode.LOAD_GLOBAL:
			ctx.dGlobal = append(ctx.dGlobal, GlobalVar{Name: traced.Name, File: traced.File})
		case traced.Opcode == bytecode.LOAD_CLOSURE || traced.Opcode == bytecode.LOAD_DEREF || traced.Opcode == bytecode.LOAD_CLASSDEREF:
			var scope []codeobject.ID
			id := codeobject.ID(traced.CodeObjectID)
			for {
				scope = append(scope, id)
				meta := s.registry.Get(id)
				if meta.Parent == -1 || meta.Parent == id {
					break
				}
				id = meta.Parent
			}
			ctx.dNonlocal = append(ctx.dNonlocal, NonlocalVar{Name: traced.Name, Scope: scope})
		default:
			return fmt.Errorf("%w: use opcode %v on a memory event", ErrUnrecognizedOpcode, traced.Opcode)
		}

	case trace.Attribute:
		if traced.ValueAddr != 0 && traced.AttrMutable {
			ctx.dAddresses[hexAddr(traced.ValueAddr)] = true
		}
		if traced.ValueAddr != 0 {
			ctx.dAttributes[traced.Combined()] = true
		}
		if traced.ValueAddr == 0 || traced.Opcode == bytecode.IMPORT_FROM {
			ctx.dAddresses[hexAddr(traced.SourceAddr)] = true
		}
	}
	return nil
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}
