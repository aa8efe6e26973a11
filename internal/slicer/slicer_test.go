package slicer

import (
	"errors"
	"testing"
	"time"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/cdg"
	"checkedcov/internal/cfg"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/trace"
)

// buildStraightLine registers a single-block procedure with insts and
// returns the registry, its id and the matching UniqueInstruction
// disassembly.
func buildStraightLine(t *testing.T, insts []bytecode.Instruction) (*codeobject.Registry, codeobject.ID, []bytecode.UniqueInstruction) {
	t.Helper()
	target := func(i int, inst bytecode.Instruction) (int, bool) { return 0, false }
	g, err := cfg.Build(insts, bytecode.DefaultCategorizer{}, target)
	if err != nil {
		t.Fatal(err)
	}
	c := cdg.Compute(g)
	r := codeobject.NewRegistry()

	disasm := make([]bytecode.UniqueInstruction, len(insts))
	for i, in := range insts {
		disasm[i] = bytecode.UniqueInstruction{
			Instruction: in,
			Location:    bytecode.Location{File: "mod.py", CodeObjectID: 0, BlockID: 0, Offset: i * 2},
		}
	}
	id := r.Register("mod.py", -1, g, c, disasm)
	for i := range disasm {
		disasm[i].CodeObjectID = int(id)
	}
	return r, id, disasm
}

// TestSliceResultAssignReturn covers a straight-line assign-then-return
// scenario: result = 1; return result — the full program is relevant,
// nothing is excludable.
func TestSliceResultAssignReturn(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_CONST, Line: 1},
		{Opcode: bytecode.STORE_FAST, Arg: 0, Line: 1},
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 2},
		{Opcode: bytecode.RETURN_VALUE, Line: 2},
	}
	r, id, disasm := buildStraightLine(t, insts)

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_FAST, Line: 1, Offset: 2, Name: "result"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 2, Offset: 4, Name: "result"})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.RETURN_VALUE, Line: 2, Offset: 6})

	s := New(r, tr, time.Second)
	criterion := SlicingCriterion{Instr: disasm[3], Occurrence: 1}

	ds, err := s.Slice("test_result", criterion, -1)
	if err != nil {
		t.Fatal(err)
	}

	foundStore, foundLoad, foundConst := false, false, false
	for _, in := range ds.Instructions {
		switch in.Opcode {
		case bytecode.STORE_FAST:
			foundStore = true
		case bytecode.LOAD_FAST:
			foundLoad = true
		case bytecode.LOAD_CONST:
			foundConst = true
		}
	}
	if !foundStore || !foundLoad || !foundConst {
		t.Fatalf("expected full slice to include LOAD_CONST, STORE_FAST and LOAD_FAST, got %+v", ds.Instructions)
	}
}

// buildWithCFG is buildStraightLine generalized to an arbitrary
// (possibly branching) target function: BlockID is recovered from the
// built CFG's block ranges instead of hardcoded to 0, and IsJumpTarget
// is set on whichever instruction a branch's Arg resolves to.
func buildWithCFG(t *testing.T, insts []bytecode.Instruction, target func(i int, inst bytecode.Instruction) (int, bool)) (*codeobject.Registry, codeobject.ID, []bytecode.UniqueInstruction) {
	t.Helper()
	g, err := cfg.Build(insts, bytecode.DefaultCategorizer{}, target)
	if err != nil {
		t.Fatal(err)
	}
	c := cdg.Compute(g)
	r := codeobject.NewRegistry()

	blockOf := make([]int, len(insts))
	for _, b := range g.Blocks {
		for i := b.Start; i < b.End; i++ {
			blockOf[i] = b.ID
		}
	}
	jumpTargets := map[int]bool{}
	for i, in := range insts {
		if to, ok := target(i, in); ok {
			jumpTargets[to] = true
		}
	}

	disasm := make([]bytecode.UniqueInstruction, len(insts))
	for i, in := range insts {
		disasm[i] = bytecode.UniqueInstruction{
			Instruction:  in,
			Location:     bytecode.Location{File: "mod.py", CodeObjectID: 0, BlockID: blockOf[i], Offset: i * 2},
			IsJumpTarget: jumpTargets[i],
		}
	}
	id := r.Register("mod.py", -1, g, c, disasm)
	for i := range disasm {
		disasm[i].CodeObjectID = int(id)
	}
	return r, id, disasm
}

// TestSliceExcludesUnusedAssignment covers S2: dead_value = 1 is never
// read before result is returned, so neither the store nor the
// constant that feeds it should end up in the slice.
func TestSliceExcludesUnusedAssignment(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_CONST, Line: 1},         // 0
		{Opcode: bytecode.STORE_FAST, Arg: 0, Line: 1}, // 1: dead_value = 1
		{Opcode: bytecode.LOAD_CONST, Line: 2},         // 2
		{Opcode: bytecode.STORE_FAST, Arg: 1, Line: 2}, // 3: result = 2
		{Opcode: bytecode.LOAD_FAST, Arg: 1, Line: 3},  // 4
		{Opcode: bytecode.RETURN_VALUE, Line: 3},       // 5
	}
	r, id, disasm := buildStraightLine(t, insts)

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_FAST, Line: 1, Offset: 2, Name: "dead_value"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_FAST, Line: 2, Offset: 6, Name: "result"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 3, Offset: 8, Name: "result"})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.RETURN_VALUE, Line: 3, Offset: 10})

	s := New(r, tr, time.Second)
	ds, err := s.Slice("test_unused", SlicingCriterion{Instr: disasm[5], Occurrence: 1}, -1)
	if err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for _, in := range ds.Instructions {
		got[in.Offset] = true
	}
	for _, want := range []int{6, 8, 10} {
		if !got[want] {
			t.Errorf("offset %d missing from slice, got %+v", want, ds.Instructions)
		}
	}
	for _, excluded := range []int{0, 2} {
		if got[excluded] {
			t.Errorf("offset %d (dead_value assignment) should be excluded from slice, got %+v", excluded, ds.Instructions)
		}
	}
}

// TestSliceTransitiveDependenceThroughIntermediateVariable covers S3:
// a = 1; b = a; return b — a's assignment is two hops away from the
// criterion but still belongs in the slice.
func TestSliceTransitiveDependenceThroughIntermediateVariable(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_CONST, Line: 1},        // 0
		{Opcode: bytecode.STORE_FAST, Arg: 0, Line: 1}, // 1: a = 1
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 2},  // 2
		{Opcode: bytecode.STORE_FAST, Arg: 1, Line: 2}, // 3: b = a
		{Opcode: bytecode.LOAD_FAST, Arg: 1, Line: 3},  // 4
		{Opcode: bytecode.RETURN_VALUE, Line: 3},       // 5
	}
	r, id, disasm := buildStraightLine(t, insts)

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_FAST, Line: 1, Offset: 2, Name: "a"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 2, Offset: 4, Name: "a"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_FAST, Line: 2, Offset: 6, Name: "b"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 3, Offset: 8, Name: "b"})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.RETURN_VALUE, Line: 3, Offset: 10})

	s := New(r, tr, time.Second)
	ds, err := s.Slice("test_transitive", SlicingCriterion{Instr: disasm[5], Occurrence: 1}, -1)
	if err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for _, in := range ds.Instructions {
		got[in.Offset] = true
	}
	for offset := 0; offset <= 10; offset += 2 {
		if !got[offset] {
			t.Errorf("offset %d should be in the transitive slice, got %+v", offset, ds.Instructions)
		}
	}
}

// TestSliceConditionalBranchControlDependence covers S4: the branch
// condition and the branch instruction itself must be pulled into the
// slice of an instruction in one of its arms, purely through CDG
// control dependence, while the unreached arm stays out.
func TestSliceConditionalBranchControlDependence(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 1},         // 0: if flag:
		{Opcode: bytecode.POP_JUMP_IF_FALSE, Arg: 4, Line: 1}, // 1
		{Opcode: bytecode.LOAD_CONST, Line: 2},                // 2:   return 1
		{Opcode: bytecode.RETURN_VALUE, Line: 2},              // 3
		{Opcode: bytecode.LOAD_CONST, Line: 3},                // 4: return 0
		{Opcode: bytecode.RETURN_VALUE, Line: 3},              // 5
	}
	target := func(i int, inst bytecode.Instruction) (int, bool) {
		if inst.Opcode.IsCondBranch() || inst.Opcode.IsUncondJump() {
			return inst.Arg, true
		}
		return 0, false
	}
	r, id, disasm := buildWithCFG(t, insts, target)

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 1, Offset: 0, Name: "flag"})
	tr.Append(trace.Event{Kind: trace.Control, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.POP_JUMP_IF_FALSE, Line: 1, Offset: 2, TargetBlockID: 2})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: id, NodeID: 1,
		Opcode: bytecode.RETURN_VALUE, Line: 2, Offset: 6})

	s := New(r, tr, time.Second)
	ds, err := s.Slice("test_branch", SlicingCriterion{Instr: disasm[3], Occurrence: 1}, -1)
	if err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for _, in := range ds.Instructions {
		got[in.Offset] = true
	}
	for _, want := range []int{0, 2, 4, 6} {
		if !got[want] {
			t.Errorf("offset %d missing from branch slice, got %+v", want, ds.Instructions)
		}
	}
	for _, excluded := range []int{8, 10} {
		if got[excluded] {
			t.Errorf("offset %d (unreached else-arm) should be excluded, got %+v", excluded, ds.Instructions)
		}
	}
}

// TestSliceAttributePartialCover covers S5: obj.a and obj.b are
// distinct attribute-dependence keys on the same object address, so
// covering obj.a must not also cover the unrelated obj.b assignment.
func TestSliceAttributePartialCover(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 1}, // 0: obj.a = 1
		{Opcode: bytecode.LOAD_CONST, Line: 1},        // 1
		{Opcode: bytecode.STORE_ATTR, Line: 1},        // 2
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 2}, // 3: obj.b = 2
		{Opcode: bytecode.LOAD_CONST, Line: 2},        // 4
		{Opcode: bytecode.STORE_ATTR, Line: 2},        // 5
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 3}, // 6: return obj.a
		{Opcode: bytecode.LOAD_ATTR, Line: 3},         // 7
		{Opcode: bytecode.RETURN_VALUE, Line: 3},      // 8
	}
	r, id, disasm := buildStraightLine(t, insts)

	const objAddr = 0x1000
	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 1, Offset: 0, Name: "obj"})
	tr.Append(trace.Event{Kind: trace.Attribute, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_ATTR, Line: 1, Offset: 4, SourceAddr: objAddr, AttrName: "a"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 2, Offset: 6, Name: "obj"})
	tr.Append(trace.Event{Kind: trace.Attribute, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.STORE_ATTR, Line: 2, Offset: 10, SourceAddr: objAddr, AttrName: "b"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 3, Offset: 12, Name: "obj"})
	tr.Append(trace.Event{Kind: trace.Attribute, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_ATTR, Line: 3, Offset: 14, SourceAddr: objAddr, AttrName: "a", ValueAddr: 0x2000})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.RETURN_VALUE, Line: 3, Offset: 16})

	s := New(r, tr, time.Second)
	ds, err := s.Slice("test_attr", SlicingCriterion{Instr: disasm[8], Occurrence: 1}, -1)
	if err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for _, in := range ds.Instructions {
		got[in.Offset] = true
	}
	for _, want := range []int{0, 2, 4, 12, 14, 16} {
		if !got[want] {
			t.Errorf("offset %d (obj.a chain) missing from slice, got %+v", want, ds.Instructions)
		}
	}
	for _, excluded := range []int{6, 8, 10} {
		if got[excluded] {
			t.Errorf("offset %d (unrelated obj.b assignment) should be excluded, got %+v", excluded, ds.Instructions)
		}
	}
}

// TestSliceNonlocalClosureVariable covers S6: a STORE_DEREF/LOAD_DEREF
// pair resolves through the enclosing-scope chain built from the
// registry's Parent links, and an unrelated nonlocal assignment that
// is never read stays excluded exactly like a dead local.
func TestSliceNonlocalClosureVariable(t *testing.T) {
	outerInsts := []bytecode.Instruction{{Opcode: bytecode.RETURN_VALUE, Line: 1}}
	outerReg, outerID, _ := buildStraightLine(t, outerInsts)

	innerInsts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_CONST, Line: 1},          // 0
		{Opcode: bytecode.STORE_DEREF, Arg: 0, Line: 1}, // 1: other = 99, never read
		{Opcode: bytecode.LOAD_CONST, Line: 2},          // 2
		{Opcode: bytecode.STORE_DEREF, Arg: 1, Line: 2}, // 3: counter = 5
		{Opcode: bytecode.LOAD_DEREF, Arg: 1, Line: 3},  // 4
		{Opcode: bytecode.RETURN_VALUE, Line: 3},        // 5
	}
	target := func(i int, inst bytecode.Instruction) (int, bool) { return 0, false }
	g, err := cfg.Build(innerInsts, bytecode.DefaultCategorizer{}, target)
	if err != nil {
		t.Fatal(err)
	}
	c := cdg.Compute(g)
	disasm := make([]bytecode.UniqueInstruction, len(innerInsts))
	for i, in := range innerInsts {
		disasm[i] = bytecode.UniqueInstruction{
			Instruction: in,
			Location:    bytecode.Location{File: "mod.py", CodeObjectID: 0, BlockID: 0, Offset: i * 2},
		}
	}
	innerID := outerReg.Register("mod.py", outerID, g, c, disasm)
	for i := range disasm {
		disasm[i].CodeObjectID = int(innerID)
	}

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: innerID, NodeID: 0,
		Opcode: bytecode.STORE_DEREF, Line: 1, Offset: 2, Name: "other"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: innerID, NodeID: 0,
		Opcode: bytecode.STORE_DEREF, Line: 2, Offset: 6, Name: "counter"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: innerID, NodeID: 0,
		Opcode: bytecode.LOAD_DEREF, Line: 3, Offset: 8, Name: "counter"})
	tr.Append(trace.Event{Kind: trace.Return, File: "mod.py", CodeObjectID: innerID, NodeID: 0,
		Opcode: bytecode.RETURN_VALUE, Line: 3, Offset: 10})

	s := New(outerReg, tr, time.Second)
	ds, err := s.Slice("test_nonlocal", SlicingCriterion{Instr: disasm[5], Occurrence: 1}, -1)
	if err != nil {
		t.Fatal(err)
	}

	got := map[int]bool{}
	for _, in := range ds.Instructions {
		got[in.Offset] = true
	}
	for _, want := range []int{4, 6, 8, 10} {
		if !got[want] {
			t.Errorf("offset %d (counter chain) missing from slice, got %+v", want, ds.Instructions)
		}
	}
	for _, excluded := range []int{0, 2} {
		if got[excluded] {
			t.Errorf("offset %d (unread nonlocal 'other') should be excluded, got %+v", excluded, ds.Instructions)
		}
	}
}

func TestFindTracePositionOccurrence(t *testing.T) {
	insts := []bytecode.Instruction{
		{Opcode: bytecode.LOAD_FAST, Arg: 0, Line: 1},
		{Opcode: bytecode.RETURN_VALUE, Line: 1},
	}
	_, id, disasm := buildStraightLine(t, insts)

	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 1, Offset: 0, Name: "x"})
	tr.Append(trace.Event{Kind: trace.Memory, File: "mod.py", CodeObjectID: id, NodeID: 0,
		Opcode: bytecode.LOAD_FAST, Line: 1, Offset: 0, Name: "x"})

	pos, err := FindTracePosition(tr, SlicingCriterion{Instr: disasm[0], Occurrence: 2})
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 {
		t.Errorf("pos = %d, want 1", pos)
	}
}

func TestFindTracePositionNotFound(t *testing.T) {
	insts := []bytecode.Instruction{{Opcode: bytecode.RETURN_VALUE, Line: 1}}
	_, _, disasm := buildStraightLine(t, insts)
	tr := trace.NewExecutionTrace()

	_, err := FindTracePosition(tr, SlicingCriterion{Instr: disasm[0], Occurrence: 1})
	if !errors.Is(err, ErrInstructionNotFound) {
		t.Fatalf("expected ErrInstructionNotFound, got %v", err)
	}
}

func TestDedupeReversedKeepsFirstSeenFromEnd(t *testing.T) {
	a := &bytecode.UniqueInstruction{Instruction: bytecode.Instruction{Opcode: bytecode.LOAD_FAST}, Location: bytecode.Location{Offset: 0}}
	b := &bytecode.UniqueInstruction{Instruction: bytecode.Instruction{Opcode: bytecode.STORE_FAST}, Location: bytecode.Location{Offset: 2}}
	aAgain := &bytecode.UniqueInstruction{Instruction: bytecode.Instruction{Opcode: bytecode.LOAD_FAST}, Location: bytecode.Location{Offset: 0}}

	out := dedupeReversed([]*bytecode.UniqueInstruction{a, b, aAgain})
	if len(out) != 2 {
		t.Fatalf("expected 2 deduplicated entries, got %d", len(out))
	}
	if out[0] != aAgain || out[1] != b {
		t.Errorf("expected reverse order with last occurrence of a kept, got %+v", out)
	}
}
