package flowbuilder

import (
	"testing"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/cdg"
	"checkedcov/internal/cfg"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/trace"
)

func newRegistry(t *testing.T, disasm []bytecode.UniqueInstruction) (*codeobject.Registry, codeobject.ID) {
	t.Helper()
	insts := []bytecode.Instruction{{Opcode: bytecode.LOAD_FAST}, {Opcode: bytecode.STORE_FAST}}
	target := func(i int, inst bytecode.Instruction) (int, bool) { return 0, false }
	g, err := cfg.Build(insts, bytecode.DefaultCategorizer{}, target)
	if err != nil {
		t.Fatal(err)
	}
	c := cdg.Compute(g)

	r := codeobject.NewRegistry()
	id := r.Register("mod.py", -1, g, c, disasm)
	return r, id
}

func loc(coID codeobject.ID, bbID, offset int) bytecode.Location {
	return bytecode.Location{File: "mod.py", CodeObjectID: int(coID), BlockID: bbID, Offset: offset}
}

func TestInBlockPredecessorTraceExhausted(t *testing.T) {
	disasm := []bytecode.UniqueInstruction{
		{Instruction: bytecode.Instruction{Opcode: bytecode.LOAD_FAST, Line: 1}, Location: loc(0, 0, 0)},
		{Instruction: bytecode.Instruction{Opcode: bytecode.STORE_FAST, Line: 1}, Location: loc(0, 0, 2)},
	}
	r, id := newRegistry(t, disasm)
	tr := trace.NewExecutionTrace()
	b := New(tr, r)

	instr := disasm[1]
	state, err := b.GetLastInstruction("mod.py", instr, -1, 2, id, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state.LastInstr == nil || state.LastInstr.Opcode != bytecode.LOAD_FAST {
		t.Fatalf("expected predecessor LOAD_FAST, got %+v", state.LastInstr)
	}
	if state.Offset != 0 {
		t.Errorf("Offset = %d, want 0", state.Offset)
	}
}

func TestInBlockPredecessorWithTrace(t *testing.T) {
	disasm := []bytecode.UniqueInstruction{
		{Instruction: bytecode.Instruction{Opcode: bytecode.LOAD_FAST, Line: 1}, Location: loc(0, 0, 0)},
		{Instruction: bytecode.Instruction{Opcode: bytecode.STORE_FAST, Line: 1}, Location: loc(0, 0, 2)},
	}
	r, id := newRegistry(t, disasm)
	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Memory, CodeObjectID: id, NodeID: 0, Opcode: bytecode.LOAD_FAST, Offset: 0})
	b := New(tr, r)

	instr := disasm[1]
	state, err := b.GetLastInstruction("mod.py", instr, 0, 2, id, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state.LastInstr == nil || state.LastInstr.Opcode != bytecode.LOAD_FAST {
		t.Fatalf("expected predecessor LOAD_FAST, got %+v", state.LastInstr)
	}
	if state.Call || state.Returned || state.Jump || state.Exception {
		t.Errorf("unexpected flags set: %+v", state)
	}
}

func TestCallBoundary(t *testing.T) {
	disasm := []bytecode.UniqueInstruction{
		{Instruction: bytecode.Instruction{Opcode: bytecode.STORE_FAST, Line: 1}, Location: loc(0, 0, 0)},
		{Instruction: bytecode.Instruction{Opcode: bytecode.CALL_FUNCTION, Line: 5}, Location: loc(0, 0, 10)},
	}
	r, id := newRegistry(t, disasm)
	tr := trace.NewExecutionTrace()
	tr.Append(trace.Event{Kind: trace.Call, File: "mod.py", CodeObjectID: id, NodeID: 0, Opcode: bytecode.CALL_FUNCTION, Offset: 10})
	b := New(tr, r)

	instr := disasm[0]
	state, err := b.GetLastInstruction("mod.py", instr, 0, 0, id, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Call {
		t.Error("expected Call flag set at a call boundary")
	}
	if state.LastInstr == nil || state.LastInstr.Opcode != bytecode.CALL_FUNCTION {
		t.Fatalf("expected predecessor CALL_FUNCTION, got %+v", state.LastInstr)
	}
}

func TestExhaustedNoPredecessor(t *testing.T) {
	disasm := []bytecode.UniqueInstruction{
		{Instruction: bytecode.Instruction{Opcode: bytecode.LOAD_FAST, Line: 1}, Location: loc(0, 0, 0)},
	}
	r, id := newRegistry(t, disasm)
	tr := trace.NewExecutionTrace()
	b := New(tr, r)

	instr := disasm[0]
	state, err := b.GetLastInstruction("mod.py", instr, -1, 0, id, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if state.LastInstr != nil {
		t.Errorf("expected exhausted flow (nil predecessor), got %+v", state.LastInstr)
	}
}
