// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package isax86

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/cfg"
)

func TestCategorizerControlFlow(t *testing.T) {
	var c Categorizer
	if !c.IsCall(bytecode.Op(x86asm.CALL)) {
		t.Error("CALL should be a call")
	}
	if !c.IsReturn(bytecode.Op(x86asm.RET)) {
		t.Error("RET should be a return")
	}
	if !c.IsUncondJump(bytecode.Op(x86asm.JMP)) {
		t.Error("JMP should be an unconditional jump")
	}
	if !c.IsCondBranch(bytecode.Op(x86asm.JE)) {
		t.Error("JE should be a conditional branch")
	}
	if c.IsCondBranch(bytecode.Op(x86asm.MOV)) {
		t.Error("MOV should not be classified as a branch")
	}
}

func TestDisassembleAndBuildCFG(t *testing.T) {
	// xor eax, eax ; ret
	text := []byte{0x31, 0xC0, 0xC3}
	d := Disassemble(text, 0x1000)
	if len(d.Insts) != 2 {
		t.Fatalf("expected 2 decoded instructions, got %d (%+v)", len(d.Insts), d.Insts)
	}
	if x86asm.Op(d.Insts[0].Opcode) != x86asm.XOR {
		t.Errorf("first instruction = %v, want XOR", x86asm.Op(d.Insts[0].Opcode))
	}

	var c Categorizer
	g, err := cfg.Build(d.Insts, c, d.TargetResolver())
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Blocks) != 1 {
		t.Fatalf("expected a single straight-line block, got %d", len(g.Blocks))
	}
}

func TestDisassembleUndecodableByte(t *testing.T) {
	d := Disassemble([]byte{0x0F, 0xFF}, 0)
	if len(d.Insts) == 0 {
		t.Fatal("expected at least one degraded instruction for an undecodable byte")
	}
}
