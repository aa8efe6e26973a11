// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package isax86 adapts x86-64 machine code, decoded with
// golang.org/x/arch/x86/x86asm, into the abstract instruction shape
// internal/bytecode defines, so the slicer core can walk a second,
// independently-sourced instruction stream instead of only the
// CPython bytecode internal/codeobject is normally fed with.
package isax86

import (
	"golang.org/x/arch/x86/x86asm"

	"checkedcov/internal/bytecode"
)

// Categorizer classifies x86-64 instructions for the slicer core. Its
// four control-flow predicates mirror asm.Control's CALL/RET/Jcc/JMP
// switch; IsDef and IsUse always report false.
type Categorizer struct{}

func (Categorizer) IsDef(op bytecode.Op) bool { return false }
func (Categorizer) IsUse(op bytecode.Op) bool { return false }

func (Categorizer) IsCondBranch(op bytecode.Op) bool {
	switch x86asm.Op(op) {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE, x86asm.JECXZ,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

func (Categorizer) IsUncondJump(op bytecode.Op) bool {
	return x86asm.Op(op) == x86asm.JMP
}

func (Categorizer) IsCall(op bytecode.Op) bool {
	return x86asm.Op(op) == x86asm.CALL
}

func (Categorizer) IsReturn(op bytecode.Op) bool {
	switch x86asm.Op(op) {
	case x86asm.RET, x86asm.LRET:
		return true
	}
	return false
}

// Disassembly is a decoded instruction stream paired with the
// originating byte address of each entry, so a jump's Arg (an
// absolute target address) can later be resolved back to an
// instruction index by PCs.
type Disassembly struct {
	Insts []bytecode.Instruction
	PCs   []uint64
}

// Disassemble decodes a run of x86-64 machine code starting at pc into
// the flat instruction stream internal/cfg.Build consumes. Undecodable
// bytes become a one-byte NOP-shaped instruction (bytecode.Op(0)), the
// same degradation asm.DisasmX86_64 falls back to, so a bad decode
// stops the stream from silently losing byte alignment.
func Disassemble(text []byte, pc uint64) Disassembly {
	var d Disassembly
	line := 0
	for len(text) > 0 {
		inst, err := x86asm.Decode(text, 64)
		size := inst.Len
		op := inst.Op
		if err != nil || size == 0 || op == 0 {
			op = 0
			size = 1
		}
		d.Insts = append(d.Insts, bytecode.Instruction{
			Opcode: bytecode.Op(op),
			Arg:    jumpTargetArg(inst, pc, size),
			Line:   line,
		})
		d.PCs = append(d.PCs, pc)
		text = text[size:]
		pc += uint64(size)
		line++
	}
	return d
}

// TargetResolver builds the "target" callback internal/cfg.Build
// expects: it resolves a jump instruction's Arg (an absolute byte
// address, as Disassemble records it) to the index of the instruction
// starting at that address.
func (d Disassembly) TargetResolver() func(i int, inst bytecode.Instruction) (int, bool) {
	byPC := make(map[uint64]int, len(d.PCs))
	for i, pc := range d.PCs {
		byPC[pc] = i
	}
	return func(i int, inst bytecode.Instruction) (int, bool) {
		idx, ok := byPC[uint64(inst.Arg)]
		return idx, ok
	}
}

// jumpTargetArg returns the absolute byte address a relative branch
// operand points at (pc + size + rel), which TargetResolver later maps
// back to an instruction index. It returns 0 when the first operand is
// not a relative branch target.
func jumpTargetArg(inst x86asm.Inst, pc uint64, size int) int {
	if inst.Args[0] == nil {
		return 0
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0
	}
	return int(int64(pc) + int64(size) + int64(rel))
}
