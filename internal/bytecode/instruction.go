package bytecode

import "fmt"

// Instruction is an immutable record identifying the operation at a
// static position. arg is opaque to this package: its
// interpretation (operand count, constant index, jump target...)
// belongs to the stack-effect oracle and to whichever ISA adapter
// produced it.
type Instruction struct {
	Opcode Op
	Arg    int
	Line   int
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s(%d) @line %d", i.Opcode, i.Arg, i.Line)
}

// Location pins an Instruction to a concrete static position within a
// registered code object.
type Location struct {
	File         string
	CodeObjectID int
	BlockID      int
	Offset       int
}

// UniqueInstruction combines an Instruction with its Location. Two
// UniqueInstructions are equal iff (Opcode, CodeObjectID, BlockID,
// Offset) match — Line and Arg are deliberately excluded
// from the identity so that re-deriving the same static instruction
// from different trace events still de-duplicates correctly.
type UniqueInstruction struct {
	Instruction
	Location

	// IsJumpTarget is recovered from the pre-instrumentation
	// disassembly.
	IsJumpTarget bool

	inSlice bool
}

// Key is the hash key used to de-duplicate slice members.
type Key struct {
	Opcode       Op
	CodeObjectID int
	BlockID      int
	Offset       int
}

func (u UniqueInstruction) Key() Key {
	return Key{u.Opcode, u.CodeObjectID, u.BlockID, u.Offset}
}

// InSlice reports whether this occurrence has been marked as part of
// the slice under construction.
func (u *UniqueInstruction) InSlice() bool { return u.inSlice }

// SetInSlice marks this occurrence as part of the slice.
func (u *UniqueInstruction) SetInSlice() { u.inSlice = true }

func (u UniqueInstruction) String() string {
	return fmt.Sprintf("%s [co=%d bb=%d off=%d] %s", u.Instruction, u.CodeObjectID, u.BlockID, u.Offset, u.File)
}

// Categorizer classifies opcodes for an instruction set. bytecode.Op's
// own methods are the default (CPython) categorizer; internal/isax86
// provides a second implementation over x86-64 machine code so the
// slicer core is exercised against more than one instruction source.
type Categorizer interface {
	IsDef(Op) bool
	IsUse(Op) bool
	IsCondBranch(Op) bool
	IsUncondJump(Op) bool
	IsCall(Op) bool
	IsReturn(Op) bool
}

// DefaultCategorizer classifies opcodes using the CPython category
// tables in opcode.go.
type DefaultCategorizer struct{}

func (DefaultCategorizer) IsDef(o Op) bool        { return o.IsDef() }
func (DefaultCategorizer) IsUse(o Op) bool        { return o.IsUse() }
func (DefaultCategorizer) IsCondBranch(o Op) bool { return o.IsCondBranch() }
func (DefaultCategorizer) IsUncondJump(o Op) bool { return o.IsUncondJump() }
func (DefaultCategorizer) IsCall(o Op) bool       { return o.IsCall() }
func (DefaultCategorizer) IsReturn(o Op) bool     { return o.IsReturn() }
