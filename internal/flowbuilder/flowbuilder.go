// Package flowbuilder reconstructs the dynamic execution flow of a
// traced run backward, one instruction at a time. It bridges the gap
// between a trace that only records a subset of
// "interesting" instructions and the full static disassembly: most
// predecessors are recovered purely from the disassembly, falling
// back to the trace only at call/return/jump boundaries.
package flowbuilder

import (
	"errors"
	"fmt"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/trace"
)

// ErrInstructionNotFound is returned when a traced or static location
// cannot be matched against the registered disassembly — instrumentation
// or source drift.
var ErrInstructionNotFound = errors.New("flowbuilder: instruction not found")

// LastInstrState describes the predecessor found by GetLastInstruction
// and the flow events that occurred crossing into it. LastInstr is nil
// when the dynamic flow is exhausted with nowhere left to go.
type LastInstrState struct {
	File           string
	LastInstr      *bytecode.UniqueInstruction
	CodeObjectID   codeobject.ID
	BlockID        int
	Offset         int
	Jump           bool
	Call           bool
	Returned       bool
	Exception      bool
	ImportStart    bool
	ImportBackCall *bytecode.UniqueInstruction
}

// Builder reconstructs predecessors against a fixed trace and
// registry of known procedures.
type Builder struct {
	trace    *trace.ExecutionTrace
	registry *codeobject.Registry
}

// New returns a Builder bound to tr and reg. Neither is mutated.
func New(tr *trace.ExecutionTrace, reg *codeobject.Registry) *Builder {
	return &Builder{trace: tr, registry: reg}
}

// step carries the mutable (file, last_instr, code_object_id,
// basic_block_id, offset) quintuple the reconstructor thread through
// its branches, mirroring the tuple execution_flow_builder.py
// reassigns at each continuation point.
type step struct {
	file    string
	last    *bytecode.UniqueInstruction
	coID    codeobject.ID
	bbID    int
	offset  int
}

// GetLastInstruction looks for the instruction that must have executed
// immediately before instr along the dynamic path, given the trace
// position at or before instr's execution. importInstr, when non-nil,
// is the IMPORT_NAME instruction whose back-call instr's procedure is
// the callee of, used to close that back-call when the module body
// runs out of instructions.
func (b *Builder) GetLastInstruction(file string, instr bytecode.UniqueInstruction, tracePos, offset int,
	coID codeobject.ID, bbID int, importInstr *bytecode.UniqueInstruction) (LastInstrState, error) {

	block := b.blockInstructions(coID, bbID)
	instrIndex, err := locateInBlock(instr, block)
	if err != nil {
		return LastInstrState{}, err
	}

	if tracePos < 0 {
		s := step{file: file, coID: coID, bbID: bbID, offset: offset}
		if instrIndex > 0 {
			li := block[instrIndex-1]
			s.last = &li
			s.offset = offset - 2
		} else {
			if err := b.continueAtLastBlock(&s); err != nil {
				return LastInstrState{}, err
			}
		}

		if s.last == nil && importInstr != nil {
			is := step{}
			if err := b.continueBeforeImport(*importInstr, &is); err != nil {
				return LastInstrState{}, err
			}
			return LastInstrState{File: is.file, LastInstr: is.last, CodeObjectID: is.coID, BlockID: is.bbID, Offset: is.offset, ImportStart: true}, nil
		}

		return LastInstrState{File: s.file, LastInstr: s.last, CodeObjectID: s.coID, BlockID: s.bbID, Offset: s.offset}, nil
	}

	lastTraced, ok := b.trace.At(tracePos)
	if !ok {
		return LastInstrState{}, fmt.Errorf("%w: trace position %d out of range", ErrInstructionNotFound, tracePos)
	}

	s := step{file: file, coID: coID, bbID: bbID, offset: offset}
	jump := false

	switch {
	case instrIndex > 0:
		li := block[instrIndex-1]
		s.last = &li
		s.offset = offset - 2
	case instr.IsJumpTarget && lastTraced.IsJump() && lastTraced.TargetBlockID == bbID:
		if codeobject.ID(lastTraced.CodeObjectID) != coID {
			panic("flowbuilder: jump to instruction must originate from the same code object")
		}
		if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
			return LastInstrState{}, err
		}
		jump = true
	default:
		if err := b.continueAtLastBlock(&s); err != nil {
			return LastInstrState{}, err
		}
	}

	returned := false
	var importBackCall *bytecode.UniqueInstruction

	if lastTraced.Kind == trace.Return {
		switch {
		case instr.Opcode == bytecode.IMPORT_NAME:
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
			ic := instr
			importBackCall = &ic
			returned = true
		case s.last != nil && (s.last.Opcode.IsCall() || (s.last.Opcode.IsTraced() && s.last.Opcode != lastTraced.Opcode)):
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
			returned = true
		case s.last == nil:
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
			returned = true
		}
	}

	call := false
	importStart := false
	if s.last == nil {
		call = true
		if importInstr == nil {
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
		} else {
			if err := b.continueBeforeImport(*importInstr, &s); err != nil {
				return LastInstrState{}, err
			}
			importStart = true
		}
	}

	exception := false
	if !call && !returned {
		switch {
		case s.last != nil && (s.last.Opcode == bytecode.YIELD_VALUE || s.last.Opcode == bytecode.YIELD_FROM):
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
		case s.last != nil && s.last.Opcode.IsTraced() && s.last.Opcode != lastTraced.Opcode:
			if err := b.continueAtLastTraced(lastTraced, &s); err != nil {
				return LastInstrState{}, err
			}
			exception = true
		}
	}

	return LastInstrState{
		File: s.file, LastInstr: s.last, CodeObjectID: s.coID, BlockID: s.bbID, Offset: s.offset,
		Jump: jump, Call: call, Returned: returned, Exception: exception,
		ImportStart: importStart, ImportBackCall: importBackCall,
	}, nil
}

// continueAtLastTraced switches s to the location of the last traced
// event itself, the point every call/return/jump/exception boundary
// resumes reconstruction from.
func (b *Builder) continueAtLastTraced(e trace.Event, s *step) error {
	ui, ok := b.registry.FindInstruction(codeobject.ID(e.CodeObjectID), e.Opcode, e.NodeID, e.Offset)
	if !ok {
		return fmt.Errorf("%w: traced event (co=%d bb=%d off=%d)", ErrInstructionNotFound, e.CodeObjectID, e.NodeID, e.Offset)
	}
	s.file = e.File
	s.last = &ui
	s.offset = e.Offset
	s.coID = codeobject.ID(e.CodeObjectID)
	s.bbID = e.NodeID
	return nil
}

// continueAtLastBlock falls back to the last instruction of the
// previous basic block in the same procedure, if one exists.
func (b *Builder) continueAtLastBlock(s *step) error {
	if s.bbID <= 0 {
		s.last = nil
		return nil
	}
	s.bbID--
	block := b.blockInstructions(s.coID, s.bbID)
	s.offset -= 2
	if len(block) == 0 {
		s.last = nil
		return nil
	}
	li := block[len(block)-1]
	s.last = &li
	return nil
}

// continueBeforeImport resumes reconstruction at the instruction
// preceding importInstr in the importing procedure — the point where
// control returns after the module body of an import finishes
// executing.
func (b *Builder) continueBeforeImport(importInstr bytecode.UniqueInstruction, s *step) error {
	s.file = importInstr.File
	s.coID = codeobject.ID(importInstr.CodeObjectID)
	s.bbID = importInstr.BlockID
	s.offset = importInstr.Offset

	block := b.blockInstructions(s.coID, s.bbID)
	idx, err := locateInBlock(importInstr, block)
	if err != nil {
		return err
	}

	if idx > 0 {
		li := block[idx-1]
		s.last = &li
		s.offset -= 2
		return nil
	}
	return b.continueAtLastBlock(s)
}

// blockInstructions returns the disassembly instructions belonging to
// basic block bbID of procedure coID, in original order. Relies on
// Metadata.Disassembly being recorded in offset order per block, as
// internal/cfg's block splitting guarantees. A missing coID panics via
// Registry.Get, same as any other procedure-id lookup miss.
func (b *Builder) blockInstructions(coID codeobject.ID, bbID int) []bytecode.UniqueInstruction {
	meta := b.registry.Get(coID)
	var block []bytecode.UniqueInstruction
	for _, ui := range meta.Disassembly {
		if ui.BlockID == bbID {
			block = append(block, ui)
		}
	}
	return block
}

// locateInBlock finds instr's index within block by matching
// (Opcode, Line, Offset), the minimum tuple that pins down an
// instruction's identity unambiguously.
func locateInBlock(instr bytecode.UniqueInstruction, block []bytecode.UniqueInstruction) (int, error) {
	for i, ui := range block {
		if ui.Opcode == instr.Opcode && ui.Line == instr.Line && ui.Offset == instr.Offset {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrInstructionNotFound, instr)
}
