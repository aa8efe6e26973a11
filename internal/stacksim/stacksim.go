// Package stacksim is the shadow operand-stack simulator: as the
// slicer walks a trace backward, it mirrors the operand
// stack the forward execution would have had at that point, so the
// slicer can tell whether a value consumed by an in-slice instruction
// was itself produced by another instruction (an implicit data
// dependence) without re-interpreting bytecode.
package stacksim

import "checkedcov/internal/bytecode"

// DefaultStackHeight and DefaultFrameHeight pre-fill the simulated
// call stack with dummy frames before backward tracing starts, since
// the true depth of the stack at the slicing criterion is unknown
// (pyChecco's stack_simulation.py TraceStack._prepare_stack).
const (
	DefaultStackHeight = 40
	DefaultFrameHeight = 40
)

// BlockStack is the operand stack belonging to one basic block within
// a frame.
type BlockStack struct {
	items []*bytecode.UniqueInstruction
}

func (b *BlockStack) push(instr *bytecode.UniqueInstruction) {
	b.items = append(b.items, instr)
}

func (b *BlockStack) pop() *bytecode.UniqueInstruction {
	if len(b.items) == 0 {
		return nil
	}
	n := len(b.items) - 1
	instr := b.items[n]
	b.items = b.items[:n]
	return instr
}

// Peek returns the top of stack without removing it, or nil if empty.
func (b *BlockStack) Peek() *bytecode.UniqueInstruction {
	if len(b.items) == 0 {
		return nil
	}
	return b.items[len(b.items)-1]
}

func (b *BlockStack) Len() int { return len(b.items) }

// FrameStack is the simulated stack of one procedure activation:
// a stack of BlockStacks (one per currently open block), plus the
// attribute-use and import-frame carry-over state the slicer's
// attribute and module handling needs across instructions.
type FrameStack struct {
	CodeObjectID int
	BlockStacks  []*BlockStack

	attributeUses map[string]bool
	importFrame   *bytecode.UniqueInstruction
}

func newFrameStack(codeObjectID int, blocks int) *FrameStack {
	fs := &FrameStack{CodeObjectID: codeObjectID}
	for i := 0; i < blocks; i++ {
		fs.BlockStacks = append(fs.BlockStacks, &BlockStack{})
	}
	return fs
}

func (fs *FrameStack) top() *BlockStack {
	return fs.BlockStacks[len(fs.BlockStacks)-1]
}

// TraceStack is the simulator's full state: a stack of FrameStacks.
// Callers push/pop frames as the backward walk crosses call/return
// boundaries and feed individual instructions through
// UpdatePushOperations/UpdatePopOperations in between.
type TraceStack struct {
	frames []*FrameStack
}

// NewTraceStack returns a simulator pre-filled with dummy frames
// (code object id -1) deep enough to absorb backward tracing starting
// mid-stack, matching pyChecco's TraceStack._prepare_stack.
func NewTraceStack() *TraceStack {
	ts := &TraceStack{}
	for i := 0; i < DefaultStackHeight; i++ {
		ts.frames = append(ts.frames, newFrameStack(-1, DefaultFrameHeight))
	}
	return ts
}

// PushStack opens a new frame for codeObjectID with a single empty
// block stack.
func (ts *TraceStack) PushStack(codeObjectID int) {
	ts.frames = append(ts.frames, newFrameStack(codeObjectID, 1))
}

// PushArtificialStack opens a dummy frame (code object id -1). The
// slicer uses it when it crosses a call or import boundary while stack
// simulation is disabled, so simulation resumes on a fresh frame that
// is not attributed to any known code object.
func (ts *TraceStack) PushArtificialStack() {
	ts.PushStack(-1)
}

// PopStack closes the top frame. It panics if a non-dummy frame has
// more than one open block stack at the point it's popped, mirroring
// the assertion in pyChecco's TraceStack.pop_stack: a well-formed
// execution can only leave a frame with its outermost block left.
func (ts *TraceStack) PopStack() {
	n := len(ts.frames) - 1
	frame := ts.frames[n]
	ts.frames = ts.frames[:n]
	if frame.CodeObjectID != -1 && len(frame.BlockStacks) != 1 {
		panic("stacksim: more than one block stack on a popped frame")
	}
}

// Depth returns the number of open frames.
func (ts *TraceStack) Depth() int { return len(ts.frames) }

// UpdatePushOperations simulates numPushes values being produced by
// the instruction currently under consideration (backward, so this
// pops numPushes entries off the current block's shadow stack).
// returned indicates the instruction being processed was a RETURN —
// in that case the caller's stack (one frame down) is also consulted
// to detect an implicit dependence through the returned value.
//
// It reports impDependency (some consumer downstream was already in
// the slice, so this producer belongs in it too) and includeUse
// (whether the slicer should additionally register a use for the
// consumed value — false for the "don't widen the search past the
// attribute itself" cases).
func (ts *TraceStack) UpdatePushOperations(numPushes int, returned bool) (impDependency, includeUse bool) {
	curr := ts.frames[len(ts.frames)-1]
	block := curr.top()

	includeUse = true

	if returned {
		prev := ts.frames[len(ts.frames)-2]
		if top := prev.top().Peek(); top != nil && top.InSlice() {
			impDependency = true
		}
	}

	for i := 0; i < numPushes; i++ {
		tos := block.pop()
		if tos == nil || !tos.InSlice() {
			continue
		}
		impDependency = true

		switch tos.Opcode {
		case bytecode.STORE_ATTR, bytecode.STORE_SUBSCR:
			if block.Len() > 0 {
				if tos1 := block.Peek(); tos1.Opcode == tos.Opcode {
					includeUse = false
				}
			}
		case bytecode.LOAD_ATTR, bytecode.DELETE_ATTR, bytecode.IMPORT_FROM:
			includeUse = false
		}
	}

	return impDependency, includeUse
}

// UpdatePopOperations simulates numPops values being consumed by
// instr (backward, so this pushes numPops copies of instr's identity
// onto the current block's shadow stack, so that whatever instruction
// is found to have produced those values can later discover instr was
// the consumer). If inSlice, instr is marked as belonging to the
// slice before being pushed.
func (ts *TraceStack) UpdatePopOperations(numPops int, instr *bytecode.UniqueInstruction, inSlice bool) {
	curr := ts.frames[len(ts.frames)-1]
	block := curr.top()

	if inSlice {
		instr.SetInSlice()
	}

	for i := 0; i < numPops; i++ {
		block.push(instr)
	}
}

// SetAttributeUses replaces the current frame's tracked attribute-use
// set, used when an attribute access is discovered to partially cover
// an object (the lst.sort() style case).
func (ts *TraceStack) SetAttributeUses(uses map[string]bool) {
	cp := make(map[string]bool, len(uses))
	for k := range uses {
		cp[k] = true
	}
	ts.frames[len(ts.frames)-1].attributeUses = cp
}

// GetAttributeUses returns the current frame's tracked attribute-use
// set.
func (ts *TraceStack) GetAttributeUses() map[string]bool {
	return ts.frames[len(ts.frames)-1].attributeUses
}

// SetImportFrame records the IMPORT_NAME instruction associated with
// the current frame, so a later back-call into the module body can be
// closed against it.
func (ts *TraceStack) SetImportFrame(instr *bytecode.UniqueInstruction) {
	ts.frames[len(ts.frames)-1].importFrame = instr
}

// GetImportFrame returns the current frame's associated IMPORT_NAME
// instruction, or nil if none was set.
func (ts *TraceStack) GetImportFrame() *bytecode.UniqueInstruction {
	return ts.frames[len(ts.frames)-1].importFrame
}
