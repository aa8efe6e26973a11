// Package codeobject is the procedure metadata registry: code object
// metadata (filename, parent, CFG, CDG, disassembly), keyed by a dense
// integer id assigned in registration order.
package codeobject

import (
	"checkedcov/internal/bytecode"
	"checkedcov/internal/cdg"
	"checkedcov/internal/cfg"
)

// ID identifies a registered procedure. IDs are assigned in
// registration order starting at 0.
type ID int

// Metadata describes one registered procedure. Created once at
// registration and immutable thereafter.
type Metadata struct {
	ID       ID
	Filename string

	// Parent is the enclosing procedure's id, or -1 for a module body
	// with no parent.
	Parent ID

	CFG *cfg.CFG
	CDG *cdg.CDG

	// Disassembly is the pre-instrumentation instruction listing,
	// needed to recover IsJumpTarget and the instruction's original
	// argument.
	Disassembly []bytecode.UniqueInstruction
}

// Registry is the arena of procedure metadata, keyed by dense id. It
// never holds cross-procedure pointers, only ids, since procedures
// reference nested procedures as constants.
type Registry struct {
	procs []*Metadata
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a procedure and returns its assigned id. g and c must
// already be built (internal/cfg.Build, internal/cdg.Compute); they
// become immutable members of the registry from this point.
func (r *Registry) Register(filename string, parent ID, g *cfg.CFG, c *cdg.CDG, disasm []bytecode.UniqueInstruction) ID {
	id := ID(len(r.procs))
	r.procs = append(r.procs, &Metadata{
		ID:          id,
		Filename:    filename,
		Parent:      parent,
		CFG:         g,
		CDG:         c,
		Disassembly: disasm,
	})
	return id
}

// Get returns the metadata for id. It panics if id was never
// registered — a lookup miss here indicates instrumentation/source
// drift, the same class of bug that surfaces as ErrInstructionNotFound
// when it happens to a traced event instead of a procedure id.
func (r *Registry) Get(id ID) *Metadata {
	return r.procs[int(id)]
}

// Len returns the number of registered procedures.
func (r *Registry) Len() int { return len(r.procs) }

// ParentChain walks the Parent links from id outward (innermost
// first), for closure variable scope-tuple construction: walking up
// the parent-code-object chain until the variable appears in a
// procedure's cell-variable set.
func (r *Registry) ParentChain(id ID) []ID {
	var chain []ID
	for cur := id; cur >= 0; {
		chain = append(chain, cur)
		m := r.Get(cur)
		if m.Parent < 0 {
			break
		}
		cur = m.Parent
	}
	return chain
}

// FindInstruction locates the UniqueInstruction in procedure id's
// disassembly matching (opcode, blockID, offset). It reports ok=false
// when no match exists — an instruction-not-found condition.
func (r *Registry) FindInstruction(id ID, opcode bytecode.Op, blockID, offset int) (bytecode.UniqueInstruction, bool) {
	m := r.Get(id)
	for _, inst := range m.Disassembly {
		if inst.Opcode == opcode && inst.BlockID == blockID && inst.Offset == offset {
			return inst, true
		}
	}
	return bytecode.UniqueInstruction{}, false
}
