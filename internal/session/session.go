// Package session loads the pre-recorded input the slicing core
// consumes: a registered set of procedures (filename, parent, CFG/CDG,
// disassembly) and, per test, the execution trace it produced.
// Producing that input is instrumentation's job, out of scope for the
// core, which only ever consumes an already-produced trace and a
// pre-computed CFG/CDG per procedure; this package is the boundary
// that hands the core its input, reading a plain JSON document rather
// than parsing an on-disk bytecode image.
package session

import (
	"encoding/json"
	"fmt"
	"os"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/cdg"
	"checkedcov/internal/cfg"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/trace"
)

type fileFormat struct {
	CodeObjects []codeObjectJSON `json:"code_objects"`
	Tests       []testJSON       `json:"tests"`
}

type codeObjectJSON struct {
	File         string            `json:"file"`
	Parent       int               `json:"parent"` // -1 for a module body
	Instructions []instructionJSON `json:"instructions"`
}

type instructionJSON struct {
	Opcode       string `json:"opcode"`
	Arg          int    `json:"arg"`
	Line         int    `json:"line"`
	IsJumpTarget bool   `json:"is_jump_target"`
}

type testJSON struct {
	Name   string      `json:"name"`
	Events []eventJSON `json:"events"`
}

type eventJSON struct {
	Kind           string `json:"kind"`
	CodeObject     int    `json:"code_object"`
	NodeID         int    `json:"node_id"`
	Opcode         string `json:"opcode"`
	Line           int    `json:"line"`
	Offset         int    `json:"offset"`
	Name           string `json:"name,omitempty"`
	Address        uint64 `json:"address,omitempty"`
	IsMutable      bool   `json:"is_mutable,omitempty"`
	ObjectCreation bool   `json:"object_creation,omitempty"`
	AttrName       string `json:"attr_name,omitempty"`
	SourceAddr     uint64 `json:"source_addr,omitempty"`
	ValueAddr      uint64 `json:"value_addr,omitempty"`
	AttrMutable    bool   `json:"attr_mutable,omitempty"`
	TargetBlockID  int    `json:"target_block_id,omitempty"`
	Arg            int    `json:"arg,omitempty"`

	// Assertion marks this event as the call instruction of a reached
	// assertion. AssertionStart is the trace position the assertion's
	// span begins at; it defaults to this event's own position for a
	// single-instruction span.
	Assertion      bool `json:"assertion,omitempty"`
	AssertionStart int  `json:"assertion_start,omitempty"`
}

var kindByName = map[string]trace.Kind{
	"generic":   trace.Generic,
	"memory":    trace.Memory,
	"attribute": trace.Attribute,
	"control":   trace.Control,
	"call":      trace.Call,
	"return":    trace.Return,
}

// Session is the registry and per-test traces loaded from one session
// file.
type Session struct {
	Registry *codeobject.Registry
	Traces   map[string]*trace.ExecutionTrace
}

// Load reads and builds a Session from the JSON document at path.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", path, err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("session: parsing %s: %w", path, err)
	}

	reg := codeobject.NewRegistry()
	for i, co := range doc.CodeObjects {
		insts, err := decodeInstructions(co.Instructions)
		if err != nil {
			return nil, fmt.Errorf("session: code object %d (%s): %w", i, co.File, err)
		}

		cat := bytecode.DefaultCategorizer{}
		target := func(idx int, inst bytecode.Instruction) (int, bool) {
			if cat.IsCondBranch(inst.Opcode) || cat.IsUncondJump(inst.Opcode) {
				return inst.Arg, true
			}
			return 0, false
		}
		g, err := cfg.Build(insts, cat, target)
		if err != nil {
			return nil, fmt.Errorf("session: building CFG for %s: %w", co.File, err)
		}
		c := cdg.Compute(g)

		blockOf := make([]int, len(insts))
		for _, b := range g.Blocks {
			for idx := b.Start; idx < b.End; idx++ {
				blockOf[idx] = b.ID
			}
		}

		disasm := make([]bytecode.UniqueInstruction, len(insts))
		for idx, inst := range insts {
			disasm[idx] = bytecode.UniqueInstruction{
				Instruction: inst,
				Location: bytecode.Location{
					File:    co.File,
					BlockID: blockOf[idx],
					Offset:  idx * 2,
				},
				IsJumpTarget: co.Instructions[idx].IsJumpTarget,
			}
		}

		id := reg.Register(co.File, codeobject.ID(co.Parent), g, c, disasm)
		for idx := range disasm {
			disasm[idx].CodeObjectID = int(id)
		}
	}

	traces := make(map[string]*trace.ExecutionTrace, len(doc.Tests))
	for _, test := range doc.Tests {
		tr := trace.NewExecutionTrace()
		for i, ev := range test.Events {
			e, err := decodeEvent(ev)
			if err != nil {
				return nil, fmt.Errorf("session: test %s event %d: %w", test.Name, i, err)
			}
			e.File = reg.Get(e.CodeObjectID).Filename
			tr.Append(e)
			if ev.Assertion {
				start := ev.AssertionStart
				if start == 0 {
					start = i
				}
				tr.AddAssertion(start, i, e)
			}
		}
		traces[test.Name] = tr
	}

	return &Session{Registry: reg, Traces: traces}, nil
}

func decodeInstructions(in []instructionJSON) ([]bytecode.Instruction, error) {
	out := make([]bytecode.Instruction, len(in))
	for i, ij := range in {
		op, ok := bytecode.ParseOp(ij.Opcode)
		if !ok {
			return nil, fmt.Errorf("unknown opcode %q at instruction %d", ij.Opcode, i)
		}
		out[i] = bytecode.Instruction{Opcode: op, Arg: ij.Arg, Line: ij.Line}
	}
	return out, nil
}

func decodeEvent(ev eventJSON) (trace.Event, error) {
	kind, ok := kindByName[ev.Kind]
	if !ok {
		return trace.Event{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	op, ok := bytecode.ParseOp(ev.Opcode)
	if !ok {
		return trace.Event{}, fmt.Errorf("unknown opcode %q", ev.Opcode)
	}
	return trace.Event{
		Kind:           kind,
		CodeObjectID:   codeobject.ID(ev.CodeObject),
		NodeID:         ev.NodeID,
		Opcode:         op,
		Line:           ev.Line,
		Offset:         ev.Offset,
		Name:           ev.Name,
		Address:        ev.Address,
		IsMutable:      ev.IsMutable,
		ObjectCreation: ev.ObjectCreation,
		AttrName:       ev.AttrName,
		SourceAddr:     ev.SourceAddr,
		ValueAddr:      ev.ValueAddr,
		AttrMutable:    ev.AttrMutable,
		TargetBlockID:  ev.TargetBlockID,
		Arg:            ev.Arg,
	}, nil
}
