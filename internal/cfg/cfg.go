// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cfg builds the per-procedure control-flow graph and its
// augmented form: basic blocks are split at jump targets and after
// jump/return instructions, then linked into a
// graph.BiGraph so internal/cdg can run dominance analysis over it.
//
// The block-splitting shape follows obj/internal/asm/bb.go's
// BasicBlocks: a forward scan collects block-start offsets, then a
// second pass wires successor/predecessor edges and removes
// unreachable blocks.
package cfg

import (
	"fmt"
	"math/big"
	"sort"

	"checkedcov/internal/bytecode"
)

// BasicBlock is a maximal run of instructions with no control-flow
// entry points except at its start and no exit except at its end.
type BasicBlock struct {
	ID         int
	Start, End int // instructions [Start, End) in the owning procedure

	Succs []int
	Preds []int
}

// CFG is a procedure's control-flow graph. Block 0 is always the
// entry block.
type CFG struct {
	Blocks []*BasicBlock
	Entry  int
	Exits  []int
}

// NumNodes and Out/In make CFG satisfy graph.BiGraph directly.
func (g *CFG) NumNodes() int { return len(g.Blocks) }
func (g *CFG) Out(i int) []int { return g.Blocks[i].Succs }
func (g *CFG) In(i int) []int  { return g.Blocks[i].Preds }

// Build constructs the CFG of a flat instruction stream belonging to
// one procedure. Target resolves the destination instruction index of
// a jump instruction at position i; it returns ok=false for an
// instruction that isn't a jump.
func Build(insts []bytecode.Instruction, cat bytecode.Categorizer, target func(i int, inst bytecode.Instruction) (int, bool)) (*CFG, error) {
	if len(insts) == 0 {
		return nil, fmt.Errorf("cfg: empty instruction stream")
	}

	starts := map[int]bool{0: true}
	for i, inst := range insts {
		if cat.IsCondBranch(inst.Opcode) || cat.IsUncondJump(inst.Opcode) {
			if i+1 < len(insts) {
				starts[i+1] = true
			}
			t, ok := target(i, inst)
			if !ok {
				return nil, fmt.Errorf("cfg: jump at %d has no resolvable target", i)
			}
			if t < 0 || t >= len(insts) {
				return nil, fmt.Errorf("cfg: jump at %d targets out-of-range offset %d", i, t)
			}
			starts[t] = true
		} else if cat.IsReturn(inst.Opcode) {
			if i+1 < len(insts) {
				starts[i+1] = true
			}
		}
	}

	offsets := make([]int, 0, len(starts))
	for s := range starts {
		offsets = append(offsets, s)
	}
	sort.Ints(offsets)

	blocks := make([]*BasicBlock, len(offsets))
	startBlock := make(map[int]int, len(offsets))
	for bi, start := range offsets {
		end := len(insts)
		if bi+1 < len(offsets) {
			end = offsets[bi+1]
		}
		blocks[bi] = &BasicBlock{ID: bi, Start: start, End: end}
		startBlock[start] = bi
	}

	addEdge := func(from, to int) {
		blocks[from].Succs = append(blocks[from].Succs, to)
		blocks[to].Preds = append(blocks[to].Preds, from)
	}

	var exits []int
	for bi, b := range blocks {
		last := insts[b.End-1]
		isExit := true

		switch {
		case cat.IsUncondJump(last.Opcode):
			t, _ := target(b.End-1, last)
			addEdge(bi, startBlock[t])
			isExit = false

		case cat.IsCondBranch(last.Opcode):
			t, _ := target(b.End-1, last)
			if b.End < len(insts) {
				addEdge(bi, startBlock[b.End])
				isExit = false
			}
			addEdge(bi, startBlock[t])

		case cat.IsReturn(last.Opcode):
			// No fallthrough successor; always an exit.

		default:
			if b.End < len(insts) {
				addEdge(bi, startBlock[b.End])
				isExit = false
			}
		}

		if isExit {
			exits = append(exits, bi)
		}
	}

	g := &CFG{Blocks: blocks, Entry: 0, Exits: exits}
	pruneUnreachable(g)
	return g, nil
}

// pruneUnreachable removes blocks not reachable from the entry block
// and renumbers the survivors, mirroring bb.go's reachability pass.
func pruneUnreachable(g *CFG) {
	var reachable big.Int
	n := 0
	var mark func(int)
	mark = func(b int) {
		if reachable.Bit(b) != 0 {
			return
		}
		reachable.SetBit(&reachable, b, 1)
		n++
		for _, s := range g.Blocks[b].Succs {
			mark(s)
		}
	}
	mark(g.Entry)

	if n == len(g.Blocks) {
		return
	}

	remap := make(map[int]int, n)
	kept := make([]*BasicBlock, 0, n)
	for i, b := range g.Blocks {
		if reachable.Bit(i) != 0 {
			remap[i] = len(kept)
			kept = append(kept, b)
		}
	}
	for newID, b := range kept {
		b.ID = newID
		succs := b.Succs[:0]
		for _, s := range b.Succs {
			if nid, ok := remap[s]; ok {
				succs = append(succs, nid)
			}
		}
		b.Succs = succs
		preds := b.Preds[:0]
		for _, p := range b.Preds {
			if nid, ok := remap[p]; ok {
				preds = append(preds, nid)
			}
		}
		b.Preds = preds
	}

	newExits := make([]int, 0, len(g.Exits))
	for _, e := range g.Exits {
		if nid, ok := remap[e]; ok {
			newExits = append(newExits, nid)
		}
	}

	g.Blocks = kept
	g.Exits = newExits
}
