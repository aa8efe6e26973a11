// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

// IDom returns the immediate dominator of each node of g. Nodes that
// don't have an immediate dominator (including root) are assigned -1.
//
// This implements the "engineered algorithm" of Cooper, Harvey, and
// Kennedy, "A Simple, Fast Dominance Algorithm", 2001. Unlike Cooper,
// we mostly use the original node naming, but intersect maps into the
// post-order naming as needed.
//
// CDG construction needs the *post*-dominator tree of the augmented
// CFG: cfg.PostDominatorTree gets that by running IDom over the
// Reversed CFG, augmented with a synthetic root node pointing at the
// entry and exits, rooted at that synthetic node.
func IDom(g BiGraph, root int) []int {
	po := PostOrder(g, root)

	// poNum maps from node to post-order name, for "intersect".
	poNum := make([]int, g.NumNodes())
	for i, n := range po {
		poNum[n] = i
	}

	rpo := Reverse(po)

	idom := make([]int, g.NumNodes())
	for i := range idom {
		idom[i] = -1
	}
	idom[root] = root

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == root {
				continue
			}

			newIdom := -1
			for _, p := range g.In(b) {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, poNum, p, newIdom)
			}

			if idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	idom[root] = -1 // Clear root's dominator, a self-loop until now.

	return idom
}

func intersect(idom, poNum []int, b1, b2 int) int {
	for b1 != b2 {
		for poNum[b1] < poNum[b2] {
			b1 = idom[b1]
		}
		for poNum[b2] < poNum[b1] {
			b2 = idom[b2]
		}
	}
	return b1
}

// DomFrontier returns the dominance frontier of each node in g. idom
// must be IDom(g, root), or nil to have this compute it.
func DomFrontier(g BiGraph, root int, idom []int) [][]int {
	if idom == nil {
		idom = IDom(g, root)
	}

	df := make([][]int, g.NumNodes())
	for b, bdom := range idom {
		preds := g.In(b)
		if len(preds) < 2 {
			continue
		}

		for _, pred := range preds {
			runner := pred
			for runner != bdom {
				for _, rdf := range df[runner] {
					if rdf == b {
						goto found
					}
				}
				df[runner] = append(df[runner], b)
			found:
				runner = idom[runner]
			}
		}
	}

	for i := range df {
		if df[i] == nil {
			df[i] = []int{}
		}
	}
	return df
}

// Dom computes the dominator tree from the immediate dominators
// computed by IDom.
func Dom(idom []int, root int) *DomTree {
	children := make([][]int, len(idom))

	// Chop up a single slice used to store the children.
	cspace := make([]int, len(idom))
	for _, parent := range idom {
		if parent != -1 {
			cspace[parent]++
		}
	}
	used := 0
	for i, n := range cspace {
		children[i] = cspace[used:used : used+n]
		used += n
	}

	for node, parent := range idom {
		if parent != -1 {
			children[parent] = append(children[parent], node)
		}
	}

	return &DomTree{idom, children, root}
}

// DomTree is a dominator (or post-dominator, if built over a reversed
// graph) tree. It also satisfies BiGraph, with edges pointing toward
// children.
type DomTree struct {
	idom     []int
	children [][]int
	root     int
}

func (t *DomTree) IDom(n int) int { return t.idom[n] }

func (t *DomTree) NumNodes() int { return len(t.idom) }

func (t *DomTree) In(n int) []int { return t.idom[n : n+1] }

func (t *DomTree) Out(n int) []int { return t.children[n] }

// Predecessors returns n's single parent in the tree, or nil for the
// root. CDG construction walks this upward from an edge's target
// toward its least common ancestor with the edge's source.
func (t *DomTree) Predecessors(n int) []int {
	if t.idom[n] == -1 {
		return nil
	}
	return t.idom[n : n+1]
}

// TransitiveSuccessors returns n together with every node that n
// (post-)dominates: n itself plus every descendant of n in the tree.
func (t *DomTree) TransitiveSuccessors(n int) map[int]bool {
	out := map[int]bool{n: true}
	var walk func(int)
	walk = func(m int) {
		for _, c := range t.children[m] {
			out[c] = true
			walk(c)
		}
	}
	walk(n)
	return out
}

// LeastCommonAncestor returns the least common ancestor of u and v in
// the tree.
func (t *DomTree) LeastCommonAncestor(u, v int) int {
	anc := map[int]bool{}
	for n := u; ; n = t.idom[n] {
		anc[n] = true
		if n == t.root {
			break
		}
	}
	for n := v; ; n = t.idom[n] {
		if anc[n] {
			return n
		}
		if n == t.root {
			break
		}
	}
	return t.root
}
