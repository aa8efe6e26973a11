// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cfg

import "checkedcov/internal/graph"

// Augmented wraps a graph.BiGraph with a synthetic start node: a node
// with edges to entry and to every exit, guaranteeing a single root
// with a path to every node. The wrapped graph is either a CFG (to
// enumerate forward CDG candidate edges against the real control
// flow) or graph.Reversed(cfg) (to compute the post-dominator tree —
// see PostDominatorTree).
//
// The synthetic node's logical index is conventionally "-∞"; since
// graph.Graph requires dense 0-based indices, it's placed at index
// NumNodes() (one past every real block) instead, exposed as Start.
type Augmented struct {
	g     graph.BiGraph
	entry int
	exits []int
	Start int
}

func (a *Augmented) NumNodes() int { return a.g.NumNodes() + 1 }

func (a *Augmented) Out(i int) []int {
	if i == a.Start {
		out := make([]int, 0, 1+len(a.exits))
		out = append(out, a.entry)
		out = append(out, a.exits...)
		return out
	}
	return a.g.Out(i)
}

func (a *Augmented) In(i int) []int {
	if i == a.Start {
		return nil
	}
	in := a.g.In(i)
	if i == a.entry || a.isExit(i) {
		withStart := make([]int, len(in), len(in)+1)
		copy(withStart, in)
		return append(withStart, a.Start)
	}
	return in
}

func (a *Augmented) isExit(b int) bool {
	for _, e := range a.exits {
		if e == b {
			return true
		}
	}
	return false
}

// AugmentGraph builds the augmented form of an arbitrary BiGraph given
// its entry node and exit nodes.
func AugmentGraph(g graph.BiGraph, entry int, exits []int) *Augmented {
	return &Augmented{g: g, entry: entry, exits: exits, Start: g.NumNodes()}
}

// Augment builds the forward augmented CFG: the graph internal/cdg
// scans for candidate control-dependence edges, one for every edge
// s -> t of the augmented CFG.
func Augment(g *CFG) *Augmented {
	return AugmentGraph(g, g.Entry, g.Exits)
}

// PostDominatorTree computes the post-dominator tree of g: the
// ordinary Cooper-Harvey-Kennedy dominator tree of g's real edges
// reversed, augmented with a synthetic root that points at the
// (now-reversed) graph's entry and exits, rooted at that synthetic
// node. This is the standard construction for post-dominance — a
// virtual node that is a predecessor of every exit in the
// dominance-direction graph: the reverse of the augmented CFG rooted
// at the synthetic start.
func PostDominatorTree(g *CFG) *graph.DomTree {
	aug := AugmentGraph(graph.Reversed(g), g.Entry, g.Exits)
	idom := graph.IDom(aug, aug.Start)
	return graph.Dom(idom, aug.Start)
}
