// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package graph provides small, dependency-free directed-graph
// algorithms (traversal and dominance) shared by internal/cfg and
// internal/cdg. Nodes are dense integers; callers that have a richer
// node identity (basic blocks, procedures...) keep their own mapping
// to and from graph indices, the same split obj/internal/graph and
// obj/internal/asm use.
package graph

// Graph represents a directed graph. The nodes of the graph must be
// densely numbered starting at 0.
type Graph interface {
	// NumNodes returns the number of nodes in this graph.
	NumNodes() int

	// Out returns the nodes to which node i points.
	Out(i int) []int
}

// BiGraph extends Graph to graphs that also expose in-edges, which
// dominance computation needs in both directions (successors to find
// the post-dominator tree's root set, predecessors to intersect
// candidate dominators).
type BiGraph interface {
	Graph

	// In returns the nodes which point to node i.
	In(i int) []int
}

// MakeBiGraph constructs a BiGraph from what may be a unidirectional
// Graph, by inverting Out edges once. If g is already a BiGraph, this
// returns g unchanged.
func MakeBiGraph(g Graph) BiGraph {
	if g, ok := g.(BiGraph); ok {
		return g
	}

	preds := make([][]int, g.NumNodes())
	for i := range preds {
		for _, j := range g.Out(i) {
			preds[j] = append(preds[j], i)
		}
	}

	return &bigraph{g, preds}
}

type bigraph struct {
	Graph
	preds [][]int
}

func (b *bigraph) In(i int) []int {
	return b.preds[i]
}

// Reversed returns a BiGraph with edges in the opposite direction of
// g. This is how internal/cfg's PostDominatorTree obtains the
// post-dominator tree: reverse the CFG, augment the reversed graph with
// a synthetic root, and compute the ordinary dominator tree of that.
func Reversed(g BiGraph) BiGraph {
	return &reversed{g}
}

type reversed struct {
	g BiGraph
}

func (r *reversed) NumNodes() int  { return r.g.NumNodes() }
func (r *reversed) Out(i int) []int { return r.g.In(i) }
func (r *reversed) In(i int) []int  { return r.g.Out(i) }

// IntGraph is a basic Graph g where g[i] is the list of out-edge
// indexes of node i. Mainly useful in tests.
type IntGraph [][]int

func (g IntGraph) NumNodes() int {
	return len(g)
}

func (g IntGraph) Out(i int) []int {
	return g[i]
}
