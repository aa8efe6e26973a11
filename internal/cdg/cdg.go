// Package cdg computes the control-dependence graph of a procedure's
// control-flow graph, following the Ferrante-Ottenstein-Warren
// construction used by controldependencegraph.py: augment the CFG
// with a synthetic start node, post-dominate it, then walk from each
// candidate edge's target up to its least common ancestor with the
// edge's source.
package cdg

import (
	"checkedcov/internal/cfg"
)

// Edge is a control dependence s -> t: the flow at t depends on the
// branch taken at s.
type Edge struct {
	Source, Target int
}

// CDG is a directed graph over the same node set as the augmented CFG
// (real blocks 0..N-1 plus the synthetic start node at index N). It
// satisfies graph.BiGraph so internal/graph's traversal and Dot export
// can operate on it directly.
type CDG struct {
	numNodes int
	out      map[int][]int
	in       map[int][]int
}

// NumNodes returns the number of nodes in the graph, real blocks plus
// the synthetic start node.
func (c *CDG) NumNodes() int { return c.numNodes }

// Successors returns the nodes control-dependent on node n (edges
// n -> *).
func (c *CDG) Successors(n int) []int { return c.out[n] }

// Out is an alias for Successors, satisfying graph.Graph.
func (c *CDG) Out(n int) []int { return c.out[n] }

// Predecessors returns the nodes n is control-dependent on (edges
// * -> n). This includes edges from the synthetic start node (every
// exit block is "control-dependent" on the artificial branch out of
// start) — the dynamic slicer seeds S_C with these while ignoring
// artificial predecessors, which callers do with IsArtificial.
func (c *CDG) Predecessors(n int) []int { return c.in[n] }

// In is an alias for Predecessors, satisfying graph.BiGraph.
func (c *CDG) In(n int) []int { return c.in[n] }

// IsArtificial reports whether n is the synthetic start node added by
// the augmented CFG, rather than a real basic block.
func (c *CDG) IsArtificial(n int) bool { return n == c.numNodes-1 }

func (c *CDG) addEdge(s, t int) {
	for _, x := range c.out[s] {
		if x == t {
			return
		}
	}
	if c.out == nil {
		c.out = map[int][]int{}
	}
	if c.in == nil {
		c.in = map[int][]int{}
	}
	c.out[s] = append(c.out[s], t)
	c.in[t] = append(c.in[t], s)
}

// Compute builds the CDG of g: candidate edges are every augmented-CFG
// edge s -> t where s is not post-dominated by t;
// for each, walk the post-dominator tree from t up to LCA(s, t),
// adding an edge from s to every node visited (and s -> s when
// s == LCA(s, t)).
func Compute(g *cfg.CFG) *CDG {
	aug := cfg.Augment(g)
	pdt := cfg.PostDominatorTree(g)

	out := &CDG{numNodes: aug.NumNodes()}

	type candidate struct{ s, t int }
	var candidates []candidate
	seen := map[candidate]bool{}

	for s := 0; s < aug.NumNodes(); s++ {
		for _, t := range aug.Out(s) {
			if pdt.TransitiveSuccessors(t)[s] {
				continue
			}
			c := candidate{s, t}
			if !seen[c] {
				seen[c] = true
				candidates = append(candidates, c)
			}
		}
	}

	for _, c := range candidates {
		lca := pdt.LeastCommonAncestor(c.s, c.t)
		current := c.t
		for current != lca {
			out.addEdge(c.s, current)
			preds := pdt.Predecessors(current)
			if len(preds) != 1 {
				panic("cdg: post-dominator tree node does not have exactly one predecessor")
			}
			current = preds[0]
		}
		if lca == c.s {
			out.addEdge(c.s, lca)
		}
	}

	return out
}
