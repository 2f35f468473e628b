// Package graph is a small directed-graph library keyed by string node IDs.
//
// An edge (from, to) reads "to depends on from". The graph keeps forward and
// reverse adjacency lists plus in-degree counters, so removing a node reports
// the nodes that just lost their last incoming edge without rescanning the
// whole graph. Every query that returns several nodes returns them in node
// insertion order, which keeps callers deterministic.
//
// Graph is not safe for concurrent use.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNodeNotFound is returned when an edge references a node that was never added.
var ErrNodeNotFound = errors.New("node not found")

type edge struct {
	from, to string
}

// Graph is a mutable directed graph.
type Graph struct {
	seq      map[string]uint64   // node -> insertion sequence
	next     uint64              // next insertion sequence
	succ     map[string][]string // node -> dependents
	pred     map[string][]string // node -> dependencies
	inDegree map[string]int
	edges    map[edge]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		seq:      make(map[string]uint64),
		succ:     make(map[string][]string),
		pred:     make(map[string][]string),
		inDegree: make(map[string]int),
		edges:    make(map[edge]struct{}),
	}
}

// AddNode adds a node. It reports false if the node was already present.
func (g *Graph) AddNode(id string) bool {
	if _, ok := g.seq[id]; ok {
		return false
	}
	g.seq[id] = g.next
	g.next++
	g.inDegree[id] = 0
	return true
}

// AddEdge adds the edge from -> to. Both nodes must exist. Adding an edge
// that already exists is a no-op. Self-loops are accepted; they make the
// graph cyclic.
func (g *Graph) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return fmt.Errorf("adding edge %s -> %s: %w: %s", from, to, ErrNodeNotFound, from)
	}
	if !g.HasNode(to) {
		return fmt.Errorf("adding edge %s -> %s: %w: %s", from, to, ErrNodeNotFound, to)
	}

	e := edge{from: from, to: to}
	if _, exists := g.edges[e]; exists {
		return nil
	}
	g.edges[e] = struct{}{}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
	g.inDegree[to]++
	return nil
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.seq[id]
	return ok
}

// HasEdge reports whether the edge from -> to is in the graph.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.edges[edge{from: from, to: to}]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.seq)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.seq))
	for id := range g.seq {
		nodes = append(nodes, id)
	}
	g.sortByInsertion(nodes)
	return nodes
}

// Successors returns the nodes that depend on id, in edge insertion order.
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.succ[id]...)
}

// Predecessors returns the nodes id depends on, in edge insertion order.
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.pred[id]...)
}

// InDegree returns the number of incoming edges of id.
func (g *Graph) InDegree(id string) int {
	return g.inDegree[id]
}

// OutDegree returns the number of outgoing edges of id.
func (g *Graph) OutDegree(id string) int {
	return len(g.succ[id])
}

// Sources returns all nodes without incoming edges.
func (g *Graph) Sources() []string {
	var sources []string
	for id, deg := range g.inDegree {
		if deg == 0 {
			sources = append(sources, id)
		}
	}
	g.sortByInsertion(sources)
	return sources
}

// Leaves returns all nodes without outgoing edges.
func (g *Graph) Leaves() []string {
	var leaves []string
	for id := range g.seq {
		if len(g.succ[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	g.sortByInsertion(leaves)
	return leaves
}

// RemoveNode deletes id and every edge touching it. It returns the former
// successors of id whose in-degree dropped to zero, i.e. the nodes that became
// sources because of this removal. Removing an absent node returns nil.
func (g *Graph) RemoveNode(id string) []string {
	if !g.HasNode(id) {
		return nil
	}

	for _, p := range g.pred[id] {
		if p == id {
			continue
		}
		g.succ[p] = without(g.succ[p], id)
		delete(g.edges, edge{from: p, to: id})
	}

	var freed []string
	for _, s := range g.succ[id] {
		delete(g.edges, edge{from: id, to: s})
		if s == id {
			continue
		}
		g.pred[s] = without(g.pred[s], id)
		g.inDegree[s]--
		if g.inDegree[s] == 0 {
			freed = append(freed, s)
		}
	}

	delete(g.seq, id)
	delete(g.succ, id)
	delete(g.pred, id)
	delete(g.inDegree, id)

	g.sortByInsertion(freed)
	return freed
}

// Clone returns an independent copy of the graph that preserves insertion order.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		seq:      make(map[string]uint64, len(g.seq)),
		next:     g.next,
		succ:     make(map[string][]string, len(g.succ)),
		pred:     make(map[string][]string, len(g.pred)),
		inDegree: make(map[string]int, len(g.inDegree)),
		edges:    make(map[edge]struct{}, len(g.edges)),
	}
	for id, s := range g.seq {
		c.seq[id] = s
	}
	for id, list := range g.succ {
		c.succ[id] = append([]string(nil), list...)
	}
	for id, list := range g.pred {
		c.pred[id] = append([]string(nil), list...)
	}
	for id, deg := range g.inDegree {
		c.inDegree[id] = deg
	}
	for e := range g.edges {
		c.edges[e] = struct{}{}
	}
	return c
}

func (g *Graph) sortByInsertion(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return g.seq[ids[i]] < g.seq[ids[j]]
	})
}

func without(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
