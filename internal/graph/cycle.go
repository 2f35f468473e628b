package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// ErrCycle is returned when an operation needs an acyclic graph.
var ErrCycle = errors.New("graph contains a cycle")

const (
	white = iota // not visited
	grey         // on the current DFS path
	black        // fully explored
)

// HasCycle reports whether the graph contains a directed cycle.
func (g *Graph) HasCycle() bool {
	return g.FindCycle() != nil
}

// FindCycle returns the nodes of one directed cycle in traversal order, or nil
// if the graph is acyclic. For a cycle a -> b -> c -> a it returns [a b c].
// Nodes are explored in insertion order, so the reported cycle is stable.
func (g *Graph) FindCycle() []string {
	color := make(map[string]int, len(g.seq))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		path = append(path, id)

		for _, next := range g.succ[id] {
			switch color[next] {
			case grey:
				for i, p := range path {
					if p == next {
						return append([]string(nil), path[i:]...)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.Nodes() {
		if color[id] != white {
			continue
		}
		if cycle := visit(id); cycle != nil {
			return cycle
		}
	}
	return nil
}

// FormatCycle renders a cycle returned by FindCycle as "a -> b -> c -> a".
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(append(append([]string(nil), cycle...), cycle[0]), " -> ")
}

// TopologicalOrder returns every node ordered so that each edge points forward.
// It returns an error wrapping ErrCycle if no such order exists.
func (g *Graph) TopologicalOrder() ([]string, error) {
	edges := make([]toposort.Edge, 0, len(g.edges)+len(g.seq))
	for _, id := range g.Nodes() {
		if len(g.pred[id]) == 0 {
			// nil source keeps isolated nodes in the output
			edges = append(edges, toposort.Edge{nil, id})
		}
		for _, next := range g.succ[id] {
			edges = append(edges, toposort.Edge{id, next})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if cycle := g.FindCycle(); cycle != nil {
			return nil, fmt.Errorf("%w: %s", ErrCycle, FormatCycle(cycle))
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(g.seq))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.seq) {
		return nil, fmt.Errorf("topological sort lost %d nodes", len(g.seq)-len(order))
	}
	return order, nil
}

// Reachable returns every node reachable from id by following edges forward,
// excluding id itself unless it lies on a cycle. Nodes are returned in
// insertion order. An unknown id yields nil.
func (g *Graph) Reachable(id string) []string {
	if !g.HasNode(id) {
		return nil
	}

	seen := make(map[string]bool)
	stack := append([]string(nil), g.succ[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.succ[n]...)
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	g.sortByInsertion(out)
	return out
}
