package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/teamflow/internal/domain"
)

const (
	// Start is the virtual entry node.
	Start = "__start__"
	// End is the terminal sentinel.
	End = "__end__"
)

// NodeFunc transforms the state for one node.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router picks the next node from the state, or returns "" to defer to the
// next router or the unconditional edge.
type Router[S any] func(state S) string

// Hook runs after every node, in registration order.
type Hook[S any] func(ctx context.Context, node string, state S) (S, error)

// Graph is a directed graph of named nodes. It is safe to Execute
// concurrently once built.
type Graph[S any] struct {
	mu          sync.RWMutex
	nodes       map[string]NodeFunc[S]
	order       []string
	edges       map[string]string
	conditional map[string][]Router[S]
	hooks       []Hook[S]
}

// New creates an empty graph.
func New[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string][]Router[S]),
	}
}

// AddNode registers a node. Names must be unique and not reserved.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) error {
	if name == "" || name == Start || name == End {
		return fmt.Errorf("%w: invalid node name %q", domain.ErrGraphTopology, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: node %s has no function", domain.ErrGraphTopology, name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("%w: duplicate node %s", domain.ErrGraphTopology, name)
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return nil
}

// AddEdge registers the unconditional edge src -> dst. A node has at most
// one unconditional edge.
func (g *Graph[S]) AddEdge(src, dst string) error {
	if src == End {
		return fmt.Errorf("%w: edge cannot leave %s", domain.ErrGraphTopology, End)
	}
	if dst == Start {
		return fmt.Errorf("%w: edge cannot enter %s", domain.ErrGraphTopology, Start)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.edges[src]; ok {
		return fmt.Errorf("%w: node %s already has an edge to %s", domain.ErrGraphTopology, src, existing)
	}
	g.edges[src] = dst
	return nil
}

// AddConditionalEdge registers a router on src. Routers are evaluated in
// registration order.
func (g *Graph[S]) AddConditionalEdge(src string, router Router[S]) error {
	if src == End {
		return fmt.Errorf("%w: edge cannot leave %s", domain.ErrGraphTopology, End)
	}
	if router == nil {
		return fmt.Errorf("%w: nil router on %s", domain.ErrGraphTopology, src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditional[src] = append(g.conditional[src], router)
	return nil
}

// AddHook registers a state transition hook.
func (g *Graph[S]) AddHook(hook Hook[S]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Nodes returns node names in registration order.
func (g *Graph[S]) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Execute runs the graph from Start to End against initial.
func (g *Graph[S]) Execute(ctx context.Context, initial S) (S, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	state := initial
	visited := make(map[string]bool, len(g.nodes))
	current := Start

	for {
		next, err := g.resolve(current, state)
		if err != nil {
			return state, err
		}
		if next == End {
			return state, nil
		}

		fn, ok := g.nodes[next]
		if !ok {
			return state, fmt.Errorf("%w: edge from %s targets unknown node %s", domain.ErrGraphTopology, current, next)
		}
		if visited[next] {
			return state, fmt.Errorf("%w: node %s revisited from %s: %w", domain.ErrGraphTopology, next, current, domain.ErrInfiniteLoop)
		}
		visited[next] = true

		state, err = fn(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", next, err)
		}

		for _, hook := range g.hooks {
			state, err = hook(ctx, next, state)
			if err != nil {
				return state, fmt.Errorf("hook after node %s: %w", next, err)
			}
		}

		current = next
	}
}

// resolve returns the node following current.
func (g *Graph[S]) resolve(current string, state S) (string, error) {
	for _, router := range g.conditional[current] {
		if target := router(state); target != "" {
			return target, nil
		}
	}
	if target, ok := g.edges[current]; ok {
		return target, nil
	}
	return "", fmt.Errorf("%w: no edge resolves from %s", domain.ErrGraphTopology, current)
}
