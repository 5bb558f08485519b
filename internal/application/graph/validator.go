package graph

import (
	"fmt"

	"github.com/aescanero/teamflow/internal/domain"
)

// Validate checks the static structure of the graph: it must have at least
// one node, Start must have an outgoing edge, and every unconditional edge
// must connect existing nodes. Router targets are only known at run time and
// are checked by Execute.
func (g *Graph[S]) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 {
		return fmt.Errorf("%w: graph must have at least one node", domain.ErrGraphTopology)
	}

	if _, ok := g.edges[Start]; !ok && len(g.conditional[Start]) == 0 {
		return fmt.Errorf("%w: no entry edge from %s", domain.ErrGraphTopology, Start)
	}

	for src, dst := range g.edges {
		if src != Start {
			if _, exists := g.nodes[src]; !exists {
				return fmt.Errorf("%w: edge references non-existent source node: %s", domain.ErrGraphTopology, src)
			}
		}
		if dst != End {
			if _, exists := g.nodes[dst]; !exists {
				return fmt.Errorf("%w: edge references non-existent target node: %s", domain.ErrGraphTopology, dst)
			}
		}
	}

	for src := range g.conditional {
		if src == Start {
			continue
		}
		if _, exists := g.nodes[src]; !exists {
			return fmt.Errorf("%w: conditional edge references non-existent source node: %s", domain.ErrGraphTopology, src)
		}
	}

	return nil
}
