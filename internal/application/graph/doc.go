// Package graph implements a small sequential workflow graph engine.
//
// A Graph is built once at startup from named nodes, unconditional edges and
// conditional routers, then executed any number of times against a typed
// state:
//   - Traversal starts at the virtual Start node and stops at End
//   - Conditional routers are consulted before the unconditional edge
//   - Revisiting a node aborts the run with ErrInfiniteLoop
//   - Hooks run after every node and may transform the state
//
// Node errors propagate to the caller; the engine never retries.
package graph
