// Package graph provides the deferred computation graph emitted by the
// translation engine's planners.
//
// A Graph is a DAG of named Nodes. Each node carries a thunk closing over
// the parameters of exactly one read or write against the table resource,
// the keys of the nodes it depends on, and the lock scope the operation
// requires on the table resource. Building a graph performs no I/O; a
// scheduler (the caller's own, or the reference executors in this package)
// materializes results later.
//
// Nodes are safe to run in any order consistent with their dependency
// edges. The engine never encodes ordering beyond those edges.
package graph

import (
	"context"
	"fmt"
)

// Lock is the capability a node requires on the underlying table resource.
// Schedulers and table implementations use it to serialize conflicting
// operations; the graph itself performs no locking.
type Lock int

const (
	// LockNone requires no table access (pure computation).
	LockNone Lock = iota

	// LockShared requires read-shared access to the table resource.
	LockShared

	// LockExclusive requires write-exclusive access to the table resource.
	LockExclusive
)

// String implements fmt.Stringer.
func (l Lock) String() string {
	switch l {
	case LockNone:
		return "none"
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("lock(%d)", int(l))
}

// Inputs carries materialized dependency results into a thunk,
// keyed by dependency node key. Dependencies that produce no value
// (schema mutations, row extensions) map to nil.
type Inputs map[string]any

// Thunk is the deferred operation of one node. It must not capture shared
// mutable state; everything it needs beyond dependency results is baked in
// at plan time.
type Thunk func(ctx context.Context, in Inputs) (any, error)

// Node is one deferred operation in a task graph.
type Node struct {
	// Key uniquely identifies the node within a graph. Keys are
	// deterministic: identical planning inputs yield identical keys.
	Key string

	// Deps are the keys of nodes that must complete before this one runs.
	Deps []string

	// Lock is the table-resource capability this node requires.
	Lock Lock

	// Do performs the deferred operation.
	Do Thunk
}

// Errors reported by graph construction and validation.
var (
	// ErrEmptyKey is returned when adding a node without a key.
	ErrEmptyKey = fmt.Errorf("graph node key cannot be empty")
	// ErrNilThunk is returned when adding a node without a thunk.
	ErrNilThunk = fmt.Errorf("graph node thunk cannot be nil")
)

// DuplicateKeyError is returned when two distinct nodes share a key.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate graph node key %q", e.Key)
}

// MissingDependencyError is returned by Validate when a node depends on a
// key that is not present in the graph.
type MissingDependencyError struct {
	Key string
	Dep string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on missing node %q", e.Key, e.Dep)
}

// CycleError is returned by Validate when the graph is not acyclic.
type CycleError struct {
	Key string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle through node %q", e.Key)
}

// Graph is a DAG of deferred operations. Not safe for concurrent
// mutation; build fully before handing to a scheduler.
type Graph struct {
	nodes map[string]*Node
	order []string // insertion order, for deterministic iteration
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add inserts a node. Re-adding the identical node is a no-op, so graphs
// sharing upstream nodes can be merged; a different node under an existing
// key is a DuplicateKeyError.
func (g *Graph) Add(n *Node) error {
	if n == nil {
		return fmt.Errorf("graph node cannot be nil")
	}
	if n.Key == "" {
		return ErrEmptyKey
	}
	if n.Do == nil {
		return ErrNilThunk
	}
	if prev, ok := g.nodes[n.Key]; ok {
		if prev == n {
			return nil
		}
		return &DuplicateKeyError{Key: n.Key}
	}
	g.nodes[n.Key] = n
	g.order = append(g.order, n.Key)
	return nil
}

// Node returns the node stored under key.
func (g *Graph) Node(key string) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Keys returns all node keys in insertion order.
func (g *Graph) Keys() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Remove deletes the node stored under key, leaving any edges that point
// at it dangling. Used by tests to confirm that Validate rejects plans
// whose dependency edges have been tampered with.
func (g *Graph) Remove(key string) {
	if _, ok := g.nodes[key]; !ok {
		return
	}
	delete(g.nodes, key)
	for i, k := range g.order {
		if k == key {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Merge adds all nodes of other into g. Nodes already present (same node
// under the same key) are skipped, so a write graph can absorb its source
// read graph.
func (g *Graph) Merge(other *Graph) error {
	if other == nil {
		return nil
	}
	for _, key := range other.order {
		if err := g.Add(other.nodes[key]); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every dependency edge points at a node in the graph
// and that the graph is acyclic.
func (g *Graph) Validate() error {
	for _, key := range g.order {
		for _, dep := range g.nodes[key].Deps {
			if _, ok := g.nodes[dep]; !ok {
				return &MissingDependencyError{Key: key, Dep: dep}
			}
		}
	}
	_, err := g.topoSort(g.order)
	return err
}

// topoSort returns the required nodes (targets and their transitive
// dependencies) in an order where every node follows its dependencies.
// Ties are broken by insertion order, keeping execution deterministic.
func (g *Graph) topoSort(targets []string) ([]string, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	state := make(map[string]int, len(g.nodes))
	var out []string

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case black:
			return nil
		case grey:
			return &CycleError{Key: key}
		}
		n, ok := g.nodes[key]
		if !ok {
			return &MissingDependencyError{Key: key, Dep: key}
		}
		state[key] = grey
		for _, dep := range n.Deps {
			if _, ok := g.nodes[dep]; !ok {
				return &MissingDependencyError{Key: key, Dep: dep}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[key] = black
		out = append(out, key)
		return nil
	}

	for _, key := range targets {
		if err := visit(key); err != nil {
			return nil, err
		}
	}
	return out, nil
}
