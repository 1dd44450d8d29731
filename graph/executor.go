package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Run executes the targets and their transitive dependencies sequentially,
// in a deterministic topological order. If targets is nil, every node in
// the graph runs. Returns the result of each executed node, keyed by node
// key.
//
// A node failure aborts execution before any of its dependents run, so a
// failed or cancelled schema-mutation node prevents the writes that depend
// on it.
func Run(ctx context.Context, g *Graph, targets []string) (map[string]any, error) {
	if targets == nil {
		targets = g.order
	}
	order, err := g.topoSort(targets)
	if err != nil {
		return nil, err
	}

	results := make(map[string]any, len(order))
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := g.nodes[key]
		v, err := runNode(ctx, n, gatherInputs(n, results))
		if err != nil {
			return nil, err
		}
		results[key] = v
	}
	return results, nil
}

// RunParallel executes the targets and their transitive dependencies with
// up to workers concurrent goroutines. Nodes run as soon as all of their
// dependencies have completed; independent nodes may run in any order.
// workers <= 0 means no concurrency limit.
//
// Nodes are assumed to tolerate concurrent execution with any other node
// they share no edge with; serialization of conflicting table access is
// the table resource's job, guided by each node's Lock.
func RunParallel(ctx context.Context, g *Graph, targets []string, workers int) (map[string]any, error) {
	if targets == nil {
		targets = g.order
	}
	order, err := g.topoSort(targets)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]any, len(order))
		done    = make(map[string]chan struct{}, len(order))
	)
	for _, key := range order {
		done[key] = make(chan struct{})
	}

	eg, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}

	for _, key := range order {
		n := g.nodes[key]
		eg.Go(func() error {
			for _, dep := range n.Deps {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			in := Inputs{}
			mu.Lock()
			for _, dep := range n.Deps {
				in[dep] = results[dep]
			}
			mu.Unlock()

			v, err := runNode(ctx, n, in)
			if err != nil {
				return err
			}

			mu.Lock()
			results[n.Key] = v
			mu.Unlock()
			close(done[n.Key])
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runNode executes one thunk, converting a panic in a user-provided table
// implementation into an error instead of crashing the scheduler.
func runNode(ctx context.Context, n *Node, in Inputs) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %q panicked: %v", n.Key, r)
		}
	}()
	v, err = n.Do(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Key, err)
	}
	return v, nil
}

func gatherInputs(n *Node, results map[string]any) Inputs {
	in := Inputs{}
	for _, dep := range n.Deps {
		in[dep] = results[dep]
	}
	return in
}
