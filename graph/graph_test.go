package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func constNode(key string, v any, deps ...string) *Node {
	return &Node{
		Key:  key,
		Deps: deps,
		Do: func(ctx context.Context, in Inputs) (any, error) {
			return v, nil
		},
	}
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	g := New()
	if err := g.Add(constNode("a", 1)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := g.Add(constNode("a", 2))
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if dup.Key != "a" {
		t.Errorf("duplicate key = %q, want %q", dup.Key, "a")
	}
}

func TestAddSameNodeTwiceIsNoOp(t *testing.T) {
	g := New()
	n := constNode("a", 1)
	if err := g.Add(n); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Add(n); err != nil {
		t.Fatalf("re-adding the identical node failed: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
}

func TestMergeSharesUpstreamNodes(t *testing.T) {
	shared := constNode("shared", 1)

	g1 := New()
	if err := g1.Add(shared); err != nil {
		t.Fatal(err)
	}
	g2 := New()
	if err := g2.Add(shared); err != nil {
		t.Fatal(err)
	}
	if err := g2.Add(constNode("b", 2, "shared")); err != nil {
		t.Fatal(err)
	}

	if err := g1.Merge(g2); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if g1.Len() != 2 {
		t.Errorf("Len = %d, want 2", g1.Len())
	}
}

func TestValidateMissingDependency(t *testing.T) {
	g := New()
	if err := g.Add(constNode("a", 1, "ghost")); err != nil {
		t.Fatal(err)
	}
	err := g.Validate()
	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingDependencyError, got %v", err)
	}
	if missing.Dep != "ghost" {
		t.Errorf("missing dep = %q, want %q", missing.Dep, "ghost")
	}
}

func TestValidateCycle(t *testing.T) {
	g := New()
	if err := g.Add(constNode("a", 1, "b")); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(constNode("b", 2, "a")); err != nil {
		t.Fatal(err)
	}
	var cycle *CycleError
	if err := g.Validate(); !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestRunPassesDependencyResults(t *testing.T) {
	g := New()
	if err := g.Add(constNode("a", 2)); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(constNode("b", 3)); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(&Node{
		Key:  "sum",
		Deps: []string{"a", "b"},
		Do: func(ctx context.Context, in Inputs) (any, error) {
			return in["a"].(int) + in["b"].(int), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := Run(context.Background(), g, []string{"sum"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results["sum"] != 5 {
		t.Errorf("sum = %v, want 5", results["sum"])
	}
}

func TestRunOnlyExecutesRequiredNodes(t *testing.T) {
	var ran sync.Map
	mark := func(key string, deps ...string) *Node {
		return &Node{
			Key:  key,
			Deps: deps,
			Do: func(ctx context.Context, in Inputs) (any, error) {
				ran.Store(key, true)
				return nil, nil
			},
		}
	}

	g := New()
	for _, n := range []*Node{mark("a"), mark("b", "a"), mark("unrelated")} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Run(context.Background(), g, []string{"b"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := ran.Load("a"); !ok {
		t.Error("dependency a did not run")
	}
	if _, ok := ran.Load("unrelated"); ok {
		t.Error("unrelated node ran")
	}
}

func TestRunFailurePreventsDependents(t *testing.T) {
	g := New()
	if err := g.Add(&Node{
		Key: "create",
		Do: func(ctx context.Context, in Inputs) (any, error) {
			return nil, errors.New("boom")
		},
	}); err != nil {
		t.Fatal(err)
	}
	dependentRan := false
	if err := g.Add(&Node{
		Key:  "write",
		Deps: []string{"create"},
		Do: func(ctx context.Context, in Inputs) (any, error) {
			dependentRan = true
			return nil, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := Run(context.Background(), g, []string{"write"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %v does not mention the cause", err)
	}
	if dependentRan {
		t.Error("dependent node ran after its dependency failed")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	g := New()
	if err := g.Add(&Node{
		Key: "panics",
		Do: func(ctx context.Context, in Inputs) (any, error) {
			panic("user table implementation exploded")
		},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := Run(context.Background(), g, nil)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestRunParallel(t *testing.T) {
	g := New()
	const fanout = 20
	for i := 0; i < fanout; i++ {
		key := string(rune('a' + i))
		if err := g.Add(constNode(key, i)); err != nil {
			t.Fatal(err)
		}
	}
	deps := g.Keys()
	if err := g.Add(&Node{
		Key:  "sum",
		Deps: deps,
		Do: func(ctx context.Context, in Inputs) (any, error) {
			total := 0
			for _, v := range in {
				total += v.(int)
			}
			return total, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := RunParallel(context.Background(), g, []string{"sum"}, 4)
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}
	want := fanout * (fanout - 1) / 2
	if results["sum"] != want {
		t.Errorf("sum = %v, want %d", results["sum"], want)
	}
}

func TestRunParallelRespectsDependencyOrder(t *testing.T) {
	g := New()
	var mu sync.Mutex
	var order []string
	step := func(key string, deps ...string) *Node {
		return &Node{
			Key:  key,
			Deps: deps,
			Do: func(ctx context.Context, in Inputs) (any, error) {
				mu.Lock()
				order = append(order, key)
				mu.Unlock()
				return nil, nil
			},
		}
	}
	for _, n := range []*Node{step("extend"), step("create"), step("w1", "create", "extend"), step("w2", "create", "extend")} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := RunParallel(context.Background(), g, nil, 4); err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, key := range order {
		pos[key] = i
	}
	for _, w := range []string{"w1", "w2"} {
		if pos[w] < pos["create"] || pos[w] < pos["extend"] {
			t.Errorf("write %s ran before its dependencies (order %v)", w, order)
		}
	}
}

func TestLockString(t *testing.T) {
	if LockShared.String() != "shared" || LockExclusive.String() != "exclusive" || LockNone.String() != "none" {
		t.Error("unexpected Lock string values")
	}
}
