package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ShayCichocki/hopper/pkg/models"
)

func sq(id string, deps ...string) *models.SubQuery {
	return &models.SubQuery{ID: id, Text: "question " + id, Dependencies: deps, Status: models.SubQueryPending}
}

func TestNewDependencyGraph(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestGraphBuildWithDependencies(t *testing.T) {
	g := New()
	err := g.Build([]*models.SubQuery{
		sq("sq1"),
		sq("sq2", "sq1"),
		sq("sq3", "sq1", "sq2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps := g.GetDependencies("sq3"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for sq3, got %d", len(deps))
	}
	if dependents := g.GetDependents("sq1"); len(dependents) != 2 {
		t.Errorf("expected 2 dependents of sq1, got %d", len(dependents))
	}
}

func TestGraphBuildUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.SubQuery{sq("sq1", "missing")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	if g.Size() != 0 {
		t.Errorf("graph should be empty after failed build, got size %d", g.Size())
	}
}

func TestGraphBuildDuplicateID(t *testing.T) {
	g := New()
	if err := g.Build([]*models.SubQuery{sq("sq1"), sq("sq1")}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestGraphCycleDetection(t *testing.T) {
	tests := []struct {
		name    string
		queries []*models.SubQuery
	}{
		{"direct cycle", []*models.SubQuery{sq("A", "B"), sq("B", "A")}},
		{"self loop", []*models.SubQuery{sq("A", "A")}},
		{"three node cycle", []*models.SubQuery{sq("A", "C"), sq("B", "A"), sq("C", "B")}},
		{"cycle behind valid prefix", []*models.SubQuery{sq("root"), sq("A", "root", "B"), sq("B", "A")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			err := g.Build(tt.queries)
			if !errors.Is(err, ErrCyclicDependency) {
				t.Fatalf("expected ErrCyclicDependency, got %v", err)
			}
			if g.Size() != 0 {
				t.Errorf("no partial graph should remain, got size %d", g.Size())
			}
			if _, err := g.Layers(); err != nil {
				t.Errorf("empty graph should plan to nothing, got %v", err)
			}
		})
	}
}

func TestLayers_EndToEndShape(t *testing.T) {
	g := New()
	if err := g.Build([]*models.SubQuery{sq("sq1"), sq("sq2"), sq("sq3", "sq1", "sq2")}); err != nil {
		t.Fatalf("build: %v", err)
	}

	plan, err := g.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}

	if len(plan) != 2 {
		t.Fatalf("expected 2 layers, got %d: %v", len(plan), plan)
	}
	if len(plan[0]) != 2 || plan.LayerOf("sq1") != 0 || plan.LayerOf("sq2") != 0 {
		t.Errorf("layer 0 = %v, want [sq1 sq2]", plan[0])
	}
	if len(plan[1]) != 1 || plan[1][0] != "sq3" {
		t.Errorf("layer 1 = %v, want [sq3]", plan[1])
	}
}

func TestLayers_DiamondAndChain(t *testing.T) {
	g := New()
	err := g.Build([]*models.SubQuery{
		sq("a"),
		sq("b", "a"),
		sq("c", "a"),
		sq("d", "b", "c"),
		sq("e", "d"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	plan, err := g.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}

	want := map[string]int{"a": 0, "b": 1, "c": 1, "d": 2, "e": 3}
	for id, layer := range want {
		if got := plan.LayerOf(id); got != layer {
			t.Errorf("LayerOf(%s) = %d, want %d", id, got, layer)
		}
	}
}

// TestLayers_RandomDAGs checks the partition and edge-order properties over
// randomly generated acyclic graphs.
func TestLayers_RandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(15)
		queries := make([]*models.SubQuery, n)
		for i := 0; i < n; i++ {
			queries[i] = sq(fmt.Sprintf("n%d", i))
			// Only depend on lower indices, which guarantees acyclicity.
			for j := 0; j < i; j++ {
				if rng.Float64() < 0.3 {
					queries[i].Dependencies = append(queries[i].Dependencies, fmt.Sprintf("n%d", j))
				}
			}
		}
		// Shuffle insertion order so layering cannot rely on it.
		rng.Shuffle(n, func(a, b int) { queries[a], queries[b] = queries[b], queries[a] })

		g := New()
		if err := g.Build(queries); err != nil {
			t.Fatalf("iter %d: build: %v", iter, err)
		}
		plan, err := g.Layers()
		if err != nil {
			t.Fatalf("iter %d: layers: %v", iter, err)
		}

		seen := make(map[string]int)
		for _, layer := range plan {
			for _, id := range layer {
				seen[id]++
			}
		}
		if len(seen) != n || plan.Size() != n {
			t.Fatalf("iter %d: plan covers %d ids (size %d), want %d", iter, len(seen), plan.Size(), n)
		}
		for id, count := range seen {
			if count != 1 {
				t.Errorf("iter %d: id %s appears %d times", iter, id, count)
			}
		}
		for _, q := range queries {
			for _, dep := range q.Dependencies {
				if plan.LayerOf(dep) >= plan.LayerOf(q.ID) {
					t.Errorf("iter %d: edge %s->%s violates layer order (%d >= %d)",
						iter, dep, q.ID, plan.LayerOf(dep), plan.LayerOf(q.ID))
				}
			}
		}
	}
}

func TestOptimize_GroupsByCapabilityWithinLayer(t *testing.T) {
	queries := []*models.SubQuery{
		{ID: "a", RequiredCapabilities: []string{"search"}},
		{ID: "b", RequiredCapabilities: []string{"math"}},
		{ID: "c", RequiredCapabilities: []string{"search"}},
		{ID: "d", RequiredCapabilities: []string{"math"}, Dependencies: []string{"a"}},
	}
	g := New()
	if err := g.Build(queries); err != nil {
		t.Fatalf("build: %v", err)
	}
	plan, err := g.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}

	optimized := g.Optimize(plan)
	if len(optimized) != len(plan) {
		t.Fatalf("optimize changed layer count: %d -> %d", len(plan), len(optimized))
	}
	want := []string{"b", "a", "c"}
	for i, id := range want {
		if optimized[0][i] != id {
			t.Errorf("optimized[0] = %v, want %v", optimized[0], want)
			break
		}
	}
	if optimized.LayerOf("d") != 1 {
		t.Errorf("d moved to layer %d", optimized.LayerOf("d"))
	}
	if plan[0][0] != "a" {
		t.Error("optimize must not mutate the input plan")
	}
}

func TestGetReadyAndMarkComplete(t *testing.T) {
	g := New()
	if err := g.Build([]*models.SubQuery{sq("a"), sq("b", "a")}); err != nil {
		t.Fatalf("build: %v", err)
	}

	if ready := g.GetReady(); len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("GetReady() = %v, want [a]", ready)
	}
	g.MarkComplete("a")
	if ready := g.GetReady(); len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("GetReady() after completing a = %v, want [b]", ready)
	}
}

func TestDebugLogHook(t *testing.T) {
	g := New()
	var lines int
	g.SetDebugLog(func(format string, args ...interface{}) { lines++ })
	if err := g.Build([]*models.SubQuery{sq("a")}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if lines == 0 {
		t.Error("expected debug hook to be called")
	}
}
