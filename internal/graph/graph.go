// Package graph provides the dependency graph used to plan sub-query execution.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// ErrCyclicDependency indicates a circular dependency was found among sub-queries.
var ErrCyclicDependency = errors.New("cyclic dependency")

// Plan is an ordered sequence of execution layers. Every sub-query ID appears in
// exactly one layer, and layer i must fully resolve before layer i+1 starts.
type Plan [][]string

// Size returns the total number of IDs across all layers.
func (p Plan) Size() int {
	n := 0
	for _, layer := range p {
		n += len(layer)
	}
	return n
}

// LayerOf returns the index of the layer containing id, or -1.
func (p Plan) LayerOf(id string) int {
	for i, layer := range p {
		for _, member := range layer {
			if member == id {
				return i
			}
		}
	}
	return -1
}

// DependencyGraph represents a directed acyclic graph of sub-query dependencies.
// Sub-queries are nodes, and edges represent "must complete before" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps sub-query ID to the sub-query itself.
	nodes map[string]*models.SubQuery
	// edges maps sub-query ID to IDs of sub-queries it depends on.
	edges map[string][]string
	// order preserves insertion order so iteration is deterministic.
	order []string
	// completed tracks which sub-queries have been marked complete.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.SubQuery),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of sub-queries.
// Returns an error if a cycle is detected or dependencies reference unknown
// sub-queries. On error the graph is left empty: no partial graph is usable.
func (g *DependencyGraph) Build(queries []*models.SubQuery) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d sub-queries", len(queries))

	// First pass: register all sub-queries as nodes.
	for _, q := range queries {
		if _, dup := g.nodes[q.ID]; dup {
			g.resetLocked()
			return fmt.Errorf("duplicate sub-query id %s", q.ID)
		}
		g.debugLog("[graph.Build] adding sub-query: id=%s depends_on=%v caps=%v", q.ID, q.Dependencies, q.RequiredCapabilities)
		g.nodes[q.ID] = q
		g.edges[q.ID] = nil
		g.order = append(g.order, q.ID)
	}

	// Second pass: build edges from Dependencies.
	for _, q := range queries {
		for _, depID := range q.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				g.resetLocked()
				return fmt.Errorf("sub-query %s depends on unknown sub-query %s", q.ID, depID)
			}
			g.edges[q.ID] = append(g.edges[q.ID], depID)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		g.debugLog("[graph.Build] cycle detected: %v", cycle)
		g.resetLocked()
		return fmt.Errorf("%w: %v", ErrCyclicDependency, cycle)
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

func (g *DependencyGraph) resetLocked() {
	g.nodes = make(map[string]*models.SubQuery)
	g.edges = make(map[string][]string)
	g.completed = make(map[string]bool)
	g.order = nil
}

// findCycleLocked uses depth-first search with coloring to detect back edges.
// It returns the IDs forming the first cycle found, or nil. Caller must hold g.mu.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		path = append(path, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: the cycle is the path suffix starting at depID.
				for i, p := range path {
					if p == depID {
						cycle = append(append([]string(nil), path[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		path = path[:len(path)-1]
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// Layers computes the execution plan: repeatedly take every unscheduled node
// whose predecessors are all scheduled, forming one layer. Returns
// ErrCyclicDependency if no such node exists while unscheduled nodes remain.
func (g *DependencyGraph) Layers() (Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	scheduled := make(map[string]bool, len(g.nodes))
	var plan Plan

	for len(scheduled) < len(g.nodes) {
		var layer []string
		for _, id := range g.order {
			if scheduled[id] {
				continue
			}
			ready := true
			for _, depID := range g.edges[id] {
				if !scheduled[depID] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}

		if len(layer) == 0 {
			g.debugLog("[graph.Layers] no schedulable node with %d remaining", len(g.nodes)-len(scheduled))
			return nil, fmt.Errorf("%w: %d sub-queries cannot be scheduled", ErrCyclicDependency, len(g.nodes)-len(scheduled))
		}

		// Mark after the scan so members of one layer never depend on each other.
		for _, id := range layer {
			scheduled[id] = true
		}
		g.debugLog("[graph.Layers] layer %d: %v", len(plan), layer)
		plan = append(plan, layer)
	}

	return plan, nil
}

// Optimize regroups each layer so that sub-queries with identical capability
// sets are adjacent. Layers are never merged or split and no ID changes layer.
func (g *DependencyGraph) Optimize(plan Plan) Plan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(Plan, len(plan))
	for i, layer := range plan {
		regrouped := append([]string(nil), layer...)
		sort.SliceStable(regrouped, func(a, b int) bool {
			ka, kb := g.capabilityKeyLocked(regrouped[a]), g.capabilityKeyLocked(regrouped[b])
			if ka != kb {
				return ka < kb
			}
			return regrouped[a] < regrouped[b]
		})
		out[i] = regrouped
	}
	return out
}

func (g *DependencyGraph) capabilityKeyLocked(id string) string {
	if q := g.nodes[id]; q != nil {
		return q.CapabilityKey()
	}
	return ""
}

// GetReady returns sub-query IDs whose dependencies are all marked complete
// and that are not marked complete themselves.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.completed[id] {
			continue
		}
		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a sub-query as resolved, successfully or not, so its
// dependents become ready.
func (g *DependencyGraph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// Get returns the sub-query for a given ID, or nil if not found.
func (g *DependencyGraph) Get(id string) *models.SubQuery {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of sub-queries in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of sub-queries that the given one depends on.
func (g *DependencyGraph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// GetDependents returns the IDs of sub-queries that depend on the given one.
func (g *DependencyGraph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, other := range g.order {
		for _, depID := range g.edges[other] {
			if depID == id {
				dependents = append(dependents, other)
				break
			}
		}
	}
	return dependents
}
