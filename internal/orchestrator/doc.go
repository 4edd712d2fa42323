// Package orchestrator coordinates the execution of a decomposed query.
//
// A Coordinator takes a query through four stages:
//   - Planning: a Planner decomposes the query into sub-queries and layers
//     them so that every dependency sits in an earlier layer.
//   - Dispatch: layers run one after another. Members of a layer run
//     concurrently, each on a worker acquired from the Registry by
//     capability and load. A sub-query with no suitable worker fails on its
//     own; the layer still completes.
//   - Validation: completed results are checked by a validation.CrossValidator.
//   - Synthesis: a synthesis.Synthesizer merges them into one cited answer.
//
// Progress is recorded through a state.Manager so that an interrupted query
// can be inspected and recovered.
//
// Example usage:
//
//	reg := orchestrator.NewRegistry()
//	_ = reg.Register(models.Worker{ID: "w1", Capabilities: []string{"search"}}, exec)
//	coord, err := orchestrator.NewCoordinator(orchestrator.RequiredConfig{
//		Planner:  decompose.New(client),
//		Registry: reg,
//		State:    state.NewManager(),
//	})
//	result, err := coord.Orchestrate(ctx, "Who directed the film that won Best Picture in 1998?")
package orchestrator
