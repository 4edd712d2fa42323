// Package validation cross-checks hop results before they are synthesized.
//
// # Overview
//
// A CrossValidator owns three registries, each keyed by ID and open for
// extension at runtime:
//
//   - Rules run over the whole result set. A rule that triggers multiplies
//     the overall confidence by its factor and contributes its issues.
//   - Consistency checks run concurrently. A failing check multiplies the
//     confidence by (1 - ErrorThreshold) and adds exactly one issue.
//   - Strategies are matched to issues to pick a resolution. The chosen
//     strategy per issue location is reported in
//     ValidationResult.Metadata["resolutions"].
//
// After the rules, every pair of results is compared on the content keys
// they share. Each mismatching key raises a cross_hop_consistency issue of
// severity high and applies the cross-hop penalty.
//
// A result is valid when no issue is high or critical.
//
// # Usage
//
//	v := validation.New(validation.WithSink(sink))
//	v.AddRule(validation.NewRule("has_source", models.SeverityLow, func(ctx context.Context, rs []models.HopResult) models.ValidationResult {
//	    ...
//	}))
//	result := v.ValidateHopResults(ctx, results)
//	if !result.IsValid {
//	    // degrade confidence or ask for review
//	}
//
// # Conflicts
//
// IdentifyConflicts works on plain datasets rather than hop results. Keys
// whose values are all boolean-like are reported as logical inconsistencies,
// keys whose values all parse as times as temporal conflicts, and anything
// else as a direct contradiction. Start/end pairs within one dataset are
// also checked for ordering.
package validation
