// Package orchestrator runs one billing period across the selected expense
// sources and submits what they find.
//
// Each selected source is an independent task moving through
// pending -> fetching -> submitting -> done. Tasks run on a fixed pool of
// workers; a failure, timeout or panic in one task becomes that task's failed
// result and never touches its siblings. Results come back in selection
// order regardless of completion order.
//
// Dry runs stop after fetching: nothing is submitted and the computed expense
// is reported as-is.
package orchestrator
