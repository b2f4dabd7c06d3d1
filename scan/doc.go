// Package scan turns per-segment search matches into columnar batches of
// visible rows.
//
// Each call to Scanner.Next works on one segment and narrows the rows in
// stages, compacting doc ids, scores, row keys and every column fetched so
// far in lockstep:
//
//  1. pull up to the batch size of (score, doc) pairs, skipping empty
//     segments
//  2. drop rows strictly worse than the segment thresholds, keeping ties
//  3. apply pre-filters over term ordinals or raw numeric values
//  4. check the row keys against the visibility oracle
//  5. materialize the remaining columns
//
// Text and bytes columns are resolved sort-then-scatter: rows are visited in
// ordinal order, each distinct ordinal is decoded once into a buffer shared
// by the whole column, and rows repeating an ordinal share its view.
//
// Deferred columns are left in the cheapest state the batch already has:
// packed doc addresses, ordinals fetched by a filter, or the values of a
// named column over the same field. Resolve finishes them later.
package scan
