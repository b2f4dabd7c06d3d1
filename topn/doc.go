// Package topn retrieves the first N visible rows of a search in as few
// index queries as possible.
//
// The index knows scores and sort keys but not which rows are visible to the
// caller's snapshot, so every query over-fetches by
//
//	scale = (1 + (1+dead)/(1+live)) * LimitFetchMultiplier
//
// where live and dead are heap tuple counts. Each query asks for
// max(floor(limit*scale), chunk) rows at the offset where the previous one
// ended. When a round is drained before limit rows were confirmed visible,
// the chunk grows geometrically up to MaxChunkSize and the next window is
// fetched. A query returning fewer rows than requested ends the scan.
//
// In a parallel query each worker claims segments lazily on its first query
// and replays exactly those segments on every later one.
package topn
