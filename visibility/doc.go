// Package visibility decides which index rows are visible to a reader.
//
// The index holds every version of a row; only the table knows which version
// a snapshot may see. Oracle is the batch interface the scan pipeline calls.
// Versions is an in-memory, LSN-versioned table with a copy-on-write chunk
// directory, and Snapshot answers Oracle queries against it, following
// update chains to the visible successor. Rows frozen into the visibility
// map skip the version walk.
package visibility
