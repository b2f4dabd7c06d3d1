// Package fastfield provides typed, per-segment access to columnar fast
// fields.
//
// A Store caches one reader per (segment, column) for the duration of a
// query. Readers expose a single-value accessor for row-at-a-time paths and a
// batched FirstVals accessor used by the batch scanner.
//
// Text and binary columns are dictionary encoded: documents carry dense
// ordinals into a sorted term dictionary stored in prefix-compressed blocks.
package fastfield
