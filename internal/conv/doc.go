// Package conv provides checked numeric conversions.
//
// Buffer offsets, row counts and fetch limits cross between int, uint32 and
// float64 in the scanner and the top-N executor. The helpers here either
// report an overflow or saturate, never wrap.
package conv
