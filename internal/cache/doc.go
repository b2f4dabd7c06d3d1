// Package cache holds decompressed dictionary blocks so that repeated term
// lookups within and across batches avoid decompression and IO throttling.
//
// The cache is bounded in bytes and optionally charges its contents to a
// resource.Controller.
package cache
