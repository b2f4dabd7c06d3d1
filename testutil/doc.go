// Package testutil provides testing utilities for searchexec.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random indexes with dead rows,
// computing exact results by brute force, and comparing them.
//
// # Random Corpora
//
//	rng := testutil.NewRNG(seed)
//	c := rng.Corpus(testutil.CorpusOptions{Segments: 4, DocsPerSegment: 100, DeadRate: 0.3})
//	idx, err := c.Build(memindex.Options{})
//
// # Exact Results (Ground Truth)
//
//	keys := c.ExactTopN(q, orderBy, limit)
//	groups := c.ExactGroups(q)
//
// # Recall Verification
//
//	recall := testutil.Recall(keys, got)
package testutil
