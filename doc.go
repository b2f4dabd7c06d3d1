// Package searchexec executes search queries against a segmented full-text
// index whose rows live in a transactional heap the index cannot see.
//
// Three paths read the index, each honoring row visibility:
//
//   - TopN returns the first N visible matches, ordered by score or by fast
//     fields. Queries over-fetch by a factor derived from the heap's dead
//     tuple ratio and fetch the following window when too many candidates
//     turn out invisible. Window aggregates ride along with the first query.
//   - Scan streams visible matches as columnar batches with fast fields
//     materialized, after pre-filters and top-K thresholds pruned them.
//   - Aggregate plans a SQL aggregation as a bucket and metric request tree,
//     evaluates it, and flattens the result back into rows.
//
// # Quick Start
//
//	fx, _ := memindex.LoadFixtureFile("testdata/products.yaml")
//	idx, _ := fx.Build(memindex.Options{})
//	eng, _ := searchexec.New(idx, searchexec.WithOracle(fx.Visibility()))
//
//	res, _ := eng.TopN(ctx, searchexec.TopNQuery{
//	    Query:   query.MatchAll(),
//	    OrderBy: []model.OrderBy{{Direction: model.Desc}},
//	    Limit:   10,
//	    Fields:  []fastfield.WhichFastField{fastfield.Ctid(), fastfield.Score()},
//	})
//
// # Parallelism
//
// WithWorkers runs every path on several goroutines. Workers claim whole
// segments from a shared state; a Top-N worker that has to re-query replays
// exactly the segments it claimed, and partial aggregations are merged
// before they are finalized.
package searchexec
