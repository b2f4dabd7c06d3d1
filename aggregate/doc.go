// Package aggregate plans SQL aggregates into nested aggregation requests and
// flattens the merged results back into rows.
//
// A Clause (base query, GROUP BY columns, aggregates, ORDER BY, LIMIT and
// OFFSET) is planned into one of four shapes:
//
//	ShapeUngrouped          {"0": metric, "1": metric, ...}
//	ShapeUngroupedFiltered  {"0": {filter, aggs: {"0": metric}}, ...}
//	ShapeGrouped            {"grouped": {terms, aggs: {"grouped": ... {"1": metric}}}}
//	ShapeGroupedFiltered    {"filter_sentinel": {filter: base, aggs: {
//	                            "grouped": grouping tree,
//	                            "1": {filter, aggs: grouping tree with "0": metric}}}}
//
// COUNT(*) without FILTER is answered from bucket document counts in the
// grouped shapes and never appears as a leaf metric there.
package aggregate
