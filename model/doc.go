// Package model defines the identifiers, scalar values and error kinds shared
// by every stage of the retrieval and aggregation pipeline.
package model
