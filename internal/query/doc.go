// Package query provides the filtering, sorting, pagination, statistics and
// export-envelope utilities shared by every storage tier.
//
// Everything here is a pure function over in-memory record slices. The
// durable tier uses an index to narrow the candidate set first, but the final
// filter, ordering and page are always produced by Apply so that all tiers
// return identical results for the same data.
//
// # Deterministic ordering
//
// Every sort breaks ties by record id ascending, regardless of direction.
// Two tiers holding the same records therefore list them in the same order.
package query
