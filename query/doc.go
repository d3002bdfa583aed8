// Package query describes the statements issued against the tracking tables
// and the Executor seam through which they reach the backing store.
//
// A Statement is a small tagged variant (insert or delete) carrying an ordered
// list of named fields. CQL renders the parameterized text with exactly one
// placeholder per field, and Args returns the values in the same order, so a
// single generic routine serves every tracking-table category.
//
// The query facility may be unavailable (for example while the owning process
// shuts down). Unavailable is an Executor whose calls are no-op successes, and
// Holder lets the owner swap executors at runtime without a global.
package query
