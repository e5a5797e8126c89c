// Package storage defines persistence contracts for siteslot.
//
// The service layer and validation pipeline depend on these interfaces only,
// never on a concrete backend, so stores can be swapped in tests and the
// transport bindings can never reach the database directly.
package storage
