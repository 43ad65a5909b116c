package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and backends return these
// (usually wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: row or ledger key does not exist
//   - ErrConflict: a concurrent writer won a compare-and-transition, or a
//     unique key was taken
//   - ErrInvalidState: entity is in the wrong state for the operation
//   - ErrUnavailable: backend temporarily unreachable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
