package base

import "errors"

var (
	ErrTableFull          = errors.New("table full: row limit reached")
	ErrAllocation         = errors.New("allocation failed: no block available")
	ErrInvalidAddress     = errors.New("invalid address: no active row")
	ErrSchemaMismatch     = errors.New("schema mismatch: wrong value count")
	ErrClosed             = errors.New("table closed")
	ErrStreamTypeActive   = errors.New("stream type already active")
	ErrNoActiveStream     = errors.New("no active stream of that type")
	ErrBadPredicateConfig = errors.New("malformed predicate config")
	ErrBufferTooSmall     = errors.New("output buffer smaller than one framed row")
	ErrStreamTypeUnknown  = errors.New("unknown stream type")
)
