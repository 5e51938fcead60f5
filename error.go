package rowstore

import (
	"github.com/alexhholmes/rowstore/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrTableFull          = base.ErrTableFull
	ErrAllocation         = base.ErrAllocation
	ErrInvalidAddress     = base.ErrInvalidAddress
	ErrSchemaMismatch     = base.ErrSchemaMismatch
	ErrClosed             = base.ErrClosed
	ErrStreamTypeActive   = base.ErrStreamTypeActive
	ErrNoActiveStream     = base.ErrNoActiveStream
	ErrBadPredicateConfig = base.ErrBadPredicateConfig
	ErrBufferTooSmall     = base.ErrBufferTooSmall
	ErrStreamTypeUnknown  = base.ErrStreamTypeUnknown
)
