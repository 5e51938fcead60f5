// Package rowstore implements an in-memory, block-organized row store
// that can produce a consistent full-table snapshot while concurrently
// serving inserts, updates, deletes, and block compaction, plus an
// online hash-range membership index built over the same
// mutation-notification protocol.
package rowstore

import (
	"github.com/alexhholmes/rowstore/internal/base"
	"github.com/alexhholmes/rowstore/internal/stream"
)

// Core types, re-exported from the internal packages.
type (
	Schema     = base.Schema
	ColumnType = base.ColumnType
	Address    = base.Address
	BlockID    = base.BlockID

	StreamType    = stream.StreamType
	OutputStream  = stream.OutputStream
	OutputStreams = stream.OutputStreams
)

// Column kinds a schema supports.
const (
	Int8      = base.Int8
	Int16     = base.Int16
	Int32     = base.Int32
	Int64     = base.Int64
	Float64   = base.Float64
	Timestamp = base.Timestamp
)

// Stream types accepted by ActivateStream.
const (
	StreamSnapshot     = stream.StreamSnapshot
	StreamElasticIndex = stream.StreamElasticIndex
)

// NewSchema builds a schema from the given column kinds.
func NewSchema(cols ...ColumnType) *Schema {
	return base.NewSchema(cols...)
}

// NewOutputStream wraps buf as one fixed-capacity stream buffer.
func NewOutputStream(buf []byte) *OutputStream {
	return stream.NewOutputStream(buf)
}

// NewOutputStreams bundles buffers as the fan-out target for one
// StreamMore call.
func NewOutputStreams(streams ...*OutputStream) *OutputStreams {
	return stream.NewOutputStreams(streams...)
}
