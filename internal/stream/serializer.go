package stream

import (
	"encoding/binary"

	"github.com/alexhholmes/rowstore/internal/base"
)

// Serializer owns the per-row wire layout. The engine only relies on
// RowLength to bound buffer capacity; everything past the 4-byte length
// prefix belongs to the serializer.
type Serializer interface {
	// RowLength returns the framed size of one row: prefix plus payload.
	RowLength(schema *base.Schema) int
	// Serialize writes the framed row into dst and returns bytes written.
	// dst is guaranteed to hold RowLength bytes.
	Serialize(dst []byte, payload []byte) int
}

// FixedSerializer frames a row as [4-byte length][column payload], all
// big-endian. The length counts payload bytes only.
type FixedSerializer struct{}

func (FixedSerializer) RowLength(schema *base.Schema) int {
	return 4 + schema.Width()
}

func (FixedSerializer) Serialize(dst []byte, payload []byte) int {
	binary.BigEndian.PutUint32(dst, uint32(len(payload)))
	copy(dst[4:], payload)
	return 4 + len(payload)
}
