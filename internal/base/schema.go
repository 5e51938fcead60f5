package base

import "encoding/binary"

// ColumnType enumerates the fixed-width column kinds a Schema supports.
type ColumnType uint8

const (
	Int8 ColumnType = iota
	Int16
	Int32
	Int64
	Float64
	Timestamp
)

// Width returns the encoded size of the column in bytes.
func (c ColumnType) Width() int {
	switch c {
	case Int8:
		return 1
	case Int16:
		return 2
	case Int32:
		return 4
	default:
		return 8
	}
}

// Schema describes the fixed-width layout of a table's rows.
//
// Row layout within a block:
//
//	┌──────────────┬──────────────────────────────────────┐
//	│ Header (1B)  │ Column data (big-endian, fixed width)│
//	│ bit0: active │ offsets precomputed per column       │
//	│ bit1: dirty  │                                      │
//	└──────────────┴──────────────────────────────────────┘
//
// Values cross the API as int64: integer columns are truncated to their
// width on encode and sign-extended on decode, Float64 carries IEEE bits,
// Timestamp carries microseconds.
type Schema struct {
	cols    []ColumnType
	offsets []int
	width   int
}

// NewSchema builds a schema from the given column kinds.
func NewSchema(cols ...ColumnType) *Schema {
	s := &Schema{
		cols:    append([]ColumnType(nil), cols...),
		offsets: make([]int, len(cols)),
	}
	off := 0
	for i, c := range cols {
		s.offsets[i] = off
		off += c.Width()
	}
	s.width = off
	return s
}

// Columns returns the number of columns.
func (s *Schema) Columns() int { return len(s.cols) }

// Column returns the type of column i.
func (s *Schema) Column(i int) ColumnType { return s.cols[i] }

// Offset returns the byte offset of column i within the row payload.
func (s *Schema) Offset(i int) int { return s.offsets[i] }

// Width returns the payload width in bytes, excluding the header byte.
func (s *Schema) Width() int { return s.width }

// RowWidth returns the total stored row width including the header byte.
func (s *Schema) RowWidth() int { return s.width + RowHeaderSize }

// EncodeColumn writes v into the payload at column i.
func (s *Schema) EncodeColumn(payload []byte, i int, v int64) {
	off := s.offsets[i]
	switch s.cols[i] {
	case Int8:
		payload[off] = byte(v)
	case Int16:
		binary.BigEndian.PutUint16(payload[off:], uint16(v))
	case Int32:
		binary.BigEndian.PutUint32(payload[off:], uint32(v))
	default:
		binary.BigEndian.PutUint64(payload[off:], uint64(v))
	}
}

// DecodeColumn reads column i from the payload, sign-extending integers.
func (s *Schema) DecodeColumn(payload []byte, i int) int64 {
	off := s.offsets[i]
	switch s.cols[i] {
	case Int8:
		return int64(int8(payload[off]))
	case Int16:
		return int64(int16(binary.BigEndian.Uint16(payload[off:])))
	case Int32:
		return int64(int32(binary.BigEndian.Uint32(payload[off:])))
	default:
		return int64(binary.BigEndian.Uint64(payload[off:]))
	}
}

// Encode writes a full value slice into the payload.
func (s *Schema) Encode(payload []byte, vals []int64) error {
	if len(vals) != len(s.cols) {
		return ErrSchemaMismatch
	}
	for i, v := range vals {
		s.EncodeColumn(payload, i, v)
	}
	return nil
}

// Decode reads every column of the payload into a fresh slice.
func (s *Schema) Decode(payload []byte) []int64 {
	vals := make([]int64, len(s.cols))
	for i := range s.cols {
		vals[i] = s.DecodeColumn(payload, i)
	}
	return vals
}

// ColumnBytes returns the raw encoded bytes of column i within payload.
func (s *Schema) ColumnBytes(payload []byte, i int) []byte {
	off := s.offsets[i]
	return payload[off : off+s.cols[i].Width()]
}
