package base

// RowHeaderSize is the per-row header prefix: one flag byte.
const RowHeaderSize = 1

const (
	flagActive = 0x01
	flagDirty  = 0x02
)

// BlockID is a stable integer handle to a block. Handles are assigned
// monotonically and never reused, so a retained id can dangle but can
// never alias a different block.
type BlockID uint32

// Address identifies a row as (block handle, slot index). It stays
// meaningful across internal memory reuse; compaction invalidates it only
// by moving the row, which is reported through the movement notification.
type Address struct {
	Block BlockID
	Slot  uint16
}

// Key packs the address into a single ordered integer for map keys.
func (a Address) Key() uint64 {
	return uint64(a.Block)<<16 | uint64(a.Slot)
}

// Less orders addresses by block then slot.
func (a Address) Less(b Address) bool {
	return a.Key() < b.Key()
}

// Tuple is a view over one row's storage: the header byte plus the
// fixed-width column payload. The zero Tuple is invalid.
type Tuple struct {
	raw    []byte
	schema *Schema
}

// NewTuple wraps raw row storage. raw must be RowWidth bytes.
func NewTuple(raw []byte, schema *Schema) Tuple {
	return Tuple{raw: raw, schema: schema}
}

// Valid reports whether the view points at storage.
func (t Tuple) Valid() bool { return t.raw != nil }

// Active reports the active flag.
func (t Tuple) Active() bool { return t.raw[0]&flagActive != 0 }

// SetActive sets or clears the active flag.
func (t Tuple) SetActive(v bool) {
	if v {
		t.raw[0] |= flagActive
	} else {
		t.raw[0] &^= flagActive
	}
}

// Dirty reports the dirty flag: the row is already accounted for by the
// active snapshot and exempt from further pre-image capture.
func (t Tuple) Dirty() bool { return t.raw[0]&flagDirty != 0 }

// SetDirty sets or clears the dirty flag.
func (t Tuple) SetDirty(v bool) {
	if v {
		t.raw[0] |= flagDirty
	} else {
		t.raw[0] &^= flagDirty
	}
}

// Payload returns the column data region.
func (t Tuple) Payload() []byte {
	return t.raw[RowHeaderSize : RowHeaderSize+t.schema.width]
}

// Int decodes column i.
func (t Tuple) Int(i int) int64 {
	return t.schema.DecodeColumn(t.Payload(), i)
}

// SetInt encodes v into column i.
func (t Tuple) SetInt(i int, v int64) {
	t.schema.EncodeColumn(t.Payload(), i, v)
}

// Values decodes every column.
func (t Tuple) Values() []int64 {
	return t.schema.Decode(t.Payload())
}

// CopyPayload clones the column data, detaching it from live storage.
func (t Tuple) CopyPayload() []byte {
	return append([]byte(nil), t.Payload()...)
}
