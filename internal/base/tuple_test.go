package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTupleFlags(t *testing.T) {
	t.Parallel()

	s := NewSchema(Int64)
	raw := make([]byte, s.RowWidth())
	tp := NewTuple(raw, s)

	assert.False(t, tp.Active())
	assert.False(t, tp.Dirty())

	// The two flags occupy independent header bits
	tp.SetActive(true)
	assert.True(t, tp.Active())
	assert.False(t, tp.Dirty())

	tp.SetDirty(true)
	assert.True(t, tp.Active())
	assert.True(t, tp.Dirty())

	tp.SetActive(false)
	assert.False(t, tp.Active())
	assert.True(t, tp.Dirty(), "clearing active must not clear dirty")

	tp.SetDirty(false)
	assert.Equal(t, byte(0), raw[0])
}

func TestTupleValues(t *testing.T) {
	t.Parallel()

	s := NewSchema(Int32, Int64)
	raw := make([]byte, s.RowWidth())
	tp := NewTuple(raw, s)

	tp.SetInt(0, 42)
	tp.SetInt(1, -7)
	assert.Equal(t, int64(42), tp.Int(0))
	assert.Equal(t, int64(-7), tp.Int(1))
	assert.Equal(t, []int64{42, -7}, tp.Values())

	// CopyPayload detaches from row storage
	cp := tp.CopyPayload()
	tp.SetInt(0, 99)
	assert.Equal(t, []int64{42, -7}, s.Decode(cp))
	assert.Equal(t, int64(99), tp.Int(0))
}

func TestTupleValid(t *testing.T) {
	t.Parallel()

	var zero Tuple
	assert.False(t, zero.Valid())

	s := NewSchema(Int8)
	tp := NewTuple(make([]byte, s.RowWidth()), s)
	assert.True(t, tp.Valid())
}

func TestAddressKeyOrdering(t *testing.T) {
	t.Parallel()

	a := Address{Block: 1, Slot: 65535}
	b := Address{Block: 2, Slot: 0}

	// Block dominates slot in the packed key
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	assert.Equal(t, uint64(1)<<16|65535, a.Key())
	assert.Equal(t, uint64(2)<<16, b.Key())
}
