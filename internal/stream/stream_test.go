package stream

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/rowstore/internal/base"
)

// fakeTable is a minimal Table backed by real blocks on plain heap
// memory. It records the bookkeeping calls contexts make so tests can
// assert on them exactly.
type fakeTable struct {
	schema  *base.Schema
	blocks  map[base.BlockID]*base.Block
	ids     []base.BlockID
	pending map[base.BlockID]bool
	active  int64

	finished []base.BlockID
	deleted  []base.Address
	aborted  int
}

func newFakeTable(cols ...base.ColumnType) *fakeTable {
	return &fakeTable{
		schema:  base.NewSchema(cols...),
		blocks:  make(map[base.BlockID]*base.Block),
		pending: make(map[base.BlockID]bool),
	}
}

func (f *fakeTable) addBlock(id base.BlockID, rows int) *base.Block {
	b := base.NewBlock(id, f.schema, make([]byte, rows*f.schema.RowWidth()))
	f.blocks[id] = b
	f.ids = append(f.ids, id)
	sort.Slice(f.ids, func(i, j int) bool { return f.ids[i] < f.ids[j] })
	return b
}

func (f *fakeTable) dropBlock(id base.BlockID) {
	delete(f.blocks, id)
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			break
		}
	}
	delete(f.pending, id)
}

func (f *fakeTable) insert(t *testing.T, id base.BlockID, vals ...int64) base.Address {
	t.Helper()
	b := f.blocks[id]
	slot, ok := b.Alloc()
	require.True(t, ok, "block %d full", id)
	require.NoError(t, f.schema.Encode(b.Tuple(slot).Payload(), vals))
	f.active++
	return base.Address{Block: id, Slot: slot}
}

func (f *fakeTable) free(addr base.Address) {
	f.blocks[addr.Block].Free(addr.Slot)
	f.active--
}

// activateAll marks every block pending and returns the ascending
// universe, mirroring what the store does on snapshot activation.
func (f *fakeTable) activateAll() []base.BlockID {
	ids := append([]base.BlockID(nil), f.ids...)
	for _, id := range ids {
		f.pending[id] = true
	}
	return ids
}

func (f *fakeTable) Schema() *base.Schema { return f.schema }

func (f *fakeTable) Block(id base.BlockID) (*base.Block, bool) {
	b, ok := f.blocks[id]
	return b, ok
}

func (f *fakeTable) FirstBlock() (*base.Block, bool) {
	if len(f.ids) == 0 {
		return nil, false
	}
	return f.blocks[f.ids[0]], true
}

func (f *fakeTable) NextBlock(after base.BlockID) (*base.Block, bool) {
	for _, id := range f.ids {
		if id > after {
			return f.blocks[id], true
		}
	}
	return nil, false
}

func (f *fakeTable) Pending(id base.BlockID) bool { return f.pending[id] }

func (f *fakeTable) FinishSnapshotBlock(id base.BlockID) {
	f.finished = append(f.finished, id)
	delete(f.pending, id)
}

func (f *fakeTable) AbortSnapshot() {
	f.aborted++
	f.pending = make(map[base.BlockID]bool)
}

func (f *fakeTable) DeleteStreamedRow(addr base.Address) error {
	b, ok := f.blocks[addr.Block]
	if !ok {
		return base.ErrInvalidAddress
	}
	if !b.Tuple(addr.Slot).Active() {
		return base.ErrInvalidAddress
	}
	b.Free(addr.Slot)
	f.active--
	f.deleted = append(f.deleted, addr)
	return nil
}

func (f *fakeTable) ActiveCount() int64 { return f.active }

var _ Table = (*fakeTable)(nil)

// parseStream decodes one output buffer: the partition id and every
// framed row's decoded values.
func parseStream(t *testing.T, schema *base.Schema, o *OutputStream) (int32, [][]int64) {
	t.Helper()
	out := o.Bytes()
	if len(out) == 0 {
		return 0, nil
	}
	require.GreaterOrEqual(t, len(out), headerSize)
	partition := int32(binary.BigEndian.Uint32(out[0:4]))
	count := binary.BigEndian.Uint32(out[4:8])

	var rows [][]int64
	pos := headerSize
	for pos < len(out) {
		require.GreaterOrEqual(t, len(out)-pos, 4, "truncated length prefix")
		n := int(binary.BigEndian.Uint32(out[pos : pos+4]))
		pos += 4
		require.Equal(t, schema.Width(), n, "payload length must match the schema")
		rows = append(rows, schema.Decode(out[pos:pos+n]))
		pos += n
	}
	require.Equal(t, int(count), len(rows), "backpatched count must match the framed rows")
	return partition, rows
}

// firstCol projects column 0 of every parsed row.
func firstCol(rows [][]int64) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out
}
