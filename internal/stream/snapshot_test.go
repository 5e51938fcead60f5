package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/rowstore/internal/base"
)

func newSnapshot(t *testing.T, f *fakeTable, config string, partition int32) *SnapshotContext {
	t.Helper()
	cfg, err := ParseConfig(f.schema, []byte(config))
	require.NoError(t, err)
	return NewSnapshotContext(f, base.DiscardLogger{}, cfg, partition, f.activateAll())
}

// bufFor sizes a buffer for the header plus exactly n framed rows.
func bufFor(schema *base.Schema, n int) []byte {
	return make([]byte, headerSize+n*(4+schema.Width()))
}

func TestSnapshotDrainOrder(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.addBlock(3, 8)
	for _, v := range []int64{1, 2, 3} {
		f.insert(t, 0, v)
	}
	for _, v := range []int64{4, 5} {
		f.insert(t, 3, v)
	}
	c := newSnapshot(t, f, "", 42)

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 16)))
	remaining, positions := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining, "everything fits in one call")
	assert.Equal(t, out.Positions(), positions)

	partition, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, int32(42), partition)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, firstCol(rows), "ascending block, ascending slot")

	assert.Equal(t, []base.BlockID{0, 3}, f.finished, "each block finishes after its pass")
	assert.True(t, c.DoneStreaming())
	assert.Equal(t, 0, f.aborted)
}

func TestSnapshotFitThenPull(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	for _, v := range []int64{1, 2, 3} {
		f.insert(t, 0, v)
	}
	c := newSnapshot(t, f, "", 0)

	// Two rows fit; the third is never pulled, so remaining is exact
	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 2)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(1), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{1, 2}, firstCol(rows))

	out = NewOutputStreams(NewOutputStream(bufFor(f.schema, 2)))
	remaining, _ = c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows = parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{3}, firstCol(rows))
}

func TestSnapshotExactFillCompletesInOneCall(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 1)
	f.insert(t, 0, 2)
	c := newSnapshot(t, f, "", 0)

	// Both rows fit exactly; the trailing walk needs no buffer room, so
	// completion is reported right here
	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 2)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	assert.True(t, c.DoneStreaming())
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{1, 2}, firstCol(rows))
	assert.Equal(t, []base.BlockID{0}, f.finished)

	// Further calls write nothing
	buf := bufFor(f.schema, 2)
	remaining, positions := c.StreamMore(NewOutputStreams(NewOutputStream(buf)))
	assert.Equal(t, int64(0), remaining)
	assert.Equal(t, []int{0}, positions)
	assert.Equal(t, bufFor(f.schema, 2), buf, "no header, no rows")
}

func TestSnapshotRejectsBadBuffers(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 1)

	c := newSnapshot(t, f, `{"predicates":[
		{"modulo":{"column":0,"divisor":2,"remainder":0}},
		{"modulo":{"column":0,"divisor":2,"remainder":1}}
	]}`, 0)

	// Stream count must equal predicate count
	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 4)))
	remaining, positions := c.StreamMore(out)
	assert.Equal(t, int64(-1), remaining)
	assert.Nil(t, positions)

	// Every buffer must hold at least the header plus one row
	small := NewOutputStream(make([]byte, headerSize+4+f.schema.Width()-1))
	out = NewOutputStreams(NewOutputStream(bufFor(f.schema, 4)), small)
	remaining, _ = c.StreamMore(out)
	assert.Equal(t, int64(-1), remaining)

	// A rejected call consumes nothing
	out = NewOutputStreams(NewOutputStream(bufFor(f.schema, 4)), NewOutputStream(bufFor(f.schema, 4)))
	remaining, _ = c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, odds := parseStream(t, f.schema, out.At(1))
	assert.Equal(t, []int64{1}, firstCol(odds))
}

func TestSnapshotUpdateCapturesPreImage(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 10)
	a1 := f.insert(t, 0, 20)
	c := newSnapshot(t, f, "", 0)

	// Serve only the first row, leaving row 1 unreached
	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 1)))
	remaining, _ := c.StreamMore(out)
	require.Equal(t, int64(1), remaining)

	// Update notifies first, then the live bytes change
	next := make([]byte, f.schema.Width())
	require.NoError(t, f.schema.Encode(next, []int64{99}))
	assert.True(t, c.NotifyTupleUpdate(a1, next))
	tp := f.blocks[0].Tuple(a1.Slot)
	copy(tp.Payload(), next)
	assert.True(t, tp.Dirty())

	// A second update of the same row captures nothing new
	assert.False(t, c.NotifyTupleUpdate(a1, next))

	out = NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ = c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{20}, firstCol(rows), "the activation image, not the update")

	assert.False(t, tp.Dirty(), "the pass wipes the dirty mark")
	assert.Equal(t, int64(99), tp.Int(0), "live value is untouched by the scan")
}

func TestSnapshotInsertAheadIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 1)
	f.insert(t, 0, 2)
	c := newSnapshot(t, f, "", 0)

	a := f.insert(t, 0, 3)
	assert.True(t, c.NotifyTupleInsert(a), "lands ahead of the cursor")
	assert.True(t, f.blocks[0].Tuple(a.Slot).Dirty())

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{1, 2}, firstCol(rows), "post-activation rows are not streamed")
	assert.False(t, f.blocks[0].Tuple(a.Slot).Dirty())
}

func TestSnapshotInsertBehindCursor(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	a0 := f.insert(t, 0, 1)
	f.insert(t, 0, 2)
	c := newSnapshot(t, f, "", 0)

	// Serve row 0, then delete it and reuse its slot
	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 1)))
	_, _ = c.StreamMore(out)

	assert.False(t, c.NotifyTupleDelete(a0), "already served, nothing to capture")
	f.free(a0)
	a := f.insert(t, 0, 9)
	require.Equal(t, a0, a, "freed slot is reused")
	assert.False(t, c.NotifyTupleInsert(a), "behind the cursor, no mark needed")
	assert.False(t, f.blocks[0].Tuple(a.Slot).Dirty())

	out = NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{2}, firstCol(rows), "the reused slot is never revisited")
}

func TestSnapshotDeleteEmitsShadowAfterLivePass(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 1)
	a1 := f.insert(t, 0, 2)
	f.insert(t, 0, 3)
	c := newSnapshot(t, f, "", 0)

	assert.True(t, c.NotifyTupleDelete(a1))
	f.free(a1)

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{1, 3, 2}, firstCol(rows), "live rows first, then the block's captures")
}

func TestSnapshotMovementHandsOff(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.addBlock(1, 8)
	f.insert(t, 0, 1)
	src := f.insert(t, 0, 2)
	c := newSnapshot(t, f, "", 0)

	// Relocate row 2 into block 1 the way compaction does: place the
	// copy, notify with both resident, then free the source
	dstBlk := f.blocks[1]
	slot, ok := dstBlk.Alloc()
	require.True(t, ok)
	copy(dstBlk.Tuple(slot).Payload(), f.blocks[0].Tuple(src.Slot).Payload())
	dst := base.Address{Block: 1, Slot: slot}
	assert.True(t, c.NotifyTupleMovement(src, dst))
	f.blocks[0].Free(src.Slot)

	assert.True(t, dstBlk.Tuple(slot).Dirty(), "the copy is ahead of the scan and must be skipped")

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))
	assert.Equal(t, []int64{1, 2}, firstCol(rows), "moved row is served exactly once, from its capture")
	assert.False(t, dstBlk.Tuple(slot).Dirty())
}

func TestSnapshotCompactedAwayDrainsOrphansLast(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.addBlock(5, 8)
	f.insert(t, 0, 1)
	a50 := f.insert(t, 5, 2)
	a51 := f.insert(t, 5, 3)
	c := newSnapshot(t, f, "", 0)

	// Update captures row 2's image into block 5's side buffer
	next := make([]byte, f.schema.Width())
	require.NoError(t, f.schema.Encode(next, []int64{9}))
	require.True(t, c.NotifyTupleUpdate(a50, next))
	copy(f.blocks[5].Tuple(a50.Slot).Payload(), next)

	// Compaction drains block 5: both rows move into block 0
	for _, src := range []base.Address{a51, a50} {
		blk := f.blocks[0]
		slot, ok := blk.Alloc()
		require.True(t, ok)
		copy(blk.Tuple(slot).Payload(), f.blocks[5].Tuple(src.Slot).Payload())
		c.NotifyTupleMovement(src, base.Address{Block: 0, Slot: slot})
		f.blocks[5].Free(src.Slot)
	}
	assert.True(t, c.NotifyBlockWasCompactedAway(5))
	f.dropBlock(5)
	assert.False(t, c.NotifyBlockWasCompactedAway(5), "second notice is a no-op")

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 8)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)
	_, rows := parseStream(t, f.schema, out.At(0))

	// Block 0's live row, then the reclaimed block's captures at the end
	assert.Equal(t, []int64{1, 3, 2}, firstCol(rows))
	assert.Equal(t, []base.BlockID{0}, f.finished, "a compacted-away block never finishes")
}

func TestSnapshotTriggersDelete(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 16)
	addrs := make(map[int64]base.Address)
	for v := int64(1); v <= 6; v++ {
		addrs[v] = f.insert(t, 0, v)
	}
	c := newSnapshot(t, f, `{"predicates":[
		{"modulo":{"column":0,"divisor":2,"remainder":0}},
		{"triggersDelete":true,"modulo":{"column":0,"divisor":2,"remainder":1}}
	]}`, 0)

	// Capture 5's image first; its live row becomes even
	next := make([]byte, f.schema.Width())
	require.NoError(t, f.schema.Encode(next, []int64{50}))
	require.True(t, c.NotifyTupleUpdate(addrs[5], next))
	copy(f.blocks[0].Tuple(addrs[5].Slot).Payload(), next)

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 16)), NewOutputStream(bufFor(f.schema, 16)))
	remaining, _ := c.StreamMore(out)
	assert.Equal(t, int64(0), remaining)

	_, evens := parseStream(t, f.schema, out.At(0))
	_, odds := parseStream(t, f.schema, out.At(1))
	assert.Equal(t, []int64{2, 4, 6}, firstCol(evens))
	assert.Equal(t, []int64{1, 3, 5}, firstCol(odds), "the capture streams the activation image")

	// Only live emissions trigger the delete; the captured 5 does not
	assert.Equal(t, []base.Address{addrs[1], addrs[3]}, f.deleted)
	assert.Equal(t, int64(4), f.ActiveCount())
	assert.True(t, f.blocks[0].Tuple(addrs[5].Slot).Active(), "the updated row survives")
}

func TestSnapshotDeactivateRestores(t *testing.T) {
	t.Parallel()

	f := newFakeTable(base.Int64)
	f.addBlock(0, 8)
	f.insert(t, 0, 1)
	f.insert(t, 0, 2)
	c := newSnapshot(t, f, "", 0)
	require.True(t, f.Pending(0))

	a := f.insert(t, 0, 3)
	require.True(t, c.NotifyTupleInsert(a))

	out := NewOutputStreams(NewOutputStream(bufFor(f.schema, 1)))
	_, _ = c.StreamMore(out)

	c.Deactivate()
	assert.True(t, c.DoneStreaming())
	assert.Equal(t, 1, f.aborted)
	assert.False(t, f.Pending(0))
	assert.False(t, f.blocks[0].Tuple(a.Slot).Dirty(), "abandoned marks are wiped")
}
