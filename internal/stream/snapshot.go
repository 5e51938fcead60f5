package stream

import (
	"github.com/alexhholmes/rowstore/internal/base"
)

// SnapshotContext streams every row that was active at activation exactly
// once, while the table keeps mutating underneath it.
//
// The mechanism is copy-on-write at row granularity. The activation block
// set is scanned in ascending block order, lowest slot first. A mutation
// that would destroy a not-yet-scanned row's activation image (update,
// delete, compaction move) first copies the pre-mutation payload into a
// side buffer owned by this context; the row's dirty flag marks it as
// accounted for so later mutations and the scan itself skip it. Rows
// inserted after activation are marked dirty on arrival when they land
// ahead of the scan cursor, so the scan skips them too. Side buffers are
// drained after their block's live pass; buffers orphaned by block
// reclamation drain at the very end.
type SnapshotContext struct {
	table       Table
	log         base.Logger
	schema      *base.Schema
	cfg         *Config
	ser         Serializer
	partitionID int32

	// Scan universe fixed at activation, ascending. remaining tracks
	// blocks not yet finished; cur/slot is the resume position.
	order     []base.BlockID
	remaining map[base.BlockID]struct{}
	cur       int
	slot      int

	// Captured pre-images, grouped by the block the row lived in when
	// captured. orphans holds captures whose block was reclaimed.
	shadows map[base.BlockID][][]byte
	orphans [][]byte

	total    int64
	served   int64
	finished bool

	matched []int
}

var _ Streamer = (*SnapshotContext)(nil)

// NewSnapshotContext builds a context over the given activation block
// set. The caller has already flipped those blocks to pending; blocks
// must be in ascending id order. partitionID stamps every buffer header.
func NewSnapshotContext(table Table, log base.Logger, cfg *Config, partitionID int32, blocks []base.BlockID) *SnapshotContext {
	remaining := make(map[base.BlockID]struct{}, len(blocks))
	for _, id := range blocks {
		remaining[id] = struct{}{}
	}
	return &SnapshotContext{
		table:       table,
		log:         log,
		schema:      table.Schema(),
		cfg:         cfg,
		ser:         FixedSerializer{},
		partitionID: partitionID,
		order:       blocks,
		remaining:   remaining,
		shadows:     make(map[base.BlockID][][]byte),
		total:       table.ActiveCount(),
	}
}

func (c *SnapshotContext) Type() StreamType { return StreamSnapshot }

// DoneStreaming reports whether the scan has served every activation row.
func (c *SnapshotContext) DoneStreaming() bool { return c.finished }

// needVisit reports whether the scan has yet to reach addr: the block is
// unfinished and, if it is the current block, the slot is at or ahead of
// the cursor. Rows the scan will still visit need no capture on insert
// (the dirty flag suffices) but do need their pre-image saved before an
// update, delete, or move.
func (c *SnapshotContext) needVisit(addr base.Address) bool {
	if _, ok := c.remaining[addr.Block]; !ok {
		return false
	}
	if c.cur < len(c.order) && c.order[c.cur] == addr.Block && int(addr.Slot) < c.slot {
		return false
	}
	return true
}

// capture saves addr's payload into the block's side buffer and marks the
// row dirty. No-op when the row is already accounted for or out of the
// scan's future path.
func (c *SnapshotContext) capture(addr base.Address) bool {
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	t := blk.Tuple(addr.Slot)
	if t.Dirty() || !c.needVisit(addr) {
		return false
	}
	c.shadows[addr.Block] = append(c.shadows[addr.Block], t.CopyPayload())
	t.SetDirty(true)
	return true
}

// NotifyTupleInsert marks rows that land ahead of the scan as dirty so
// the live pass skips them. Post-activation rows are never streamed.
func (c *SnapshotContext) NotifyTupleInsert(addr base.Address) bool {
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	visit := c.needVisit(addr)
	blk.Tuple(addr.Slot).SetDirty(visit)
	return visit
}

// NotifyTupleUpdate captures the pre-update payload when the scan has not
// reached the row. The incoming image is irrelevant to the snapshot.
func (c *SnapshotContext) NotifyTupleUpdate(addr base.Address, _ []byte) bool {
	return c.capture(addr)
}

// NotifyTupleDelete captures the payload before the row is freed.
func (c *SnapshotContext) NotifyTupleDelete(addr base.Address) bool {
	return c.capture(addr)
}

// NotifyTupleMovement handles a compaction move while both copies are
// resident. The source pre-image is captured if the scan still owed it a
// visit; the target copy is flagged dirty exactly when the scan will pass
// over it, so the row is never served twice.
func (c *SnapshotContext) NotifyTupleMovement(src, dst base.Address) bool {
	captured := c.capture(src)
	if blk, ok := c.table.Block(dst.Block); ok {
		blk.Tuple(dst.Slot).SetDirty(c.needVisit(dst))
	}
	return captured
}

// NotifyBlockWasCompactedAway drops a reclaimed block from the scan set
// and re-homes its captured pre-images to the orphan list. The cursor
// skips the gap on its next advance.
func (c *SnapshotContext) NotifyBlockWasCompactedAway(id base.BlockID) bool {
	if _, ok := c.remaining[id]; !ok {
		return false
	}
	delete(c.remaining, id)
	if sh := c.shadows[id]; len(sh) > 0 {
		c.orphans = append(c.orphans, sh...)
	}
	delete(c.shadows, id)
	return true
}

// next returns the next row owed to the stream: live rows of the current
// block in slot order, then the block's captured pre-images, then on to
// the next block, and finally the orphaned captures. live reports whether
// payload aliases row storage at addr; captured rows return live false.
func (c *SnapshotContext) next() (payload []byte, addr base.Address, live, ok bool) {
	for {
		if c.cur >= len(c.order) {
			if len(c.orphans) > 0 {
				payload = c.orphans[0]
				c.orphans = c.orphans[1:]
				return payload, base.Address{}, false, true
			}
			return nil, base.Address{}, false, false
		}
		id := c.order[c.cur]
		if _, unfinished := c.remaining[id]; !unfinished {
			c.cur++
			c.slot = 0
			continue
		}
		blk, found := c.table.Block(id)
		if !found {
			c.log.Warn("snapshot block vanished without reclaim notice", "block", id)
			delete(c.remaining, id)
			continue
		}
		// High water is re-read each step; rows inserted behind it
		// after a pause arrive dirty and are skipped here.
		for c.slot < blk.HighWater() {
			s := uint16(c.slot)
			c.slot++
			t := blk.Tuple(s)
			if !t.Active() {
				continue
			}
			if t.Dirty() {
				t.SetDirty(false)
				continue
			}
			return t.Payload(), base.Address{Block: id, Slot: s}, true, true
		}
		if sh := c.shadows[id]; len(sh) > 0 {
			c.shadows[id] = sh[1:]
			return sh[0], base.Address{}, false, true
		}
		delete(c.shadows, id)
		delete(c.remaining, id)
		c.table.FinishSnapshotBlock(id)
		c.cur++
		c.slot = 0
	}
}

// StreamMore advances the scan into out until some buffer cannot hold
// another row or the scan ends. A row is pulled only after every buffer
// confirmed capacity, so a full buffer ends the call with the scan
// positioned exactly at the unpulled row. A buffer sized for exactly the
// rows left still finishes in one call, since the walk past the last
// served row needs no capacity. Rows matching a triggers-delete predicate
// are removed from the live table after the scan work, outside the undo
// log.
func (c *SnapshotContext) StreamMore(out *OutputStreams) (int64, []int) {
	want := len(c.cfg.Predicates)
	if want == 0 {
		want = 1
	}
	if out.Len() != want {
		return -1, nil
	}
	rowLen := c.ser.RowLength(c.schema)
	for i := 0; i < out.Len(); i++ {
		if len(out.At(i).buf) < headerSize+rowLen {
			return -1, nil
		}
	}

	var doomed []base.Address
	for !c.finished {
		// Once every owed row is out, the walk can only be clearing
		// flags and finishing blocks, so it runs without buffer room
		// and completion is reported in this call.
		if c.served < c.total && !roomForRow(out, rowLen) {
			break
		}
		payload, addr, live, ok := c.next()
		if !ok {
			c.finished = true
			break
		}
		if del := c.serve(out, payload); del && live {
			doomed = append(doomed, addr)
		}
		c.served++
	}
	out.closeAll()

	for _, addr := range doomed {
		if err := c.table.DeleteStreamedRow(addr); err != nil {
			c.log.Warn("failed to delete streamed row", "addr", addr, "error", err)
		}
	}

	if c.finished {
		return 0, out.Positions()
	}
	return c.total - c.served, out.Positions()
}

// serve fans one row out to every matching buffer and reports whether a
// triggers-delete predicate matched. With no predicates configured every
// buffer receives the row.
func (c *SnapshotContext) serve(out *OutputStreams, payload []byte) bool {
	if len(c.cfg.Predicates) == 0 {
		for i := 0; i < out.Len(); i++ {
			out.At(i).write(c.ser, c.partitionID, payload)
		}
		return false
	}
	c.matched = c.matched[:0]
	del := false
	for i, p := range c.cfg.Predicates {
		if p.Match(payload) {
			c.matched = append(c.matched, i)
			if p.TriggersDelete {
				del = true
			}
		}
	}
	for _, i := range c.matched {
		out.At(i).write(c.ser, c.partitionID, payload)
	}
	return del
}

// Deactivate abandons the scan: pending block membership is restored,
// dirty flags in unreached blocks are wiped, and captures are dropped.
func (c *SnapshotContext) Deactivate() {
	for id := range c.remaining {
		blk, ok := c.table.Block(id)
		if !ok {
			continue
		}
		blk.IterateLive(func(_ uint16, t base.Tuple) bool {
			t.SetDirty(false)
			return true
		})
	}
	c.remaining = make(map[base.BlockID]struct{})
	c.shadows = make(map[base.BlockID][][]byte)
	c.orphans = nil
	c.finished = true
	c.table.AbortSnapshot()
}

// roomForRow reports whether every buffer can take one more framed row.
func roomForRow(out *OutputStreams, rowLen int) bool {
	for i := 0; i < out.Len(); i++ {
		if !out.At(i).fits(rowLen) {
			return false
		}
	}
	return true
}
