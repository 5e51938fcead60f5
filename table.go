package rowstore

import (
	"fmt"
	"sync/atomic"

	"github.com/alexhholmes/rowstore/internal/base"
	"github.com/alexhholmes/rowstore/internal/storage"
	"github.com/alexhholmes/rowstore/internal/stream"
)

// UndoLog receives an inverse action for every forward mutation while
// attached. The undo package provides the token-ordered implementation;
// any collector satisfies the interface.
type UndoLog interface {
	Register(fn func())
}

// Row is a decoded live row.
type Row struct {
	Addr Address
	Vals []int64
}

// Table is a mutable, block-organized row store. All mutation and
// streaming calls must run on a single logical thread; concurrency is
// between sequential operations, never simultaneous ones.
//
// Mutations while streams are active notify every active streamer before
// the mutation commits, which is what lets a snapshot capture pre-images
// and the elastic index stay exact under arbitrary interleaving.
type Table struct {
	name   string
	schema *base.Schema
	log    Logger
	store  *storage.Store

	maxRows int64
	active  int64

	undo UndoLog

	// Active streamers in activation order. StreamMore drives the
	// oldest one that still has scan work.
	streamers []stream.Streamer
	pcache    *stream.ConfigCache

	closed bool

	inserts     atomic.Uint64
	updates     atomic.Uint64
	deletes     atomic.Uint64
	moves       atomic.Uint64
	activations atomic.Uint64
}

// New creates an empty table over the given schema.
func New(name string, schema *Schema, opts ...Option) (*Table, error) {
	if schema == nil || schema.Columns() == 0 {
		return nil, fmt.Errorf("%w: table needs at least one column", ErrSchemaMismatch)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	blockBytes := base.DefaultBlockBytes
	if o.blockCapacity > 0 {
		rows := o.blockCapacity
		if rows > base.MaxSlots {
			rows = base.MaxSlots
		}
		blockBytes = rows * schema.RowWidth()
	}
	pcache, err := stream.NewConfigCache(schema, o.predicateCacheSize)
	if err != nil {
		return nil, err
	}
	t := &Table{
		name:    name,
		schema:  schema,
		log:     o.logger,
		store:   storage.New(schema, blockBytes, o.logger),
		maxRows: o.maxRows,
		pcache:  pcache,
	}
	t.log.Info("table created",
		"table", name,
		"columns", schema.Columns(),
		"rowWidth", schema.RowWidth(),
		"blockBytes", blockBytes,
	)
	return t, nil
}

// Schema returns the table's schema.
func (t *Table) Schema() *Schema { return t.schema }

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// ActiveCount returns the number of live rows.
func (t *Table) ActiveCount() int64 { return t.active }

// SetUndoLog attaches (or with nil detaches) the undo log that receives
// inverse actions for subsequent mutations.
func (t *Table) SetUndoLog(u UndoLog) { t.undo = u }

// Insert stores a new row and returns its address. The address stays
// valid until the row is deleted or compaction relocates it.
func (t *Table) Insert(vals []int64) (Address, error) {
	if t.closed {
		return Address{}, ErrClosed
	}
	if len(vals) != t.schema.Columns() {
		return Address{}, ErrSchemaMismatch
	}
	if t.maxRows > 0 && t.active >= t.maxRows {
		return Address{}, ErrTableFull
	}
	addr, err := t.place(vals)
	if err != nil {
		return Address{}, err
	}
	t.notifyInsert(addr)
	t.inserts.Add(1)
	if t.undo != nil {
		t.undo.Register(func() { t.deleteForUndo(addr) })
	}
	return addr, nil
}

// place allocates a slot, encodes the row, and updates occupancy. Shared
// by Insert and undo-driven reinsertion.
func (t *Table) place(vals []int64) (base.Address, error) {
	blk, ok := t.store.BlockWithSpace()
	if !ok {
		var err error
		blk, err = t.store.AllocBlock()
		if err != nil {
			return base.Address{}, err
		}
	}
	slot, ok := blk.Alloc()
	if !ok {
		return base.Address{}, ErrAllocation
	}
	if err := t.schema.Encode(blk.Tuple(slot).Payload(), vals); err != nil {
		blk.Free(slot)
		t.store.OccupancyChanged(blk)
		return base.Address{}, err
	}
	t.store.OccupancyChanged(blk)
	t.active++
	return base.Address{Block: blk.ID(), Slot: slot}, nil
}

// Update overwrites the row at addr in place. Streamers are notified
// with the incoming image before the live bytes change.
func (t *Table) Update(addr Address, vals []int64) error {
	if t.closed {
		return ErrClosed
	}
	if len(vals) != t.schema.Columns() {
		return ErrSchemaMismatch
	}
	tp, _, err := t.liveTuple(addr)
	if err != nil {
		return err
	}
	prev := tp.Values()
	next := make([]byte, t.schema.Width())
	if err := t.schema.Encode(next, vals); err != nil {
		return err
	}
	t.notifyUpdate(addr, next)
	copy(tp.Payload(), next)
	t.updates.Add(1)
	if t.undo != nil {
		t.undo.Register(func() { t.updateForUndo(addr, prev) })
	}
	return nil
}

// Delete removes the row at addr. The freed slot is reusable
// immediately; an emptied block outside an active snapshot is reclaimed
// on the spot.
func (t *Table) Delete(addr Address) error {
	if t.closed {
		return ErrClosed
	}
	tp, blk, err := t.liveTuple(addr)
	if err != nil {
		return err
	}
	prev := tp.Values()
	t.notifyDelete(addr)
	blk.Free(addr.Slot)
	t.store.OccupancyChanged(blk)
	t.active--
	t.deletes.Add(1)
	t.maybeReclaim(blk)
	if t.undo != nil {
		t.undo.Register(func() { t.insertForUndo(prev) })
	}
	return nil
}

// DeleteAll removes every live row through the regular delete path, so
// streamers hear each removal and the undo log can restore all of it.
func (t *Table) DeleteAll() error {
	if t.closed {
		return ErrClosed
	}
	var addrs []base.Address
	t.store.AscendBlocks(func(b *base.Block) bool {
		id := b.ID()
		for _, s := range b.LiveSlots() {
			addrs = append(addrs, base.Address{Block: id, Slot: uint16(s)})
		}
		return true
	})
	for _, addr := range addrs {
		if err := t.Delete(addr); err != nil {
			return err
		}
	}
	return nil
}

// RowAt decodes the live row at addr.
func (t *Table) RowAt(addr Address) (Row, bool) {
	if t.closed {
		return Row{}, false
	}
	tp, _, err := t.liveTuple(addr)
	if err != nil {
		return Row{}, false
	}
	return Row{Addr: addr, Vals: tp.Values()}, true
}

// liveTuple resolves addr to its row view, failing on anything that is
// not a live active row.
func (t *Table) liveTuple(addr base.Address) (base.Tuple, *base.Block, error) {
	blk, ok := t.store.Block(addr.Block)
	if !ok {
		return base.Tuple{}, nil, ErrInvalidAddress
	}
	if int(addr.Slot) >= blk.HighWater() {
		return base.Tuple{}, nil, ErrInvalidAddress
	}
	tp := blk.Tuple(addr.Slot)
	if !tp.Active() {
		return base.Tuple{}, nil, ErrInvalidAddress
	}
	return tp, blk, nil
}

// maybeReclaim returns an emptied block's memory to the OS. Blocks in
// the snapshot-pending subset linger; the scan finishes them and the
// finish path reclaims what is left empty.
func (t *Table) maybeReclaim(blk *base.Block) {
	if !blk.Empty() || t.store.Pending(blk.ID()) {
		return
	}
	id := blk.ID()
	t.notifyCompactedAway(id)
	t.store.Reclaim(id)
}

// Compact merges sparse blocks within each subset and returns how many
// blocks were reclaimed. Rows move between blocks of the same subset
// only, so snapshot pending membership never changes under compaction.
// Compaction is not undoable; run it with the undo log empty.
func (t *Table) Compact() int {
	if t.closed {
		return 0
	}
	reclaimed := t.compactSubset(false) + t.compactSubset(true)
	if reclaimed > 0 {
		t.log.Info("compaction reclaimed blocks", "table", t.name, "blocks", reclaimed)
	}
	return reclaimed
}

func (t *Table) compactSubset(pending bool) int {
	reclaimed := 0
	for {
		src, ok := t.store.CompactionSource(pending)
		if !ok {
			break
		}
		if src.Empty() {
			id := src.ID()
			t.notifyCompactedAway(id)
			t.store.Reclaim(id)
			reclaimed++
			continue
		}
		if t.store.SubsetFree(pending, src.ID()) < src.Occupied() {
			break
		}
		if !t.drain(src, pending) {
			break
		}
		id := src.ID()
		t.notifyCompactedAway(id)
		t.store.Reclaim(id)
		reclaimed++
	}
	return reclaimed
}

// drain moves every live row out of src into the fullest blocks of the
// same subset. Reports whether src ended up empty.
func (t *Table) drain(src *base.Block, pending bool) bool {
	for _, s := range src.LiveSlots() {
		dst, ok := t.store.CompactionTarget(pending, src.ID())
		if !ok {
			return false
		}
		t.moveRow(src, uint16(s), dst)
	}
	return src.Empty()
}

// moveRow relocates one live row. The movement notification fires while
// both copies are resident so streamers can hand off their bookkeeping.
func (t *Table) moveRow(src *base.Block, slot uint16, dst *base.Block) {
	dslot, ok := dst.Alloc()
	if !ok {
		return
	}
	copy(dst.Tuple(dslot).Payload(), src.Tuple(slot).Payload())
	t.store.OccupancyChanged(dst)
	t.notifyMovement(
		base.Address{Block: src.ID(), Slot: slot},
		base.Address{Block: dst.ID(), Slot: dslot},
	)
	src.Free(slot)
	t.store.OccupancyChanged(src)
	t.moves.Add(1)
}

// Undo-driven reversals. These mirror the forward paths, including
// notification order, but never register further undo actions.

func (t *Table) insertForUndo(vals []int64) {
	if t.closed {
		return
	}
	addr, err := t.place(vals)
	if err != nil {
		t.log.Error("undo reinsert failed", "table", t.name, "err", err)
		return
	}
	t.notifyInsert(addr)
}

func (t *Table) deleteForUndo(addr base.Address) {
	if t.closed {
		return
	}
	_, blk, err := t.liveTuple(addr)
	if err != nil {
		t.log.Error("undo delete failed", "table", t.name, "addr", addr, "err", err)
		return
	}
	t.notifyDelete(addr)
	blk.Free(addr.Slot)
	t.store.OccupancyChanged(blk)
	t.active--
	t.maybeReclaim(blk)
}

func (t *Table) updateForUndo(addr base.Address, vals []int64) {
	if t.closed {
		return
	}
	tp, _, err := t.liveTuple(addr)
	if err != nil {
		t.log.Error("undo update failed", "table", t.name, "addr", addr, "err", err)
		return
	}
	next := make([]byte, t.schema.Width())
	if err := t.schema.Encode(next, vals); err != nil {
		t.log.Error("undo update failed", "table", t.name, "addr", addr, "err", err)
		return
	}
	t.notifyUpdate(addr, next)
	copy(tp.Payload(), next)
}

// Notification fan-out. Every active streamer hears every mutation; one
// streamer's response never affects delivery to the others.

func (t *Table) notifyInsert(addr base.Address) {
	for _, s := range t.streamers {
		s.NotifyTupleInsert(addr)
	}
}

func (t *Table) notifyUpdate(addr base.Address, next []byte) {
	for _, s := range t.streamers {
		s.NotifyTupleUpdate(addr, next)
	}
}

func (t *Table) notifyDelete(addr base.Address) {
	for _, s := range t.streamers {
		s.NotifyTupleDelete(addr)
	}
}

func (t *Table) notifyMovement(src, dst base.Address) {
	for _, s := range t.streamers {
		s.NotifyTupleMovement(src, dst)
	}
}

func (t *Table) notifyCompactedAway(id base.BlockID) {
	for _, s := range t.streamers {
		s.NotifyBlockWasCompactedAway(id)
	}
}

// Stats snapshots the table's counters.
func (t *Table) Stats() Stats {
	ss := t.store.Stats()
	return Stats{
		ActiveRows:       t.active,
		Blocks:           t.store.BlockCount(),
		PendingBlocks:    t.store.PendingCount(),
		ActiveStreams:    len(t.streamers),
		Inserts:          t.inserts.Load(),
		Updates:          t.updates.Load(),
		Deletes:          t.deletes.Load(),
		Moves:            t.moves.Load(),
		StreamsActivated: t.activations.Load(),
		BlocksAllocated:  ss.Allocated,
		BlocksReclaimed:  ss.Reclaimed,
		BytesMapped:      ss.BytesMapped,
	}
}

// Close deactivates any streams and releases every block arena. Close is
// idempotent; all other calls fail afterwards.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	for _, s := range t.streamers {
		s.Deactivate()
	}
	t.streamers = nil
	t.closed = true
	err := t.store.Close()
	t.log.Info("table closed", "table", t.name)
	return err
}

// tableView is the privileged interface stream contexts operate through.
// Keeping it off Table's method set keeps internal types out of the
// public API.
type tableView struct {
	t *Table
}

var _ stream.Table = tableView{}

func (v tableView) Schema() *base.Schema { return v.t.schema }

func (v tableView) Block(id base.BlockID) (*base.Block, bool) {
	return v.t.store.Block(id)
}

func (v tableView) FirstBlock() (*base.Block, bool) {
	return v.t.store.FirstBlock()
}

func (v tableView) NextBlock(after base.BlockID) (*base.Block, bool) {
	return v.t.store.NextBlock(after)
}

func (v tableView) Pending(id base.BlockID) bool {
	return v.t.store.Pending(id)
}

// FinishSnapshotBlock returns a consumed block to the not-pending subset
// and reclaims it if the scan outlived its last row.
func (v tableView) FinishSnapshotBlock(id base.BlockID) {
	v.t.store.FinishSnapshotBlock(id)
	if blk, ok := v.t.store.Block(id); ok && blk.Empty() {
		v.t.notifyCompactedAway(id)
		v.t.store.Reclaim(id)
	}
}

func (v tableView) AbortSnapshot() {
	v.t.store.AbortSnapshot()
}

// DeleteStreamedRow removes a row emitted under a triggers-delete
// predicate. Full notification path, no undo registration.
func (v tableView) DeleteStreamedRow(addr base.Address) error {
	t := v.t
	_, blk, err := t.liveTuple(addr)
	if err != nil {
		return err
	}
	t.notifyDelete(addr)
	blk.Free(addr.Slot)
	t.store.OccupancyChanged(blk)
	t.active--
	t.deletes.Add(1)
	t.maybeReclaim(blk)
	return nil
}

func (v tableView) ActiveCount() int64 { return v.t.active }
