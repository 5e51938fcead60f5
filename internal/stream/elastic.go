package stream

import (
	"fmt"

	"github.com/google/btree"

	"github.com/alexhholmes/rowstore/internal/base"
)

// ElasticScanner is a resumable walk over the table's live rows in
// ascending block order, slot order within a block. Unlike the snapshot
// scan it pins no block set: blocks that appear during the walk are
// visited when their id comes up, blocks that vanish are skipped. Rows
// relocated by compaction are handed to the context through the movement
// notification instead.
type ElasticScanner struct {
	table     Table
	completed map[base.BlockID]struct{}
	cur       base.BlockID
	curSet    bool
	started   bool
	slot      int
	done      bool
}

// NewElasticScanner starts a scan positioned before the first block.
func NewElasticScanner(table Table) *ElasticScanner {
	return &ElasticScanner{
		table:     table,
		completed: make(map[base.BlockID]struct{}),
	}
}

// next returns the next live row, or ok false when the walk is complete.
// payload aliases row storage and is only valid until the next mutation.
func (s *ElasticScanner) next() (base.Address, []byte, bool) {
	for !s.done {
		if !s.curSet {
			blk, ok := s.nextBlock()
			if !ok {
				s.done = true
				break
			}
			s.cur = blk.ID()
			s.curSet = true
			s.slot = 0
		}
		blk, ok := s.table.Block(s.cur)
		if !ok {
			// Reclaimed between calls without a notification reaching
			// us first; resume from the next higher id.
			s.curSet = false
			continue
		}
		for s.slot < blk.HighWater() {
			slot := uint16(s.slot)
			s.slot++
			t := blk.Tuple(slot)
			if !t.Active() {
				continue
			}
			return base.Address{Block: s.cur, Slot: slot}, t.Payload(), true
		}
		s.completed[s.cur] = struct{}{}
		s.curSet = false
	}
	return base.Address{}, nil, false
}

func (s *ElasticScanner) nextBlock() (*base.Block, bool) {
	if !s.started {
		s.started = true
		return s.table.FirstBlock()
	}
	return s.table.NextBlock(s.cur)
}

// reached reports whether the scan has already observed addr's position.
// After the walk completes every address counts as reached.
func (s *ElasticScanner) reached(addr base.Address) bool {
	if s.done {
		return true
	}
	if _, ok := s.completed[addr.Block]; ok {
		return true
	}
	return s.curSet && s.cur == addr.Block && int(addr.Slot) < s.slot
}

// dropBlock forgets a reclaimed block. If it was the current block the
// walk resumes from the next higher live id.
func (s *ElasticScanner) dropBlock(id base.BlockID) {
	delete(s.completed, id)
	if s.curSet && s.cur == id {
		s.curSet = false
	}
}

// IndexEntry is one elastic index member: the row's raw column hash plus
// its current address. Ordered by hash, then address.
type IndexEntry struct {
	Hash uint64
	Addr base.Address
}

func lessIndexEntry(a, b IndexEntry) bool {
	if a.Hash != b.Hash {
		return a.Hash < b.Hash
	}
	return a.Addr.Key() < b.Addr.Key()
}

// ElasticIndex is the hash-ordered membership index the elastic build
// produces. Entries are exact (hash, address) pairs; the address half
// keeps equal-hash rows distinct and is patched on every relocation.
type ElasticIndex struct {
	tree *btree.BTreeG[IndexEntry]
}

// NewElasticIndex returns an empty index.
func NewElasticIndex() *ElasticIndex {
	return &ElasticIndex{tree: btree.NewG(8, lessIndexEntry)}
}

// Add inserts the entry. Re-adding an identical entry is a no-op.
func (x *ElasticIndex) Add(hash uint64, addr base.Address) {
	x.tree.ReplaceOrInsert(IndexEntry{Hash: hash, Addr: addr})
}

// Remove deletes the entry, reporting whether it was present.
func (x *ElasticIndex) Remove(hash uint64, addr base.Address) bool {
	_, ok := x.tree.Delete(IndexEntry{Hash: hash, Addr: addr})
	return ok
}

// Has reports membership of the exact entry.
func (x *ElasticIndex) Has(hash uint64, addr base.Address) bool {
	return x.tree.Has(IndexEntry{Hash: hash, Addr: addr})
}

// Len returns the entry count.
func (x *ElasticIndex) Len() int { return x.tree.Len() }

// Ascend walks entries in (hash, address) order until fn returns false.
func (x *ElasticIndex) Ascend(fn func(IndexEntry) bool) {
	x.tree.Ascend(func(e IndexEntry) bool { return fn(e) })
}

// ElasticContext builds the elastic index online and then keeps it
// consistent with mutation until deactivated.
//
// While building, indexing decisions for rows the scanner has not
// reached belong to the scanner alone: an insert or update landing ahead
// of the cursor is left for the scan to evaluate at its current value
// when visited. This keeps the build from indexing a row on a value that
// a later in-scan mutation would invalidate. Once the scan completes the
// context switches to tracking and every notification is applied
// directly.
type ElasticContext struct {
	table       Table
	log         base.Logger
	schema      *base.Schema
	cfg         *Config
	hash        func(payload []byte) uint64
	partitionID int32

	scanner *ElasticScanner
	index   *ElasticIndex

	perCall  int
	served   int64
	building bool
}

var _ Streamer = (*ElasticContext)(nil)

// NewElasticContext validates the config and starts a build. At least
// one hash-range predicate is required; its column hash keys the index.
func NewElasticContext(table Table, log base.Logger, cfg *Config, partitionID int32) (*ElasticContext, error) {
	var hash func([]byte) uint64
	for _, p := range cfg.Predicates {
		if p.HashRange() {
			hash = p.hash
			break
		}
	}
	if hash == nil {
		return nil, fmt.Errorf("%w: elastic activation needs a hash-range predicate", base.ErrBadPredicateConfig)
	}
	return &ElasticContext{
		table:       table,
		log:         log,
		schema:      table.Schema(),
		cfg:         cfg,
		hash:        hash,
		partitionID: partitionID,
		scanner:     NewElasticScanner(table),
		index:       NewElasticIndex(),
		perCall:     cfg.TuplesPerCall,
		building:    true,
	}, nil
}

func (c *ElasticContext) Type() StreamType { return StreamElasticIndex }

// DoneStreaming reports whether the build scan has finished. A finished
// context keeps tracking mutations until deactivated.
func (c *ElasticContext) DoneStreaming() bool { return !c.building }

// IndexSize returns the current entry count.
func (c *ElasticContext) IndexSize() int { return c.index.Len() }

// IndexHas reports whether the live row at addr is an index member.
func (c *ElasticContext) IndexHas(addr base.Address) bool {
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	t := blk.Tuple(addr.Slot)
	if !t.Active() {
		return false
	}
	return c.index.Has(c.hash(t.Payload()), addr)
}

// match applies the non-deleting predicates; triggers-delete predicates
// mark rows leaving the partition and never grant membership.
func (c *ElasticContext) match(payload []byte) bool {
	for _, p := range c.cfg.Predicates {
		if !p.TriggersDelete && p.Match(payload) {
			return true
		}
	}
	return false
}

// NotifyTupleInsert indexes a new row the scanner has already passed.
// Rows ahead of the scan are left for the scan itself.
func (c *ElasticContext) NotifyTupleInsert(addr base.Address) bool {
	if !c.scanner.reached(addr) {
		return false
	}
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	payload := blk.Tuple(addr.Slot).Payload()
	if !c.match(payload) {
		return false
	}
	c.index.Add(c.hash(payload), addr)
	return true
}

// NotifyTupleUpdate re-evaluates a reached row against its incoming
// value: the old entry goes, the new value decides membership. Unreached
// rows are untouched; the scanner will judge their final value.
func (c *ElasticContext) NotifyTupleUpdate(addr base.Address, next []byte) bool {
	if !c.scanner.reached(addr) {
		return false
	}
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	removed := c.index.Remove(c.hash(blk.Tuple(addr.Slot).Payload()), addr)
	if c.match(next) {
		c.index.Add(c.hash(next), addr)
		return true
	}
	return removed
}

// NotifyTupleDelete drops the row's entry if present. The row bytes are
// still live, so the entry's hash is recomputable from storage.
func (c *ElasticContext) NotifyTupleDelete(addr base.Address) bool {
	blk, ok := c.table.Block(addr.Block)
	if !ok {
		return false
	}
	return c.index.Remove(c.hash(blk.Tuple(addr.Slot).Payload()), addr)
}

// NotifyTupleMovement patches the index across a compaction move. Any
// entry at the source is dropped; the destination is indexed only if the
// scan has already passed it, otherwise the scan will visit it. The row
// value is identical at both ends, so one hash serves both.
func (c *ElasticContext) NotifyTupleMovement(src, dst base.Address) bool {
	blk, ok := c.table.Block(dst.Block)
	if !ok {
		return false
	}
	payload := blk.Tuple(dst.Slot).Payload()
	h := c.hash(payload)
	removed := c.index.Remove(h, src)
	if c.scanner.reached(dst) && c.match(payload) {
		c.index.Add(h, dst)
		return true
	}
	return removed
}

// NotifyBlockWasCompactedAway forgets a reclaimed block. Its rows were
// individually moved or deleted first, so no index entry can still point
// into it.
func (c *ElasticContext) NotifyBlockWasCompactedAway(id base.BlockID) bool {
	c.scanner.dropBlock(id)
	return true
}

// StreamMore advances the build scan by up to the configured batch,
// indexing matching rows. No row data is written to out; buffers exist
// for interface symmetry and report zero positions. Returns 0 once the
// scan is complete.
func (c *ElasticContext) StreamMore(out *OutputStreams) (int64, []int) {
	if !c.building {
		return 0, out.Positions()
	}
	for i := 0; i < c.perCall; i++ {
		addr, payload, ok := c.scanner.next()
		if !ok {
			c.building = false
			c.log.Info("elastic index build complete",
				"partition", c.partitionID,
				"entries", c.index.Len(),
				"scanned", c.served,
			)
			break
		}
		c.served++
		if c.match(payload) {
			c.index.Add(c.hash(payload), addr)
		}
	}
	if !c.building {
		return 0, out.Positions()
	}
	remaining := c.table.ActiveCount() - c.served
	if remaining < 1 {
		remaining = 1
	}
	return remaining, out.Positions()
}

// Deactivate ends tracking. The scanner holds no table state to restore;
// the index is dropped with the context.
func (c *ElasticContext) Deactivate() {
	c.building = false
	c.scanner.done = true
}
