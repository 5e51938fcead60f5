package storage

import (
	"sync/atomic"

	"github.com/google/btree"

	"github.com/alexhholmes/rowstore/internal/base"
)

// Stats counts block lifecycle events since the store was created.
type Stats struct {
	Allocated   uint64
	Reclaimed   uint64
	BytesMapped uint64
}

const (
	sideNotPending = 0
	sidePending    = 1
)

// Store is the block arena of one table. It owns block memory, assigns
// never-reused block handles, and partitions live blocks into the
// snapshot-pending and not-pending subsets, each binned into free-space
// buckets for compaction pair selection.
//
// Invariant: every live block is in exactly one subset at all times;
// activation moves the whole not-pending subset into pending, completion
// and abort move blocks back one at a time or wholesale.
type Store struct {
	schema     *base.Schema
	blockBytes int
	log        base.Logger

	nextID base.BlockID
	blocks *btree.BTreeG[*base.Block]

	// Lowest-handle-first pool of blocks that can take an insert,
	// spanning both subsets: inserts may land in pending blocks
	// mid-snapshot.
	withSpace *btree.BTreeG[base.BlockID]

	subsetIDs [2]map[base.BlockID]struct{}
	buckets   [2][base.BucketCount]map[base.BlockID]struct{}
	bucketOf  map[base.BlockID]int
	isPending map[base.BlockID]bool

	allocated   atomic.Uint64
	reclaimed   atomic.Uint64
	bytesMapped atomic.Uint64
}

// New creates an empty store. blockBytes is the arena size per block; the
// per-block row capacity follows from the schema's row width.
func New(schema *base.Schema, blockBytes int, log base.Logger) *Store {
	if log == nil {
		log = base.DiscardLogger{}
	}
	s := &Store{
		schema:     schema,
		blockBytes: blockBytes,
		log:        log,
		blocks: btree.NewG[*base.Block](8, func(a, b *base.Block) bool {
			return a.ID() < b.ID()
		}),
		withSpace: btree.NewG[base.BlockID](8, func(a, b base.BlockID) bool {
			return a < b
		}),
		bucketOf:  make(map[base.BlockID]int),
		isPending: make(map[base.BlockID]bool),
	}
	for side := 0; side < 2; side++ {
		s.subsetIDs[side] = make(map[base.BlockID]struct{})
		for i := range s.buckets[side] {
			s.buckets[side][i] = make(map[base.BlockID]struct{})
		}
	}
	return s
}

func side(pending bool) int {
	if pending {
		return sidePending
	}
	return sideNotPending
}

func (s *Store) enroll(b *base.Block, pending bool) {
	sd := side(pending)
	bkt := b.Bucket()
	s.subsetIDs[sd][b.ID()] = struct{}{}
	s.buckets[sd][bkt][b.ID()] = struct{}{}
	s.bucketOf[b.ID()] = bkt
	s.isPending[b.ID()] = pending
}

func (s *Store) unenroll(b *base.Block) {
	sd := side(s.isPending[b.ID()])
	delete(s.subsetIDs[sd], b.ID())
	delete(s.buckets[sd][s.bucketOf[b.ID()]], b.ID())
	delete(s.bucketOf, b.ID())
	delete(s.isPending, b.ID())
}

// AllocBlock maps a fresh arena and registers the block in the
// not-pending subset. New blocks are never part of an in-flight snapshot.
func (s *Store) AllocBlock() (*base.Block, error) {
	mem, err := arenaAlloc(s.blockBytes)
	if err != nil {
		s.log.Error("block arena allocation failed", "bytes", s.blockBytes, "err", err)
		return nil, base.ErrAllocation
	}
	id := s.nextID
	s.nextID++
	b := base.NewBlock(id, s.schema, mem)
	s.blocks.ReplaceOrInsert(b)
	s.enroll(b, false)
	s.withSpace.ReplaceOrInsert(id)
	s.allocated.Add(1)
	s.bytesMapped.Add(uint64(s.blockBytes))
	return b, nil
}

// Reclaim unregisters the block and returns its memory to the OS. The
// caller must have emptied it and notified streamers first.
func (s *Store) Reclaim(id base.BlockID) {
	b, ok := s.Block(id)
	if !ok {
		return
	}
	s.unenroll(b)
	s.withSpace.Delete(id)
	s.blocks.Delete(b)
	if err := arenaFree(b.Memory()); err != nil {
		s.log.Error("block arena release failed", "block", id, "err", err)
	}
	s.reclaimed.Add(1)
	s.bytesMapped.Add(^(uint64(s.blockBytes) - 1))
}

// Block looks up a live block by handle.
func (s *Store) Block(id base.BlockID) (*base.Block, bool) {
	return s.blocks.Get(base.ProbeBlock(id))
}

// BlockWithSpace returns the lowest-handle block that can take an insert.
func (s *Store) BlockWithSpace() (*base.Block, bool) {
	var found *base.Block
	s.withSpace.Ascend(func(id base.BlockID) bool {
		if b, ok := s.Block(id); ok && b.HasSpace() {
			found = b
			return false
		}
		return true
	})
	return found, found != nil
}

// OccupancyChanged rebuckets the block and maintains the insert pool.
// Call after every insert, free, or move touching the block.
func (s *Store) OccupancyChanged(b *base.Block) {
	id := b.ID()
	sd := side(s.isPending[id])
	if bkt := b.Bucket(); bkt != s.bucketOf[id] {
		delete(s.buckets[sd][s.bucketOf[id]], id)
		s.buckets[sd][bkt][id] = struct{}{}
		s.bucketOf[id] = bkt
	}
	if b.HasSpace() {
		s.withSpace.ReplaceOrInsert(id)
	} else {
		s.withSpace.Delete(id)
	}
}

// ActivateSnapshot flips every not-pending block into the pending subset
// and returns the captured universe in ascending handle order.
func (s *Store) ActivateSnapshot() []base.BlockID {
	ids := make([]base.BlockID, 0, len(s.subsetIDs[sideNotPending]))
	s.blocks.Ascend(func(b *base.Block) bool {
		if !s.isPending[b.ID()] {
			ids = append(ids, b.ID())
		}
		return true
	})
	for _, id := range ids {
		b, _ := s.Block(id)
		s.unenroll(b)
		s.enroll(b, true)
	}
	return ids
}

// FinishSnapshotBlock flips one consumed block back to not-pending.
func (s *Store) FinishSnapshotBlock(id base.BlockID) {
	b, ok := s.Block(id)
	if !ok || !s.isPending[id] {
		return
	}
	s.unenroll(b)
	s.enroll(b, false)
}

// AbortSnapshot merges the whole pending subset back.
func (s *Store) AbortSnapshot() {
	ids := make([]base.BlockID, 0, len(s.subsetIDs[sidePending]))
	for id := range s.subsetIDs[sidePending] {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.FinishSnapshotBlock(id)
	}
}

// Pending reports whether the block is in the snapshot-pending subset.
func (s *Store) Pending(id base.BlockID) bool { return s.isPending[id] }

func (s *Store) PendingCount() int    { return len(s.subsetIDs[sidePending]) }
func (s *Store) NotPendingCount() int { return len(s.subsetIDs[sideNotPending]) }
func (s *Store) BlockCount() int      { return s.blocks.Len() }

// AscendBlocks walks live blocks in ascending handle order.
func (s *Store) AscendBlocks(fn func(*base.Block) bool) {
	s.blocks.Ascend(fn)
}

// NextBlock returns the first live block with a handle greater than after.
func (s *Store) NextBlock(after base.BlockID) (*base.Block, bool) {
	var found *base.Block
	s.blocks.AscendGreaterOrEqual(base.ProbeBlock(after), func(b *base.Block) bool {
		if b.ID() > after {
			found = b
			return false
		}
		return true
	})
	return found, found != nil
}

// FirstBlock returns the lowest-handle live block.
func (s *Store) FirstBlock() (*base.Block, bool) {
	return s.blocks.Min()
}

// CompactionSource picks the emptiest block of the subset: lowest
// occupancy bucket first, lowest handle within it. Empty blocks surface
// first so stragglers get reclaimed.
func (s *Store) CompactionSource(pending bool) (*base.Block, bool) {
	sd := side(pending)
	for i := 0; i < base.BucketCount; i++ {
		if b, ok := s.lowestIn(s.buckets[sd][i]); ok {
			return b, true
		}
	}
	return nil, false
}

// CompactionTarget picks the fullest block of the subset that still has
// space, excluding the current source.
func (s *Store) CompactionTarget(pending bool, exclude base.BlockID) (*base.Block, bool) {
	sd := side(pending)
	for i := base.BucketCount - 1; i >= 0; i-- {
		var best *base.Block
		for id := range s.buckets[sd][i] {
			if id == exclude {
				continue
			}
			b, ok := s.Block(id)
			if !ok || !b.HasSpace() {
				continue
			}
			if best == nil || b.Occupied() > best.Occupied() ||
				(b.Occupied() == best.Occupied() && b.ID() < best.ID()) {
				best = b
			}
		}
		if best != nil {
			return best, true
		}
	}
	return nil, false
}

// SubsetFree sums free slots across the subset, excluding one block.
// Used to decide whether draining a source block can succeed.
func (s *Store) SubsetFree(pending bool, exclude base.BlockID) int {
	total := 0
	for id := range s.subsetIDs[side(pending)] {
		if id == exclude {
			continue
		}
		if b, ok := s.Block(id); ok {
			total += b.FreeCount()
		}
	}
	return total
}

// SubsetSize returns the number of blocks in the subset.
func (s *Store) SubsetSize(pending bool) int {
	return len(s.subsetIDs[side(pending)])
}

func (s *Store) lowestIn(bucket map[base.BlockID]struct{}) (*base.Block, bool) {
	var best *base.Block
	for id := range bucket {
		b, ok := s.Block(id)
		if !ok {
			continue
		}
		if best == nil || b.ID() < best.ID() {
			best = b
		}
	}
	return best, best != nil
}

// Stats snapshots the lifecycle counters.
func (s *Store) Stats() Stats {
	return Stats{
		Allocated:   s.allocated.Load(),
		Reclaimed:   s.reclaimed.Load(),
		BytesMapped: s.bytesMapped.Load(),
	}
}

// Close releases every arena. The store is unusable afterwards.
func (s *Store) Close() error {
	var firstErr error
	s.blocks.Ascend(func(b *base.Block) bool {
		if err := arenaFree(b.Memory()); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	s.blocks.Clear(false)
	s.withSpace.Clear(false)
	for sd := 0; sd < 2; sd++ {
		s.subsetIDs[sd] = make(map[base.BlockID]struct{})
		for i := range s.buckets[sd] {
			s.buckets[sd][i] = make(map[base.BlockID]struct{})
		}
	}
	s.bucketOf = map[base.BlockID]int{}
	s.isPending = map[base.BlockID]bool{}
	return firstErr
}
