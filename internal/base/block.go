package base

import (
	"github.com/RoaringBitmap/roaring"
)

const (
	// DefaultBlockBytes is the allocation target for a block's row memory.
	DefaultBlockBytes = 2 * 1024 * 1024

	// MaxSlots bounds a block's capacity so a slot index fits in 16 bits.
	MaxSlots = 1<<16 - 1

	// BucketCount is the number of free-space classes blocks are binned
	// into for compaction source/target selection.
	BucketCount = 16
)

// Block owns the row memory for up to capacity fixed-width rows. Slot
// allocation reuses freed slots before extending the high-water mark, so
// the scan range [0, HighWater) covers every slot that may hold a row.
//
// The live bitmap mirrors the per-row active flag; it exists so that
// iteration and compaction can enumerate occupied slots without touching
// row memory, and is kept in sync by Alloc/Free.
type Block struct {
	id        BlockID
	schema    *Schema
	mem       []byte
	capacity  int
	occupied  int
	highWater int
	freeStack []uint16
	live      *roaring.Bitmap
}

// ProbeBlock builds a key-only block for ordered-map lookups. It holds no
// storage and must never receive rows.
func ProbeBlock(id BlockID) *Block {
	return &Block{id: id}
}

// NewBlock wraps mem as row storage. The caller owns mem's allocation and
// release; capacity is derived from the schema's row width.
func NewBlock(id BlockID, schema *Schema, mem []byte) *Block {
	capacity := len(mem) / schema.RowWidth()
	if capacity > MaxSlots {
		capacity = MaxSlots
	}
	return &Block{
		id:       id,
		schema:   schema,
		mem:      mem,
		capacity: capacity,
		live:     roaring.New(),
	}
}

func (b *Block) ID() BlockID { return b.id }
func (b *Block) Capacity() int { return b.capacity }
func (b *Block) Occupied() int { return b.occupied }
func (b *Block) FreeCount() int { return b.capacity - b.occupied }
func (b *Block) HighWater() int { return b.highWater }
func (b *Block) HasSpace() bool { return b.occupied < b.capacity }
func (b *Block) Empty() bool { return b.occupied == 0 }
func (b *Block) Memory() []byte { return b.mem }
func (b *Block) Schema() *Schema { return b.schema }

// Bucket returns the free-space class the block currently belongs to.
// Emptier blocks land in lower buckets.
func (b *Block) Bucket() int {
	if b.capacity == 0 {
		return 0
	}
	return b.occupied * (BucketCount - 1) / b.capacity
}

// Alloc claims a slot, preferring freed slots over fresh ones. The slot's
// header is reset to active and clean; the payload is left as-is for the
// caller to encode. Returns false when the block is full.
func (b *Block) Alloc() (uint16, bool) {
	var slot uint16
	switch {
	case len(b.freeStack) > 0:
		slot = b.freeStack[len(b.freeStack)-1]
		b.freeStack = b.freeStack[:len(b.freeStack)-1]
	case b.highWater < b.capacity:
		slot = uint16(b.highWater)
		b.highWater++
	default:
		return 0, false
	}
	b.occupied++
	b.live.Add(uint32(slot))
	t := b.Tuple(slot)
	t.raw[0] = flagActive
	return slot, true
}

// Free releases a slot back to the block. The header is cleared so the
// slot reads as inactive until reused.
func (b *Block) Free(slot uint16) {
	t := b.Tuple(slot)
	t.raw[0] = 0
	b.occupied--
	b.live.Remove(uint32(slot))
	b.freeStack = append(b.freeStack, slot)
}

// Tuple returns the row view at slot. The slot need not be live.
func (b *Block) Tuple(slot uint16) Tuple {
	w := b.schema.RowWidth()
	off := int(slot) * w
	return Tuple{raw: b.mem[off : off+w], schema: b.schema}
}

// LiveSlots materializes the occupied slots in ascending order. The copy
// is safe to mutate against while freeing or moving rows.
func (b *Block) LiveSlots() []uint32 {
	return b.live.ToArray()
}

// IterateLive calls fn for each occupied slot in ascending order until fn
// returns false. The block must not be mutated during iteration.
func (b *Block) IterateLive(fn func(slot uint16, t Tuple) bool) {
	it := b.live.Iterator()
	for it.HasNext() {
		slot := uint16(it.Next())
		if !fn(slot, b.Tuple(slot)) {
			return
		}
	}
}
