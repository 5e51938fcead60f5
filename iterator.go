package rowstore

import (
	"github.com/alexhholmes/rowstore/internal/base"
)

// Iterator walks the live table in block order, slot order within a
// block. It reads through to current storage: rows mutated after the
// iterator was created are seen at their latest value, and the iterator
// tolerates its current block being reclaimed between Next calls.
type Iterator struct {
	t       *Table
	blockID base.BlockID
	slot    int
	addr    base.Address
	started bool
	done    bool
}

// Iterator returns an iterator positioned before the first live row.
func (t *Table) Iterator() *Iterator {
	return &Iterator{t: t}
}

// Next advances to the next live row, reporting false at the end.
func (it *Iterator) Next() bool {
	if it.done || it.t.closed {
		return false
	}
	for {
		blk, ok := it.currentBlock()
		if !ok {
			it.done = true
			return false
		}
		for it.slot < blk.HighWater() {
			slot := uint16(it.slot)
			it.slot++
			if blk.Tuple(slot).Active() {
				it.addr = base.Address{Block: it.blockID, Slot: slot}
				return true
			}
		}
		next, ok := it.t.store.NextBlock(it.blockID)
		if !ok {
			it.done = true
			return false
		}
		it.blockID = next.ID()
		it.slot = 0
	}
}

func (it *Iterator) currentBlock() (*base.Block, bool) {
	if !it.started {
		it.started = true
		blk, ok := it.t.store.FirstBlock()
		if !ok {
			return nil, false
		}
		it.blockID = blk.ID()
		it.slot = 0
		return blk, true
	}
	if blk, ok := it.t.store.Block(it.blockID); ok {
		return blk, true
	}
	// Current block reclaimed mid-iteration; resume at the next one.
	blk, ok := it.t.store.NextBlock(it.blockID)
	if !ok {
		return nil, false
	}
	it.blockID = blk.ID()
	it.slot = 0
	return blk, true
}

// Address returns the current row's address.
func (it *Iterator) Address() Address { return it.addr }

// Values decodes the current row.
func (it *Iterator) Values() []int64 {
	tp, _, err := it.t.liveTuple(it.addr)
	if err != nil {
		return nil
	}
	return tp.Values()
}

// Value decodes one column of the current row.
func (it *Iterator) Value(col int) int64 {
	tp, _, err := it.t.liveTuple(it.addr)
	if err != nil {
		return 0
	}
	return tp.Int(col)
}
