// Package stream implements the mutation-notification protocol and the
// streamers built on it: the copy-on-write snapshot scan and the elastic
// hash-range index. Contexts are single-threaded by contract; the owning
// table serializes every mutation and streaming call.
package stream

import (
	"github.com/alexhholmes/rowstore/internal/base"
)

// StreamType selects which streamer an activation creates. At most one
// streamer of each type may be active on a table.
type StreamType int

const (
	StreamSnapshot StreamType = iota
	StreamElasticIndex
)

func (t StreamType) String() string {
	switch t {
	case StreamSnapshot:
		return "snapshot"
	case StreamElasticIndex:
		return "elastic-index"
	default:
		return "unknown"
	}
}

// Table is the privileged view of the owning table that stream contexts
// operate through. Implemented by the public Table type.
type Table interface {
	Schema() *base.Schema

	// Block lookup and ordered traversal over live blocks.
	Block(id base.BlockID) (*base.Block, bool)
	FirstBlock() (*base.Block, bool)
	NextBlock(after base.BlockID) (*base.Block, bool)

	// Snapshot block-set bookkeeping.
	Pending(id base.BlockID) bool
	FinishSnapshotBlock(id base.BlockID)
	AbortSnapshot()

	// DeleteStreamedRow removes a row that was just emitted under a
	// triggers-delete predicate. Runs the full notification path.
	DeleteStreamedRow(addr base.Address) error

	ActiveCount() int64
}

// Streamer is one active stream context. The five notifications mirror
// the table's mutations; each returns whether the streamer consumed the
// event. Notifications arrive before the mutation commits: update and
// delete still see the pre-mutation row bytes at addr, movement sees both
// source and target resident, insert sees the placed row.
type Streamer interface {
	Type() StreamType

	NotifyTupleInsert(addr base.Address) bool
	// next holds the incoming row image; live bytes at addr are still
	// the pre-update value.
	NotifyTupleUpdate(addr base.Address, next []byte) bool
	NotifyTupleDelete(addr base.Address) bool
	NotifyBlockWasCompactedAway(id base.BlockID) bool
	NotifyTupleMovement(src, dst base.Address) bool

	// StreamMore advances the stream into out, bounded. remaining is an
	// estimate of rows left, 0 exactly when the stream's scan work is
	// complete, -1 on a caller error (buffer/predicate mismatch).
	// positions holds bytes written per output stream when remaining >= 0.
	StreamMore(out *OutputStreams) (remaining int64, positions []int)

	// DoneStreaming reports that StreamMore has no more work. A done
	// streamer may still consume notifications (elastic tracking mode).
	DoneStreaming() bool

	// Deactivate tears the context down, restoring table bookkeeping.
	Deactivate()
}
