package rowstore

// Stats is a point-in-time view of table activity. Mutation counters
// track forward operations only; undo-driven reversals adjust ActiveRows
// without incrementing them.
type Stats struct {
	ActiveRows    int64
	Blocks        int
	PendingBlocks int
	ActiveStreams int

	Inserts uint64
	Updates uint64
	Deletes uint64
	Moves   uint64

	StreamsActivated uint64
	BlocksAllocated  uint64
	BlocksReclaimed  uint64
	BytesMapped      uint64
}
