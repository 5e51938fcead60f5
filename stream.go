package rowstore

import (
	"github.com/alexhholmes/rowstore/internal/stream"
)

// ActivateStream starts a stream of the given type. At most one stream
// per type may be active; a second activation of the same type fails
// with ErrStreamTypeActive and changes nothing. config is the JSON
// predicate configuration, empty for a plain snapshot.
//
// partitionID identifies the producing partition and is stamped into
// every output buffer header the stream writes.
func (t *Table) ActivateStream(typ StreamType, partitionID int32, config []byte) error {
	if t.closed {
		return ErrClosed
	}
	for _, s := range t.streamers {
		if s.Type() == typ {
			return ErrStreamTypeActive
		}
	}
	cfg, err := t.pcache.Parse(config)
	if err != nil {
		return err
	}
	switch typ {
	case StreamSnapshot:
		blocks := t.store.ActivateSnapshot()
		ctx := stream.NewSnapshotContext(tableView{t}, t.log, cfg, partitionID, blocks)
		t.streamers = append(t.streamers, ctx)
	case StreamElasticIndex:
		ctx, err := stream.NewElasticContext(tableView{t}, t.log, cfg, partitionID)
		if err != nil {
			return err
		}
		t.streamers = append(t.streamers, ctx)
	default:
		return ErrStreamTypeUnknown
	}
	t.activations.Add(1)
	t.log.Info("stream activated",
		"table", t.name,
		"type", typ.String(),
		"partition", partitionID,
		"rows", t.active,
	)
	return nil
}

// StreamMore drives the oldest stream that still has scan work, writing
// into out. It returns the stream's estimate of rows left (0 exactly
// when its scan completed) and the bytes written per buffer. With no
// stream registered, or when the driven stream rejects the buffers, it
// returns -1 and nil positions. A completed snapshot detaches itself;
// a completed elastic build stays registered, tracking mutations, until
// deactivated.
func (t *Table) StreamMore(out *OutputStreams) (remaining int64, positions []int) {
	if t.closed || len(t.streamers) == 0 {
		return -1, nil
	}
	var target stream.Streamer
	for _, s := range t.streamers {
		if !s.DoneStreaming() {
			target = s
			break
		}
	}
	if target == nil {
		return 0, out.Positions()
	}
	remaining, positions = target.StreamMore(out)
	if remaining == 0 && target.Type() == StreamSnapshot {
		// The scan consumed every block; pending membership is already
		// restored, so the context just detaches.
		t.removeStreamer(target)
		t.log.Info("snapshot stream complete", "table", t.name)
	}
	return remaining, positions
}

// DeactivateStream tears down the stream of the given type, restoring
// any block-set membership it held. Fails with ErrNoActiveStream if no
// such stream is active.
func (t *Table) DeactivateStream(typ StreamType) error {
	if t.closed {
		return ErrClosed
	}
	for _, s := range t.streamers {
		if s.Type() == typ {
			s.Deactivate()
			t.removeStreamer(s)
			t.log.Info("stream deactivated", "table", t.name, "type", typ.String())
			return nil
		}
	}
	return ErrNoActiveStream
}

func (t *Table) removeStreamer(target stream.Streamer) {
	for i, s := range t.streamers {
		if s == target {
			t.streamers = append(t.streamers[:i], t.streamers[i+1:]...)
			return
		}
	}
}

// ElasticIndexSize returns the entry count of the active elastic index,
// or 0 when no elastic stream is active.
func (t *Table) ElasticIndexSize() int {
	if ctx := t.elasticContext(); ctx != nil {
		return ctx.IndexSize()
	}
	return 0
}

// ElasticIndexHas reports whether the live row at addr is a member of
// the active elastic index.
func (t *Table) ElasticIndexHas(addr Address) bool {
	if ctx := t.elasticContext(); ctx != nil {
		return ctx.IndexHas(addr)
	}
	return false
}

func (t *Table) elasticContext() *stream.ElasticContext {
	for _, s := range t.streamers {
		if ctx, ok := s.(*stream.ElasticContext); ok {
			return ctx
		}
	}
	return nil
}
