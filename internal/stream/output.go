package stream

import (
	"encoding/binary"
)

// headerSize is the per-buffer framing written ahead of the first row:
// 4-byte partition id plus 4-byte row count.
const headerSize = 8

// OutputStream wraps one caller-provided fixed-capacity buffer. The
// header is written lazily when the first row lands, stamped with the
// producing partition's id, so an untouched stream reports position zero;
// the row count is backpatched when the call closes the stream.
type OutputStream struct {
	buf     []byte
	pos     int
	rows    uint32
	countAt int
	opened  bool
}

// NewOutputStream wraps buf for writing.
func NewOutputStream(buf []byte) *OutputStream {
	return &OutputStream{buf: buf}
}

// Position returns bytes written so far, zero if nothing landed.
func (o *OutputStream) Position() int { return o.pos }

// Bytes returns the written portion of the buffer.
func (o *OutputStream) Bytes() []byte { return o.buf[:o.pos] }

// RowCount returns rows written so far.
func (o *OutputStream) RowCount() int { return int(o.rows) }

// fits reports whether a framed row of rowLen more bytes can land,
// counting the header if it has not been written yet.
func (o *OutputStream) fits(rowLen int) bool {
	need := rowLen
	if !o.opened {
		need += headerSize
	}
	return o.pos+need <= len(o.buf)
}

// write frames the row into the buffer, opening the header with the
// producer's partition id on first use. The caller must have checked fits.
func (o *OutputStream) write(ser Serializer, partitionID int32, payload []byte) {
	if !o.opened {
		binary.BigEndian.PutUint32(o.buf[o.pos:], uint32(partitionID))
		// Count is backpatched on close.
		o.countAt = o.pos + 4
		binary.BigEndian.PutUint32(o.buf[o.countAt:], 0)
		o.pos += headerSize
		o.opened = true
	}
	o.pos += ser.Serialize(o.buf[o.pos:], payload)
	o.rows++
}

// close backpatches the row count. Safe to call on an untouched stream.
func (o *OutputStream) close() {
	if o.opened {
		binary.BigEndian.PutUint32(o.buf[o.countAt:], o.rows)
	}
}

// OutputStreams is the fan-out target set for one StreamMore call: one
// stream per active predicate (or a single stream when no predicates are
// configured). Construct a fresh one per call.
type OutputStreams struct {
	streams []*OutputStream
}

// NewOutputStreams bundles the given streams.
func NewOutputStreams(streams ...*OutputStream) *OutputStreams {
	return &OutputStreams{streams: streams}
}

// Len returns the stream count.
func (s *OutputStreams) Len() int {
	if s == nil {
		return 0
	}
	return len(s.streams)
}

// At returns stream i.
func (s *OutputStreams) At(i int) *OutputStream { return s.streams[i] }

// Positions returns bytes written per stream.
func (s *OutputStreams) Positions() []int {
	if s == nil {
		return nil
	}
	out := make([]int, len(s.streams))
	for i, st := range s.streams {
		out[i] = st.pos
	}
	return out
}

// BytesWritten sums bytes written across all streams.
func (s *OutputStreams) BytesWritten() int {
	total := 0
	if s == nil {
		return 0
	}
	for _, st := range s.streams {
		total += st.pos
	}
	return total
}

// closeAll backpatches every stream's row count.
func (s *OutputStreams) closeAll() {
	if s == nil {
		return
	}
	for _, st := range s.streams {
		st.close()
	}
}
