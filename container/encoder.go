package container

import (
	"bytes"
	"io"

	"github.com/datavision/des/cmn/debug"
)

// Encoder streams the DATA region directly to w as bytes arrive (so a
// container larger than RAM never needs to be buffered) and defers the
// META/INDEX/FOOTER regions until Close, per §4.A.
type Encoder struct {
	w        io.Writer
	written  uint64 // absolute offset of the next data byte
	entries  []IndexEntry
	metaBuf  bytes.Buffer
	closed   bool
}

// NewEncoder writes the fixed header immediately and returns an
// Encoder ready to accept data.
func NewEncoder(w io.Writer) (*Encoder, error) {
	if _, err := w.Write(EncodeHeader()); err != nil {
		return nil, err
	}
	return &Encoder{w: w, written: DataStart}, nil
}

// WriteData appends raw bytes to the data region and returns the
// absolute offset they were written at.
func (e *Encoder) WriteData(data []byte) (offset uint64, err error) {
	debug.Assert(!e.closed, "write after close")
	offset = e.written
	n, err := e.w.Write(data)
	e.written += uint64(n)
	return offset, err
}

// AppendMeta buffers a metadata blob and returns its offset relative
// to the (not-yet-known) start of the meta region, plus its length.
// Close() rewrites these to absolute offsets.
func (e *Encoder) AppendMeta(meta []byte) (relOffset, length uint64) {
	debug.Assert(!e.closed, "append-meta after close")
	relOffset = uint64(e.metaBuf.Len())
	e.metaBuf.Write(meta)
	return relOffset, uint64(len(meta))
}

// AddEntry records a fully-populated index entry (meta offset still
// relative; Close fixes it up).
func (e *Encoder) AddEntry(entry IndexEntry) {
	e.entries = append(e.entries, entry)
}

// Count returns the number of entries added so far.
func (e *Encoder) Count() int { return len(e.entries) }

// Close flushes META, INDEX, and FOOTER regions in order and returns
// the footer that was written. Idempotent per §4.C.
func (e *Encoder) Close() (Footer, error) {
	if e.closed {
		return Footer{}, nil
	}
	e.closed = true

	dataLength := e.written - DataStart
	metaStart := e.written

	metaBytes := e.metaBuf.Bytes()
	if _, err := e.w.Write(metaBytes); err != nil {
		return Footer{}, err
	}
	metaLength := uint64(len(metaBytes))

	for i := range e.entries {
		e.entries[i].MetaOffset += metaStart
	}

	indexStart := metaStart + metaLength
	var indexLength uint64
	for _, entry := range e.entries {
		buf := EncodeEntry(entry)
		if _, err := e.w.Write(buf); err != nil {
			return Footer{}, err
		}
		indexLength += uint64(len(buf))
	}

	footer := Footer{
		Version:     Version,
		DataStart:   DataStart,
		DataLength:  dataLength,
		MetaStart:   metaStart,
		MetaLength:  metaLength,
		IndexStart:  indexStart,
		IndexLength: indexLength,
		FileCount:   uint64(len(e.entries)),
	}
	if _, err := e.w.Write(EncodeFooter(footer)); err != nil {
		return Footer{}, err
	}
	return footer, nil
}

// Closed reports whether Close has already run.
func (e *Encoder) Closed() bool { return e.closed }
