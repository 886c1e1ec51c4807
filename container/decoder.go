package container

import "context"

// RangeReader abstracts anything the decoder can read byte ranges
// from: a local *os.File or an S3 object. reader/ and objstore/
// provide concrete implementations.
type RangeReader interface {
	// Size returns the total object size.
	Size(ctx context.Context) (int64, error)
	// ReadRange returns exactly length bytes starting at offset.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
}

// Decoder validates a container's footer eagerly and loads the index
// lazily, matching §4.D's "defer index loading until first lookup".
type Decoder struct {
	rr   RangeReader
	size int64
	Footer
}

// Open reads and validates the footer (§3.1 invariants) before any
// data is touched, so a corrupted or truncated object is rejected
// up front (testable property #4).
func Open(ctx context.Context, rr RangeReader) (*Decoder, error) {
	size, err := rr.Size(ctx)
	if err != nil {
		return nil, err
	}
	if size < MinObjectSize {
		return nil, NewTooSmallErr(size)
	}
	raw, err := rr.ReadRange(ctx, size-FooterSize, FooterSize)
	if err != nil {
		return nil, err
	}
	footer, err := DecodeFooter(raw, size)
	if err != nil {
		return nil, err
	}
	return &Decoder{rr: rr, size: size, Footer: footer}, nil
}

// LoadIndex reads and parses the full index region. Callers normally
// go through reader.Reader, which interposes a cache here.
func (d *Decoder) LoadIndex(ctx context.Context) ([]IndexEntry, error) {
	if d.IndexLength == 0 {
		return nil, nil
	}
	raw, err := d.rr.ReadRange(ctx, int64(d.IndexStart), int64(d.IndexLength))
	if err != nil {
		return nil, err
	}
	entries, err := DecodeEntries(raw)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := ValidateEntry(d.Footer, e); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// ReadData range-reads one entry's internal payload.
func (d *Decoder) ReadData(ctx context.Context, e IndexEntry) ([]byte, error) {
	return d.rr.ReadRange(ctx, int64(e.DataOffset), int64(e.DataLength))
}

// ReadMeta range-reads one entry's metadata blob.
func (d *Decoder) ReadMeta(ctx context.Context, e IndexEntry) ([]byte, error) {
	if e.MetaLength == 0 {
		return nil, nil
	}
	return d.rr.ReadRange(ctx, int64(e.MetaOffset), int64(e.MetaLength))
}

// ReadRun issues a single range read spanning [first.DataOffset,
// last.DataOffset+last.DataLength) for batch coalescing (§4.D step 5).
func (d *Decoder) ReadRun(ctx context.Context, first, last IndexEntry) ([]byte, error) {
	start := int64(first.DataOffset)
	end := int64(last.DataOffset + last.DataLength)
	return d.rr.ReadRange(ctx, start, end-start)
}
