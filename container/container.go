// Package container implements the DES binary container format: the
// wire-identical header/data/meta/index/footer layout described in the
// portable spec (§3.1, §4.A). It knows nothing about S3 externalisation
// or caching — those live one layer up, in writer and reader.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package container

import (
	"encoding/binary"
	"regexp"

	"github.com/datavision/des/cmn/cos"
)

const (
	HeaderMagic = "DESHEAD1"
	FooterMagic = "DESFOOT1"
	Version     uint8 = 1

	HeaderSize = 16 // 8 magic + 1 version + 7 reserved
	FooterSize = 72 // 8 magic + 1 version + 7 reserved + 7*u64

	// DataStart is fixed: the data region always begins immediately
	// after the header.
	DataStart = HeaderSize

	entryFixedSize = 8*4 + 4 // four u64 + one u32 = 36 bytes

	MaxFilenameLength = 65535
	MaxMetaSize       = 10 << 20 // 10 MiB

	MinObjectSize = HeaderSize + FooterSize // 88 B
)

// Flags (u32 bitmask, §3.1).
const (
	FlagExternal   uint32 = 0x01
	FlagCompressed uint32 = 0x02 // reserved
	FlagEncrypted  uint32 = 0x04 // reserved
	FlagDeleted    uint32 = 0x08 // reserved, future compaction
)

// IndexEntry is the in-memory form of one index-region record (§3.2).
type IndexEntry struct {
	Name       string
	DataOffset uint64
	DataLength uint64
	MetaOffset uint64
	MetaLength uint64
	Flags      uint32
}

func (e *IndexEntry) IsExternal() bool { return e.Flags&FlagExternal != 0 }

// Footer is the parsed last-72-bytes trailer (§3.1).
type Footer struct {
	Version     uint8
	DataStart   uint64
	DataLength  uint64
	MetaStart   uint64
	MetaLength  uint64
	IndexStart  uint64
	IndexLength uint64
	FileCount   uint64
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.()-]+$`)

// ValidateName enforces §3.1's name charset/length rule. Parentheses
// are admitted so generated names (<PREFIX>_<YYYYMMDD>_(<F12>_<C2>))
// pass.
func ValidateName(name string) error {
	if name == "" {
		return cos.NewErrValidation("filename cannot be empty")
	}
	if len(name) > MaxFilenameLength {
		return cos.NewErrValidation("filename too long: %d bytes (max %d)", len(name), MaxFilenameLength)
	}
	if !nameRe.MatchString(name) {
		return cos.NewErrValidation("invalid filename %q: allowed characters are [A-Za-z0-9_.()-]", name)
	}
	return nil
}

// EncodeHeader returns the fixed 16-byte header.
func EncodeHeader() []byte {
	b := make([]byte, HeaderSize)
	copy(b, HeaderMagic)
	b[8] = Version
	return b
}

// EncodeEntry serialises one index entry: u16 name_len, name bytes,
// then the five fixed little-endian fields in the order fixed by the
// wire format (data_offset, data_length, meta_offset, meta_length,
// flags).
func EncodeEntry(e IndexEntry) []byte {
	nameBytes := []byte(e.Name)
	buf := make([]byte, 2+len(nameBytes)+entryFixedSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(nameBytes)))
	copy(buf[2:], nameBytes)
	off := 2 + len(nameBytes)
	binary.LittleEndian.PutUint64(buf[off:], e.DataOffset)
	binary.LittleEndian.PutUint64(buf[off+8:], e.DataLength)
	binary.LittleEndian.PutUint64(buf[off+16:], e.MetaOffset)
	binary.LittleEndian.PutUint64(buf[off+24:], e.MetaLength)
	binary.LittleEndian.PutUint32(buf[off+32:], e.Flags)
	return buf
}

// DecodeEntries parses a full index-region byte slice into entries, in
// insertion order. A short/truncated record is a format error (§7).
func DecodeEntries(buf []byte) ([]IndexEntry, error) {
	var entries []IndexEntry
	pos := 0
	for pos < len(buf) {
		if pos+2 > len(buf) {
			return nil, cos.NewErrFormat("truncated index entry: name length overruns buffer at %d", pos)
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if pos+nameLen > len(buf) {
			return nil, cos.NewErrFormat("truncated index entry: name overruns buffer at %d", pos)
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		if pos+entryFixedSize > len(buf) {
			return nil, cos.NewErrFormat("truncated index entry: fixed fields overrun buffer at %d", pos)
		}
		entries = append(entries, IndexEntry{
			Name:       name,
			DataOffset: binary.LittleEndian.Uint64(buf[pos:]),
			DataLength: binary.LittleEndian.Uint64(buf[pos+8:]),
			MetaOffset: binary.LittleEndian.Uint64(buf[pos+16:]),
			MetaLength: binary.LittleEndian.Uint64(buf[pos+24:]),
			Flags:      binary.LittleEndian.Uint32(buf[pos+32:]),
		})
		pos += entryFixedSize
	}
	return entries, nil
}

// EncodeFooter serialises the 72-byte trailer.
func EncodeFooter(f Footer) []byte {
	b := make([]byte, FooterSize)
	copy(b, FooterMagic)
	b[8] = f.Version
	off := 16
	for _, v := range []uint64{f.DataStart, f.DataLength, f.MetaStart, f.MetaLength, f.IndexStart, f.IndexLength, f.FileCount} {
		binary.LittleEndian.PutUint64(b[off:], v)
		off += 8
	}
	return b
}

// DecodeFooter parses and validates the trailer's internal invariants
// against the known object size. It does not read the index or data
// regions; that's the caller's job once the footer is trusted.
func DecodeFooter(raw []byte, objectSize int64) (Footer, error) {
	var f Footer
	if len(raw) != FooterSize {
		return f, cos.NewErrFormat("footer must be exactly %d bytes, got %d", FooterSize, len(raw))
	}
	if string(raw[0:8]) != FooterMagic {
		return f, cos.NewErrFormat("bad footer magic %q (expected %q)", raw[0:8], FooterMagic)
	}
	f.Version = raw[8]
	if f.Version != Version {
		return f, cos.NewErrFormat("unsupported DES version %d (expected %d)", f.Version, Version)
	}
	off := 16
	vals := make([]uint64, 7)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint64(raw[off:])
		off += 8
	}
	f.DataStart, f.DataLength, f.MetaStart, f.MetaLength, f.IndexStart, f.IndexLength, f.FileCount =
		vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]

	if err := validateFooter(f, objectSize); err != nil {
		return Footer{}, err
	}
	return f, nil
}

func validateFooter(f Footer, objectSize int64) error {
	if objectSize < MinObjectSize {
		return cos.NewErrFormat("object too small (%d bytes) to be a valid DES container", objectSize)
	}
	if f.DataStart != DataStart {
		return cos.NewErrFormat("data_start must be %d, got %d", DataStart, f.DataStart)
	}
	metaStart := f.DataStart + f.DataLength
	if metaStart != f.MetaStart {
		return cos.NewErrFormat("data region [%d,+%d) does not end at meta_start %d", f.DataStart, f.DataLength, f.MetaStart)
	}
	indexStart := f.MetaStart + f.MetaLength
	if indexStart != f.IndexStart {
		return cos.NewErrFormat("meta region [%d,+%d) does not end at index_start %d", f.MetaStart, f.MetaLength, f.IndexStart)
	}
	expectedIndexEnd := uint64(objectSize) - FooterSize
	indexEnd := f.IndexStart + f.IndexLength
	if indexEnd != expectedIndexEnd {
		return cos.NewErrFormat("index region [%d,+%d) does not end at footer boundary %d", f.IndexStart, f.IndexLength, expectedIndexEnd)
	}
	minEntrySize := uint64(2 + entryFixedSize)
	if f.FileCount*minEntrySize > f.IndexLength {
		return cos.NewErrFormat("file_count %d implies index larger than index_length %d", f.FileCount, f.IndexLength)
	}
	return nil
}

// NewTooSmallErr reports an object below MinObjectSize.
func NewTooSmallErr(size int64) error {
	return cos.NewErrFormat("object too small (%d bytes, minimum %d) to be a valid DES container", size, MinObjectSize)
}

// ValidateEntry checks an index entry's offsets against the footer's
// region boundaries (§3.1's per-entry invariant).
func ValidateEntry(f Footer, e IndexEntry) error {
	if !e.IsExternal() {
		if e.DataOffset < f.DataStart || e.DataOffset+e.DataLength > f.DataStart+f.DataLength {
			return cos.NewErrFormat("entry %q data range [%d,+%d) escapes data region", e.Name, e.DataOffset, e.DataLength)
		}
	}
	if e.MetaOffset < f.MetaStart || e.MetaOffset+e.MetaLength > f.MetaStart+f.MetaLength {
		return cos.NewErrFormat("entry %q meta range [%d,+%d) escapes meta region", e.Name, e.MetaOffset, e.MetaLength)
	}
	return nil
}
