package cache

import (
	"github.com/datavision/des/container"
	"github.com/tinylib/msgp/msgp"
)

// record is the compact binary record a remote/KV cache backend
// stores per key (§4.B: "serialised as a compact record ... with
// optional per-record TTL"). Hand-encoded with the tinylib/msgp
// runtime primitives in the same shape `msgp -o` would generate for a
// struct with one slice-of-struct field.
type record struct {
	Entries []container.IndexEntry
}

func (r *record) MarshalMsg() []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(r.Entries)))
	for _, e := range r.Entries {
		b = msgp.AppendArrayHeader(b, 6)
		b = msgp.AppendString(b, e.Name)
		b = msgp.AppendUint64(b, e.DataOffset)
		b = msgp.AppendUint64(b, e.DataLength)
		b = msgp.AppendUint64(b, e.MetaOffset)
		b = msgp.AppendUint64(b, e.MetaLength)
		b = msgp.AppendUint32(b, e.Flags)
	}
	return b
}

func unmarshalRecord(b []byte) (*record, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	r := &record{Entries: make([]container.IndexEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		var fields uint32
		fields, b, err = msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return nil, err
		}
		if fields != 6 {
			return nil, msgp.ArrayError{Wanted: 6, Got: fields}
		}
		var e container.IndexEntry
		e.Name, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}
		e.DataOffset, b, err = msgp.ReadUint64Bytes(b)
		if err != nil {
			return nil, err
		}
		e.DataLength, b, err = msgp.ReadUint64Bytes(b)
		if err != nil {
			return nil, err
		}
		e.MetaOffset, b, err = msgp.ReadUint64Bytes(b)
		if err != nil {
			return nil, err
		}
		e.MetaLength, b, err = msgp.ReadUint64Bytes(b)
		if err != nil {
			return nil, err
		}
		e.Flags, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, err
		}
		r.Entries = append(r.Entries, e)
	}
	return r, nil
}
