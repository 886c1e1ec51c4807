package cache

import (
	"time"

	"github.com/tidwall/buntdb"
)

// BuntKV is an embedded, persistent KVStore implementation of the
// "remote KV" cache contract — useful when a DES deployment wants
// index-cache persistence across process restarts without standing up
// a separate cache service.
type BuntKV struct {
	db *buntdb.DB
}

// OpenBuntKV opens (creating if absent) a buntdb file at path, or an
// in-memory instance when path is ":memory:".
func OpenBuntKV(path string) (*BuntKV, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntKV{db: db}, nil
}

func (b *BuntKV) Get(key string) ([]byte, bool, error) {
	var val string
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (b *BuntKV) Set(key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
		}
		_, _, err := tx.Set(key, string(value), opts)
		return err
	})
}

func (b *BuntKV) Delete(key string) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (b *BuntKV) Close() error { return b.db.Close() }
