// Package cache implements the polymorphic index cache of spec §4.B:
// a cache keyed by a container's stable identity, mapping to its
// decoded index. A miss or decode error never propagates to the
// caller — it degrades to a re-read, per spec.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package cache

import (
	"fmt"
	"time"

	"github.com/datavision/des/container"
)

// Cache is the duck-typed contract from spec §9: {get, set, delete,
// clear}.
type Cache interface {
	Get(key string) ([]container.IndexEntry, bool)
	Set(key string, entries []container.IndexEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// LocalKey builds the cache key for a local-file container: a stable
// identity of (abs path, size, mtime, format version).
func LocalKey(absPath string, size int64, mtimeUnix int64, formatVersion uint8) string {
	return fmt.Sprintf("DES:%s:%d:%d:%d", absPath, size, mtimeUnix, formatVersion)
}

// S3Key builds the cache key for an object-store container: (bucket,
// key, etag, format version).
func S3Key(bucket, key, etag string, formatVersion uint8) string {
	return fmt.Sprintf("%s/%s/%s/%d", bucket, key, etag, formatVersion)
}
