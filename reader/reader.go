// Package reader implements the stateless range-read retrieval path
// (spec §4.D): resolve name -> byte range, perform range I/O, batch-
// merge adjacent ranges, and return payload plus metadata.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package reader

import (
	"context"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/datavision/des/cache"
	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/container"
)

// ExternalFetcher retrieves an externalised file's full payload from
// wherever big files live (local _bigFiles sibling dir, or S3 under
// <prefix>/_bigFiles/<name>, per §3.1).
type ExternalFetcher interface {
	FetchExternal(ctx context.Context, name string) ([]byte, error)
}

// Stats mirrors the prototype's DesWriter.get_stats(), read back out of
// a decoded index (§9 supplemented feature).
type Stats struct {
	TotalFiles        int
	InternalFiles     int
	ExternalFiles     int
	InternalSizeBytes uint64
	ExternalSizeBytes uint64
}

// Reader is the read-only, concurrency-safe handle on one container.
type Reader struct {
	dec      *container.Decoder
	cache    cache.Cache
	cacheKey string
	ext      ExternalFetcher

	mu          sync.Mutex
	indexLoaded bool
	byName      map[string]container.IndexEntry
}

// Open validates the footer (via container.Open) and returns a Reader
// with index loading deferred until the first lookup.
func Open(ctx context.Context, rr container.RangeReader, cacheKey string, c cache.Cache, ext ExternalFetcher) (*Reader, error) {
	dec, err := container.Open(ctx, rr)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = cache.Null{}
	}
	return &Reader{dec: dec, cache: c, cacheKey: cacheKey, ext: ext}, nil
}

func (r *Reader) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLoaded {
		return nil
	}

	if entries, ok := r.cache.Get(r.cacheKey); ok {
		r.byName = toMap(entries)
		r.indexLoaded = true
		return nil
	}

	entries, err := r.dec.LoadIndex(ctx)
	if err != nil {
		return err
	}
	r.byName = toMap(entries)
	r.indexLoaded = true
	r.cache.Set(r.cacheKey, entries, 0)
	return nil
}

func toMap(entries []container.IndexEntry) map[string]container.IndexEntry {
	m := make(map[string]container.IndexEntry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return m
}

func (r *Reader) entry(name string) (container.IndexEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	return e, ok
}

// GetFile resolves name to bytes: external files are fetched whole via
// ExternalFetcher, internal files via a bounded range read.
func (r *Reader) GetFile(ctx context.Context, name string) ([]byte, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	e, ok := r.entry(name)
	if !ok {
		return nil, cos.NewErrNotFound("file %q", name)
	}
	if e.IsExternal() {
		if r.ext == nil {
			return nil, cos.NewErrNotFound("file %q: external storage not configured", name)
		}
		return r.ext.FetchExternal(ctx, name)
	}
	return r.dec.ReadData(ctx, e)
}

// GetMeta always reads from the container's meta region, even for
// external entries, so metadata travels with the container (§4.D).
func (r *Reader) GetMeta(ctx context.Context, name string) (map[string]any, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	e, ok := r.entry(name)
	if !ok {
		return nil, cos.NewErrNotFound("file %q", name)
	}
	raw, err := r.dec.ReadMeta(ctx, e)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := jsoniter.Unmarshal(raw, &meta); err != nil {
		return nil, cos.NewErrFormat("meta for %q is not valid JSON: %v", name, err)
	}
	return meta, nil
}

// EntryInfo returns whether name is external and its declared size,
// without fetching payload bytes; used by the retriever to set
// diagnostic response headers (§4.J) off the already-loaded index.
func (r *Reader) EntryInfo(ctx context.Context, name string) (external bool, size uint64, ok bool, err error) {
	if err := r.ensureIndex(ctx); err != nil {
		return false, 0, false, err
	}
	e, found := r.entry(name)
	if !found {
		return false, 0, false, nil
	}
	return e.IsExternal(), e.DataLength, true, nil
}

// Contains reports whether name is present in the loaded index.
func (r *Reader) Contains(ctx context.Context, name string) (bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return false, err
	}
	_, ok := r.entry(name)
	return ok, nil
}

// ListFiles returns every name in the container.
func (r *Reader) ListFiles(ctx context.Context) ([]string, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names, nil
}

// Stats summarises the loaded index.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return Stats{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	for _, e := range r.byName {
		s.TotalFiles++
		if e.IsExternal() {
			s.ExternalFiles++
			s.ExternalSizeBytes += e.DataLength
		} else {
			s.InternalFiles++
			s.InternalSizeBytes += e.DataLength
		}
	}
	return s, nil
}

// GetFilesBatch implements §4.D's batch read: resolve names, split
// external/internal, sort internal by offset, coalesce adjacent runs
// within maxGapSize, and issue exactly one range read per run.
func (r *Reader) GetFilesBatch(ctx context.Context, names []string, maxGapSize int64) (map[string][]byte, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(names))
	var internal []container.IndexEntry
	for _, n := range names {
		e, ok := r.entry(n)
		if !ok {
			continue // misses are ignored, per spec
		}
		if e.IsExternal() {
			if r.ext == nil {
				continue
			}
			data, err := r.ext.FetchExternal(ctx, n)
			if err != nil {
				continue
			}
			result[n] = data
			continue
		}
		internal = append(internal, e)
	}

	sort.Slice(internal, func(i, j int) bool { return internal[i].DataOffset < internal[j].DataOffset })

	i := 0
	for i < len(internal) {
		j := i
		end := internal[i].DataOffset + internal[i].DataLength
		for j+1 < len(internal) {
			gap := int64(internal[j+1].DataOffset) - int64(end)
			if gap > maxGapSize {
				break
			}
			j++
			end = internal[j].DataOffset + internal[j].DataLength
		}

		buf, err := r.dec.ReadRun(ctx, internal[i], internal[j])
		if err != nil {
			return nil, err
		}
		base := internal[i].DataOffset
		for k := i; k <= j; k++ {
			e := internal[k]
			off := e.DataOffset - base
			result[e.Name] = buf[off : off+e.DataLength]
		}
		i = j + 1
	}

	return result, nil
}
