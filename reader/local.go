package reader

import (
	"context"
	"os"
	"path/filepath"

	"github.com/datavision/des/cache"
)

// FileRangeReader implements container.RangeReader over a local file.
type FileRangeReader struct {
	f *os.File
}

func OpenFile(path string) (*FileRangeReader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return &FileRangeReader{f: f}, f, nil
}

func (fr *FileRangeReader) Size(context.Context) (int64, error) {
	fi, err := fr.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (fr *FileRangeReader) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := fr.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// LocalExternalFetcher reads externalised payloads from
// <containerDir>/_bigFiles/<name>, the local-disk analogue of the S3
// <prefix>/_bigFiles/<name> convention (§3.1).
type LocalExternalFetcher struct {
	Dir string
}

func (l LocalExternalFetcher) FetchExternal(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(l.Dir, "_bigFiles", name))
}

// LocalCacheKey builds the §4.B local-file cache key.
func LocalCacheKey(path string, formatVersion uint8) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return cache.LocalKey(abs, fi.Size(), fi.ModTime().Unix(), formatVersion), nil
}
