package reader

import (
	"context"
	"path"

	"github.com/datavision/des/cache"
	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/objstore"
)

// S3RangeReader implements container.RangeReader over one S3 object,
// caching the HEAD-derived size so ReadRun/ReadData don't re-stat.
type S3RangeReader struct {
	cl     *objstore.Client
	bucket string
	key    string
	size   int64
}

func OpenS3(ctx context.Context, cl *objstore.Client, bucket, key string) (*S3RangeReader, string, error) {
	size, etag, exists, err := cl.Head(ctx, bucket, key)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", cos.NewErrNotFound("s3 object %s/%s", bucket, key)
	}
	return &S3RangeReader{cl: cl, bucket: bucket, key: key, size: size}, etag, nil
}

func (s *S3RangeReader) Size(context.Context) (int64, error) {
	return s.size, nil
}

func (s *S3RangeReader) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	return s.cl.GetRange(ctx, s.bucket, s.key, offset, length)
}

// S3ExternalFetcher fetches externalised payloads from
// <prefix>/_bigFiles/<name>, per §3.1.
type S3ExternalFetcher struct {
	Cl     *objstore.Client
	Bucket string
	Prefix string
}

func (s S3ExternalFetcher) FetchExternal(ctx context.Context, name string) ([]byte, error) {
	key := path.Join(s.Prefix, "_bigFiles", name)
	return s.Cl.GetFull(ctx, s.Bucket, key)
}

// S3CacheKey builds the §4.B remote cache key from a HEAD response.
func S3CacheKey(bucket, key, etag string, formatVersion uint8) string {
	return cache.S3Key(bucket, key, etag, formatVersion)
}
