// Package objstore wraps the S3-compatible object store used for
// container uploads, range-reads, and externalised big-file storage.
// Adapted from the teacher's ais/backend S3 client construction, using
// aws-sdk-go-v2 directly instead of the aistore backend-provider
// abstraction (DES only ever talks to one kind of backend).
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/datavision/des/cmn/cos"
)

// Config carries the connection details for an S3-compatible endpoint
// (AWS S3 itself, MinIO, Ceph RGW, etc).
type Config struct {
	Region          string
	Endpoint        string // non-empty for S3-compatible non-AWS endpoints
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Client is a thin, context-aware wrapper around the AWS SDK S3 client
// exposing only the operations DES's core needs: HEAD, range GET, full
// GET, PUT, list, delete.
type Client struct {
	s3        *s3.Client
	uploader  *manager.Uploader
	downloader *manager.Downloader
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:         client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

// Head returns (size, etag, exists).
func (c *Client) Head(ctx context.Context, bucket, key string) (size int64, etag string, exists bool, err error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return 0, "", false, nil
		}
		return 0, "", false, classify(err)
	}
	sz := int64(0)
	if out.ContentLength != nil {
		sz = *out.ContentLength
	}
	return sz, aws.ToString(out.ETag), true, nil
}

// GetRange performs a single bounded byte-range GET.
func (c *Client) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, cos.NewErrNotFound("s3 object %s/%s", bucket, key)
		}
		return nil, classify(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GetFull fetches the entire object.
func (c *Client) GetFull(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, cos.NewErrNotFound("s3 object %s/%s", bucket, key)
		}
		return nil, classify(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// PutBytes uploads small payloads (externalised files, metadata
// sidecars) directly.
func (c *Client) PutBytes(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// UploadFile uses the multipart manager.Uploader for finalised
// containers, which can be large.
func (c *Client) UploadFile(ctx context.Context, bucket, key string, r io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes one object; a missing object is not an error.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil && !isNotFound(err) {
		return classify(err)
	}
	return nil
}

// ListResult is one page of a prefix listing.
type ListResult struct {
	Keys              []string
	ContinuationToken string
}

func (c *Client) List(ctx context.Context, bucket, prefix, continuation string) (ListResult, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(prefix)}
	if continuation != "" {
		in.ContinuationToken = aws.String(continuation)
	}
	out, err := c.s3.ListObjectsV2(ctx, in)
	if err != nil {
		return ListResult{}, classify(err)
	}
	res := ListResult{}
	for _, obj := range out.Contents {
		res.Keys = append(res.Keys, aws.ToString(obj.Key))
	}
	if out.NextContinuationToken != nil {
		res.ContinuationToken = *out.NextContinuationToken
	}
	return res, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// classify wraps the error as ErrTransient when it matches the
// retryable predicate in spec §4.H, so callers (packer, recovery) can
// branch on cos.IsErrTransient without re-deriving the classification.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return cos.NewErrTransient(err, "s3 operation failed")
	}
	return err
}

// IsTransient implements spec §4.H's S3 retry predicate: HTTP 429/500/503
// or error code in {RequestTimeout, TooManyRequests, SlowDown,
// InternalError, ServiceUnavailable}.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "TooManyRequests", "SlowDown", "InternalError", "ServiceUnavailable":
			return true
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 500, 503, 429:
			return true
		}
	}
	// Fallback: a raw status-code string sometimes surfaces from
	// intermediate proxies in front of S3-compatible stores.
	msg := err.Error()
	for _, code := range []string{" 429", " 500", " 503"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// HolderAddr renders a host:port string from parts; nothing in this
// repository calls it.
func HolderAddr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
