package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore is the optional offload target for cache blobs, so an
// operator running ephemeral local disks does not lose the cache
// between runs (SPEC_FULL.md DOMAIN STACK). Cache itself never requires
// one; SaveToDisk/LoadFromDisk work standalone.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// S3Mirror stores cache blobs in an S3 bucket/prefix, mirroring the
// teacher's internal/storage.AWSStorage SaveToS3/GetFromS3 pair.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror builds an S3-backed BlobStore from an already-configured
// client (config/credential resolution stays in the caller, same split
// the teacher uses between NewAWSStorage and its S3 helper methods).
func NewS3Mirror(client *s3.Client, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) objectKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "/" + key
}

// Put uploads data under key (spec §6 cache blob mirror).
func (m *S3Mirror) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put cache blob %s to s3 bucket %s: %w", key, m.bucket, err)
	}
	return nil
}

// Get downloads the object at key. found is false when the caller
// should fall back to another source (disk or database) rather than
// treat a missing mirror object as an error.
func (m *S3Mirror) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	if err != nil {
		return nil, false, nil
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read cache blob %s from s3 bucket %s: %w", key, m.bucket, err)
	}
	return data, true, nil
}

// SaveToDiskAndMirror writes the cache to dir, then if mirror is
// non-nil, uploads the same bytes to the mirror. A mirror failure is
// returned after the disk write has already succeeded; the dispatcher
// logs any error from this call and continues, matching its
// "SaveCacheToDisk (non-fatal on error)" step (spec §4.7).
func (c *Cache) SaveToDiskAndMirror(ctx context.Context, dir string, mirror BlobStore) error {
	if err := c.SaveToDisk(dir); err != nil {
		return err
	}
	if mirror == nil {
		return nil
	}

	env := c.toEnvelope()
	var buf bytes.Buffer
	if err := encodeEnvelope(&buf, env); err != nil {
		return fmt.Errorf("encode cache envelope for list %d mirror upload: %w", c.ListID, err)
	}
	if err := mirror.Put(ctx, fileName(c.ListID), buf.Bytes()); err != nil {
		return fmt.Errorf("mirror cache for list %d: %w", c.ListID, err)
	}
	return nil
}

// LoadFromMirrorOrDisk tries the mirror first (useful when the local
// disk cache was wiped by an ephemeral volume), falling back to the
// local on-disk snapshot.
func (c *Cache) LoadFromMirrorOrDisk(ctx context.Context, dir string, mirror BlobStore) (ok bool, err error) {
	if mirror != nil {
		data, found, mErr := mirror.Get(ctx, fileName(c.ListID))
		if mErr != nil {
			return false, fmt.Errorf("load cache mirror for list %d: %w", c.ListID, mErr)
		}
		if found {
			var env envelope
			if dErr := decodeEnvelope(data, &env); dErr == nil && env.Version == CurrentVersion && env.MailingListID == c.ListID {
				c.loadEnvelope(env)
				return true, nil
			}
		}
	}
	return c.LoadFromDisk(dir)
}
