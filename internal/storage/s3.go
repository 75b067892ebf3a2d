package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ kvstore.Store = (*Client)(nil)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "feedfilter"
	Prefix          string // key prefix inside the bucket
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client stores feedfilter state in an S3 bucket so several machines can
// share the topic selection and the classification cache.
//
// Layout:
//
//	{prefix}/values/{key}.json          whole values written with Set
//	{prefix}/fields/{key}/{field}.json  one object per mapping entry
//
// Each mapping entry is its own object, so MergeFields from concurrent
// writers never overwrites entries it did not write.
type Client struct {
	minioClient *minio.Client
	bucket      string
	prefix      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
		prefix:      strings.Trim(config.Prefix, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) valueObject(key string) string {
	return path.Join(c.prefix, "values", url.PathEscape(key)+".json")
}

func (c *Client) fieldsPrefix(key string) string {
	return path.Join(c.prefix, "fields", url.PathEscape(key)) + "/"
}

func (c *Client) fieldObject(key, field string) string {
	return c.fieldsPrefix(key) + url.PathEscape(field) + ".json"
}

// Get reads values and assembles mappings from their entry objects.
func (c *Client) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		all, err := c.listKeys(ctx)
		if err != nil {
			return nil, err
		}
		keys = all
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		data, found, err := c.getObject(ctx, c.valueObject(key))
		if err != nil {
			return nil, err
		}
		if found {
			out[key] = data
			continue
		}

		fields, found, err := c.getFields(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		assembled, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble %s: %w", key, err)
		}
		out[key] = assembled
	}
	return out, nil
}

func (c *Client) getFields(ctx context.Context, key string) (map[string]json.RawMessage, bool, error) {
	prefix := c.fieldsPrefix(key)
	fields := make(map[string]json.RawMessage)
	found := false

	for object := range c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, false, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		name, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(object.Key, prefix), ".json"))
		if err != nil {
			continue
		}
		data, ok, err := c.getObject(ctx, object.Key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			fields[name] = data
			found = true
		}
	}
	return fields, found, nil
}

func (c *Client) getObject(ctx context.Context, objectName string) ([]byte, bool, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", objectName, err)
	}
	return data, true, nil
}

func (c *Client) putObject(ctx context.Context, objectName string, data []byte) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", objectName, err)
	}
	return nil
}

func (c *Client) removePrefix(ctx context.Context, prefix string) error {
	for object := range c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if err := c.minioClient.RemoveObject(ctx, c.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", object.Key, err)
		}
	}
	return nil
}

func (c *Client) listKeys(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string

	valuesPrefix := path.Join(c.prefix, "values") + "/"
	for object := range c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: valuesPrefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		key, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(object.Key, valuesPrefix), ".json"))
		if err == nil && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	fieldsRoot := path.Join(c.prefix, "fields") + "/"
	for object := range c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: fieldsRoot, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		escaped, _, _ := strings.Cut(strings.TrimPrefix(object.Key, fieldsRoot), "/")
		key, err := url.PathUnescape(escaped)
		if err == nil && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Set writes whole values, dropping any mapping entries stored under the same keys.
func (c *Client) Set(ctx context.Context, values map[string]json.RawMessage) error {
	for key, value := range values {
		if err := c.removePrefix(ctx, c.fieldsPrefix(key)); err != nil {
			return err
		}
		if err := c.putObject(ctx, c.valueObject(key), value); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes keys and their mapping entries.
func (c *Client) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.minioClient.RemoveObject(ctx, c.bucket, c.valueObject(key), minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
		if err := c.removePrefix(ctx, c.fieldsPrefix(key)); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes everything under the configured prefix.
func (c *Client) Clear(ctx context.Context) error {
	prefix := c.prefix
	if prefix != "" {
		prefix += "/"
	}
	return c.removePrefix(ctx, prefix)
}

// MergeFields writes one object per entry. A whole value stored under key is
// split into entries first.
func (c *Client) MergeFields(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	value, found, err := c.getObject(ctx, c.valueObject(key))
	if err != nil {
		return err
	}
	if found {
		fields = kvstore.FoldValue(value, fields)
	}
	if err := c.minioClient.RemoveObject(ctx, c.bucket, c.valueObject(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	for name, value := range fields {
		if err := c.putObject(ctx, c.fieldObject(key, name), value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFields deletes individual mapping entries.
func (c *Client) RemoveFields(ctx context.Context, key string, fields ...string) error {
	for _, name := range fields {
		if err := c.minioClient.RemoveObject(ctx, c.bucket, c.fieldObject(key, name), minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %s.%s: %w", key, name, err)
		}
	}
	return nil
}

// Close is a no-op; the minio client holds no long-lived resources.
func (c *Client) Close() error {
	return nil
}
