package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOBackend publishes to an S3-compatible server through minio-go.
type MinIOBackend struct {
	Client *minio.Client
}

// MinIOOptions configures a MinIOBackend.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewMinIOBackend initializes a MinIO client with static credentials.
func NewMinIOBackend(opts MinIOOptions) (*MinIOBackend, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: minio endpoint required", ErrInvalidInput)
	}
	host, secure := splitEndpoint(opts.Endpoint, opts.UseSSL)
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOBackend{Client: client}, nil
}

// splitEndpoint accepts either host[:port] or a URL; a URL scheme overrides useSSL.
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	}
	return endpoint, useSSL
}

func (m *MinIOBackend) BucketLocation(ctx context.Context, bucket string) (string, error) {
	loc, err := m.Client.GetBucketLocation(ctx, bucket)
	if err != nil {
		return "", translateMinIOError(err)
	}
	return loc, nil
}

func (m *MinIOBackend) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objs []Object
	for info := range m.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, translateMinIOError(info.Err)
		}
		objs = append(objs, Object{
			Key:          info.Key,
			Size:         info.Size,
			ETag:         info.ETag,
			LastModified: info.LastModified,
		})
	}
	return objs, nil
}

func (m *MinIOBackend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (m *MinIOBackend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.ACL != "" {
		putOpts.UserMetadata = map[string]string{"x-amz-acl": string(opts.ACL)}
	}
	_, err := m.Client.PutObject(ctx, bucket, key, body, size, putOpts)
	return err
}

func (m *MinIOBackend) Endpoint(string) string {
	return m.Client.EndpointURL().String()
}

func translateMinIOError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey":
		return markNotFound(err)
	}
	return err
}
