package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the AWS S3 client used by S3Backend.
type S3API interface {
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Options configures an S3Backend.
type S3Options struct {
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint  string
	PathStyle bool
}

// S3Backend talks to Amazon S3 (or a compatible service) through aws-sdk-go-v2.
type S3Backend struct {
	client   S3API
	endpoint string
	region   string
}

// NewS3Backend builds a backend from an already loaded AWS config.
func NewS3Backend(cfg aws.Config, opts S3Options) *S3Backend {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3Backend{client: client, endpoint: opts.Endpoint}
}

// NewS3BackendWithClient wraps an existing client, mainly for tests.
func NewS3BackendWithClient(client S3API, endpoint string) *S3Backend {
	return &S3Backend{client: client, endpoint: endpoint}
}

// InRegion returns a copy that sends every request to region.
func (b *S3Backend) InRegion(region string) API {
	cp := *b
	cp.region = region
	return &cp
}

func (b *S3Backend) optFns() []func(*s3.Options) {
	if b.region == "" {
		return nil
	}
	region := b.region
	return []func(*s3.Options){func(o *s3.Options) { o.Region = region }}
}

func (b *S3Backend) BucketLocation(ctx context.Context, bucket string) (string, error) {
	out, err := b.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)}, b.optFns()...)
	if err != nil {
		return "", translateS3Error(err)
	}
	return string(out.LocationConstraint), nil
}

func (b *S3Backend) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	var objs []Object
	p := s3.NewListObjectsV2Paginator(b.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx, b.optFns()...)
		if err != nil {
			return nil, translateS3Error(err)
		}
		for _, o := range page.Contents {
			objs = append(objs, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				ETag:         aws.ToString(o.ETag),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return objs, nil
}

func (b *S3Backend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}, b.optFns()...)
	if err == nil {
		return true, nil
	}
	err = translateS3Error(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (b *S3Backend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(opts.ACL)
	}
	if _, err := b.client.PutObject(ctx, input, b.optFns()...); err != nil {
		return translateS3Error(err)
	}
	return nil
}

func (b *S3Backend) Endpoint(region string) string {
	if b.endpoint != "" {
		return b.endpoint
	}
	return AWSEndpoint(region)
}

// translateS3Error tags not-found responses with ErrNotFound and keeps the SDK error.
func translateS3Error(err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return markNotFound(err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return markNotFound(err)
		}
	}
	return err
}
