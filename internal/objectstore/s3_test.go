package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	GetBucketLocationFunc func(context.Context, *s3.GetBucketLocationInput, ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	ListObjectsV2Func     func(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObjectFunc        func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObjectFunc         func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3) GetBucketLocation(ctx context.Context, in *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	if m.GetBucketLocationFunc != nil {
		return m.GetBucketLocationFunc(ctx, in, optFns...)
	}
	return &s3.GetBucketLocationOutput{}, nil
}

func (m *mockS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.ListObjectsV2Func != nil {
		return m.ListObjectsV2Func(ctx, in, optFns...)
	}
	return &s3.ListObjectsV2Output{}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, in, optFns...)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, in, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func applyOpts(optFns []func(*s3.Options)) s3.Options {
	var o s3.Options
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

func TestS3BackendBucketLocation(t *testing.T) {
	m := &mockS3{
		GetBucketLocationFunc: func(_ context.Context, in *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			assert.Equal(t, "wheels", aws.ToString(in.Bucket))
			return &s3.GetBucketLocationOutput{LocationConstraint: types.BucketLocationConstraintEu}, nil
		},
	}
	loc, err := NewS3BackendWithClient(m, "").BucketLocation(context.Background(), "wheels")
	require.NoError(t, err)
	assert.Equal(t, "EU", loc)
	assert.Equal(t, "eu-west-1", NormalizeRegion(loc))
}

func TestS3BackendListObjectsFollowsPages(t *testing.T) {
	calls := 0
	m := &mockS3{
		ListObjectsV2Func: func(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			calls++
			assert.Equal(t, "py3/", aws.ToString(in.Prefix))
			if in.ContinuationToken == nil {
				return &s3.ListObjectsV2Output{
					Contents:              []types.Object{{Key: aws.String("py3/a.whl"), Size: aws.Int64(1)}},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("page-2"),
				}, nil
			}
			assert.Equal(t, "page-2", aws.ToString(in.ContinuationToken))
			return &s3.ListObjectsV2Output{
				Contents:    []types.Object{{Key: aws.String("py3/b.whl"), Size: aws.Int64(2)}},
				IsTruncated: aws.Bool(false),
			}, nil
		},
	}
	objs, err := NewS3BackendWithClient(m, "").ListObjects(context.Background(), "wheels", "py3/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "py3/a.whl", objs[0].Key)
	assert.Equal(t, "py3/b.whl", objs[1].Key)
	assert.Equal(t, int64(2), objs[1].Size)
	assert.Equal(t, 2, calls)
}

func TestS3BackendObjectExists(t *testing.T) {
	m := &mockS3{
		HeadObjectFunc: func(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			if aws.ToString(in.Key) == "present" {
				return &s3.HeadObjectOutput{}, nil
			}
			if aws.ToString(in.Key) == "denied" {
				return nil, errors.New("access denied")
			}
			return nil, &types.NotFound{}
		},
	}
	b := NewS3BackendWithClient(m, "")
	ctx := context.Background()

	ok, err := b.ObjectExists(ctx, "wheels", "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.ObjectExists(ctx, "wheels", "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.ObjectExists(ctx, "wheels", "denied")
	assert.EqualError(t, err, "access denied")
}

func TestS3BackendPutObject(t *testing.T) {
	m := &mockS3{
		PutObjectFunc: func(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			assert.Equal(t, "wheels", aws.ToString(in.Bucket))
			assert.Equal(t, "index.html", aws.ToString(in.Key))
			assert.Equal(t, "text/html; charset=utf-8", aws.ToString(in.ContentType))
			assert.Equal(t, types.ObjectCannedACLPublicRead, in.ACL)
			assert.Equal(t, int64(6), aws.ToInt64(in.ContentLength))
			body, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			assert.Equal(t, "<html>", string(body))
			assert.Equal(t, "eu-west-1", applyOpts(optFns).Region)
			return &s3.PutObjectOutput{}, nil
		},
	}
	b := NewS3BackendWithClient(m, "").InRegion("eu-west-1")
	err := b.PutObject(context.Background(), "wheels", "index.html", strings.NewReader("<html>"), 6, PutOptions{
		ContentType: "text/html; charset=utf-8",
		ACL:         ACLPublicRead,
	})
	require.NoError(t, err)
}

func TestS3BackendEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.us-west-2.amazonaws.com", NewS3BackendWithClient(&mockS3{}, "").Endpoint("us-west-2"))
	assert.Equal(t, "http://localhost:4566", NewS3BackendWithClient(&mockS3{}, "http://localhost:4566").Endpoint("us-west-2"))
}

func TestTranslateS3ErrorKeepsMessage(t *testing.T) {
	err := translateS3Error(&types.NoSuchBucket{Message: aws.String("gone")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "gone")
}
