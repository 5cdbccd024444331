package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Object is a single entry returned by a bucket listing.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions controls how an object is written.
type PutOptions struct {
	ContentType string
	ACL         ACL
}

// API is the object storage backend the wheelhouse is published to.
// Implementations are already authenticated; nothing here looks up credentials.
type API interface {
	// BucketLocation returns the raw location constraint of the bucket.
	// An empty string means the provider's default region.
	BucketLocation(ctx context.Context, bucket string) (string, error)
	// ListObjects returns every object under prefix, in the store's listing order.
	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
	// ObjectExists reports whether key exists. A missing key is not an error.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) error
	// Endpoint is the base URL used to build unsigned path-style object URLs.
	Endpoint(region string) string
}

// RegionScoped is implemented by backends that must address a bucket through
// its own regional endpoint once the region is known.
type RegionScoped interface {
	InRegion(region string) API
}

// ACL is a canned access policy applied to uploaded objects.
type ACL string

const (
	ACLPrivate                ACL = "private"
	ACLPublicRead             ACL = "public-read"
	ACLPublicReadWrite        ACL = "public-read-write"
	ACLAuthenticatedRead      ACL = "authenticated-read"
	ACLAWSExecRead            ACL = "aws-exec-read"
	ACLBucketOwnerRead        ACL = "bucket-owner-read"
	ACLBucketOwnerFullControl ACL = "bucket-owner-full-control"
)

var knownACLs = []ACL{
	ACLPrivate,
	ACLPublicRead,
	ACLPublicReadWrite,
	ACLAuthenticatedRead,
	ACLAWSExecRead,
	ACLBucketOwnerRead,
	ACLBucketOwnerFullControl,
}

// ParseACL validates a canned ACL name. Empty means private.
func ParseACL(s string) (ACL, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ACLPrivate, nil
	}
	for _, acl := range knownACLs {
		if string(acl) == s {
			return acl, nil
		}
	}
	return "", fmt.Errorf("%w: unknown acl %q", ErrInvalidInput, s)
}

func (a ACL) String() string { return string(a) }
