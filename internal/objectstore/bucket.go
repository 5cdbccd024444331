package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Bucket is the wheelhouse client. Every operation is addressed relative to
// its Ref. The bucket region is looked up on first use and cached for the
// lifetime of the Bucket.
type Bucket struct {
	api API
	ref Ref
	log zerolog.Logger

	mu     sync.Mutex
	region *string
	scoped API
	group  singleflight.Group
}

// SyncResult summarizes a directory upload.
type SyncResult struct {
	Keys  []string
	Bytes int64
}

// NewBucket binds an authenticated backend to a wheelhouse location.
func NewBucket(api API, ref Ref, log zerolog.Logger) *Bucket {
	return &Bucket{api: api, ref: ref, log: log.With().Str("bucket", ref.String()).Logger()}
}

func (b *Bucket) Ref() Ref { return b.ref }

// Region returns the normalized bucket region, querying the store only once.
func (b *Bucket) Region(ctx context.Context) (string, error) {
	_, region, err := b.resolve(ctx)
	return region, err
}

func (b *Bucket) resolve(ctx context.Context) (API, string, error) {
	b.mu.Lock()
	if b.region != nil {
		api, region := b.scoped, *b.region
		b.mu.Unlock()
		return api, region, nil
	}
	b.mu.Unlock()

	_, err, _ := b.group.Do("region", func() (any, error) {
		b.mu.Lock()
		done := b.region != nil
		b.mu.Unlock()
		if done {
			return nil, nil
		}
		raw, err := b.api.BucketLocation(ctx, b.ref.name)
		if err != nil {
			return nil, opError("bucket location", b.ref.name, "", err)
		}
		region := NormalizeRegion(raw)
		scoped := b.api
		if rs, ok := b.api.(RegionScoped); ok {
			scoped = rs.InRegion(region)
		}
		b.mu.Lock()
		b.region = &region
		b.scoped = scoped
		b.mu.Unlock()
		b.log.Debug().Str("constraint", raw).Str("region", region).Msg("resolved bucket region")
		return nil, nil
	})
	if err != nil {
		return nil, "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scoped, *b.region, nil
}

// List returns every object under the wheelhouse prefix.
func (b *Bucket) List(ctx context.Context) ([]Object, error) {
	api, _, err := b.resolve(ctx)
	if err != nil {
		return nil, err
	}
	objs, err := api.ListObjects(ctx, b.ref.name, b.ref.ListPrefix())
	if err != nil {
		return nil, opError("list", b.ref.name, b.ref.ListPrefix(), err)
	}
	return objs, nil
}

// Exists reports whether rel exists under the prefix.
func (b *Bucket) Exists(ctx context.Context, rel string) (bool, error) {
	api, _, err := b.resolve(ctx)
	if err != nil {
		return false, err
	}
	key := b.ref.Key(rel)
	ok, err := api.ObjectExists(ctx, b.ref.name, key)
	if err != nil {
		return false, opError("head", b.ref.name, key, err)
	}
	return ok, nil
}

// Put uploads body to rel with a content type inferred from its extension.
func (b *Bucket) Put(ctx context.Context, body []byte, rel string, acl ACL) error {
	api, _, err := b.resolve(ctx)
	if err != nil {
		return err
	}
	key := b.ref.Key(rel)
	opts := PutOptions{ContentType: ContentTypeFor(key), ACL: acl}
	if err := api.PutObject(ctx, b.ref.name, key, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return opError("put", b.ref.name, key, err)
	}
	b.log.Debug().Str("key", key).Str("acl", acl.String()).Int("bytes", len(body)).Msg("uploaded object")
	return nil
}

// Sync uploads every regular file under dir, mirroring relative paths below
// the prefix. Remote objects missing locally are left alone.
func (b *Bucket) Sync(ctx context.Context, dir string, acl ACL) (SyncResult, error) {
	var res SyncResult
	api, _, err := b.resolve(ctx)
	if err != nil {
		return res, err
	}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := b.ref.Key(filepath.ToSlash(rel))
		n, err := b.uploadFile(ctx, api, p, key, acl)
		if err != nil {
			return err
		}
		res.Keys = append(res.Keys, key)
		res.Bytes += n
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("sync %s to %s: %w", dir, b.ref, err)
	}
	b.log.Info().Int("files", len(res.Keys)).Int64("bytes", res.Bytes).Msg("synced build output")
	return res, nil
}

func (b *Bucket) uploadFile(ctx context.Context, api API, localPath, key string, acl ACL) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	opts := PutOptions{ContentType: detectFileType(localPath, key), ACL: acl}
	if err := api.PutObject(ctx, b.ref.name, key, f, info.Size(), opts); err != nil {
		return 0, opError("put", b.ref.name, key, err)
	}
	b.log.Debug().Str("key", key).Str("content_type", opts.ContentType).Int64("bytes", info.Size()).Msg("uploaded file")
	return info.Size(), nil
}

// URLFor returns a stable, unsigned URL for rel.
func (b *Bucket) URLFor(ctx context.Context, rel string) (string, error) {
	return b.KeyURL(ctx, b.ref.Key(rel))
}

// KeyURL is URLFor for a full object key.
func (b *Bucket) KeyURL(ctx context.Context, key string) (string, error) {
	api, region, err := b.resolve(ctx)
	if err != nil {
		return "", err
	}
	return ObjectURL(api.Endpoint(region), b.ref.name, key), nil
}

// ObjectURL joins a path-style endpoint, bucket and key, escaping each key segment.
func ObjectURL(endpoint, bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		// S3 decodes a literal '+' in the path as a space.
		segs[i] = strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	}
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}
