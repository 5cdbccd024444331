package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// StoredObject is an object held by MemoryBackend.
type StoredObject struct {
	Data        []byte
	ContentType string
	ACL         ACL
}

// MemoryBackend is a thread-safe in-process store useful for tests.
// Listings are lexicographic, like S3.
type MemoryBackend struct {
	mu        sync.RWMutex
	buckets   map[string]map[string]StoredObject
	locations map[string]string
	endpoint  string

	LocationCalls int
	Puts          []string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets:   make(map[string]map[string]StoredObject),
		locations: make(map[string]string),
	}
}

// AddBucket creates a bucket with the given raw location constraint.
func (m *MemoryBackend) AddBucket(name, constraint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string]StoredObject)
	}
	m.locations[name] = constraint
}

// SetEndpoint overrides the AWS endpoint used for object URLs.
func (m *MemoryBackend) SetEndpoint(endpoint string) {
	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()
}

// Object returns a stored object.
func (m *MemoryBackend) Object(bucket, key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	return obj, ok
}

// Keys returns every key in bucket, sorted.
func (m *MemoryBackend) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryBackend) bucket(name string) (map[string]StoredObject, error) {
	b, ok := m.buckets[name]
	if !ok {
		return nil, markNotFound(fmt.Errorf("bucket %s does not exist", name))
	}
	return b, nil
}

func (m *MemoryBackend) BucketLocation(_ context.Context, bucket string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocationCalls++
	if _, err := m.bucket(bucket); err != nil {
		return "", err
	}
	return m.locations[bucket], nil
}

func (m *MemoryBackend) ListObjects(_ context.Context, bucket, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	var objs []Object
	for key, obj := range b {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		sum := md5.Sum(obj.Data)
		objs = append(objs, Object{Key: key, Size: int64(len(obj.Data)), ETag: hex.EncodeToString(sum[:])})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

func (m *MemoryBackend) ObjectExists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.bucket(bucket)
	if err != nil {
		return false, err
	}
	_, ok := b[key]
	return ok, nil
}

func (m *MemoryBackend) PutObject(_ context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("short body for %s: got %d bytes, want %d", key, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b[key] = StoredObject{Data: data, ContentType: opts.ContentType, ACL: opts.ACL}
	m.Puts = append(m.Puts, key)
	return nil
}

func (m *MemoryBackend) Endpoint(region string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.endpoint != "" {
		return m.endpoint
	}
	return AWSEndpoint(region)
}

// Touch stores an empty object, for seeding listings.
func (m *MemoryBackend) Touch(bucket string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]StoredObject)
		m.buckets[bucket] = b
	}
	for _, k := range keys {
		b[k] = StoredObject{}
	}
}
