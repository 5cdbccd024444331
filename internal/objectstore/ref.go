package objectstore

import (
	"fmt"
	"strings"
)

const scheme = "s3://"

// Ref identifies a wheelhouse location: a bucket and an optional key prefix.
// The prefix is normalized once at construction and never carries leading,
// trailing or doubled slashes.
type Ref struct {
	name   string
	prefix string
}

// ParseRef parses "bucket[/prefix]", optionally preceded by "s3://".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
		s = s[len(scheme):]
	}
	name, prefix, _ := strings.Cut(s, "/")
	return NewRef(name, prefix)
}

// NewRef builds a Ref from a bucket name and a prefix in any slash form.
func NewRef(name, prefix string) (Ref, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Ref{}, fmt.Errorf("%w: bucket name is empty", ErrInvalidInput)
	}
	if strings.ContainsAny(name, "/ ") {
		return Ref{}, fmt.Errorf("%w: bad bucket name %q", ErrInvalidInput, name)
	}
	return Ref{name: name, prefix: cleanPrefix(prefix)}, nil
}

func cleanPrefix(p string) string {
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

func (r Ref) Name() string   { return r.name }
func (r Ref) Prefix() string { return r.prefix }

// Key returns the full object key for a path relative to the prefix.
func (r Ref) Key(rel string) string {
	rel = strings.TrimLeft(rel, "/")
	if r.prefix == "" {
		return rel
	}
	return r.prefix + "/" + rel
}

// ListPrefix is the listing prefix for the wheelhouse ("prefix/" or "").
func (r Ref) ListPrefix() string {
	if r.prefix == "" {
		return ""
	}
	return r.prefix + "/"
}

func (r Ref) String() string {
	if r.prefix == "" {
		return scheme + r.name
	}
	return scheme + r.name + "/" + r.prefix
}
