package objectstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested object or bucket does not exist.
	ErrNotFound = errors.New("objectstore: not found")
	// ErrInvalidInput indicates a malformed bucket reference, key or option.
	ErrInvalidInput = errors.New("objectstore: invalid input")
)

// Error records a failed store operation with its bucket and key.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Key != "":
		return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s s3://%s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// notFound keeps the backend's message while matching ErrNotFound.
type notFound struct{ err error }

func (e notFound) Error() string        { return e.err.Error() }
func (e notFound) Unwrap() error        { return e.err }
func (e notFound) Is(target error) bool { return target == ErrNotFound }

func markNotFound(err error) error { return notFound{err: err} }
