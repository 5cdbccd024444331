// Package notify announces published wheelhouses to downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event describes one completed publish.
type Event struct {
	ID          string    `json:"id"`
	Bucket      string    `json:"bucket"`
	Prefix      string    `json:"prefix"`
	IndexURL    string    `json:"index_url"`
	Uploaded    []string  `json:"uploaded"`
	Wheels      []string  `json:"wheels"`
	PublishedAt time.Time `json:"published_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(bucket, prefix, indexURL string, uploaded, wheels []string) Event {
	return Event{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		Prefix:      prefix,
		IndexURL:    indexURL,
		Uploaded:    uploaded,
		Wheels:      wheels,
		PublishedAt: time.Now().UTC(),
	}
}

// Notifier delivers publish events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Null drops every event.
type Null struct{}

func (Null) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
