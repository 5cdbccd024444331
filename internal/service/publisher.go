package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/WhoopInc/mkwheelhouse/internal/artifact"
	"github.com/WhoopInc/mkwheelhouse/internal/builder"
	"github.com/WhoopInc/mkwheelhouse/internal/index"
	"github.com/WhoopInc/mkwheelhouse/internal/notify"
	"github.com/WhoopInc/mkwheelhouse/internal/objectstore"
)

// ErrUsage marks errors caused by invalid invocation or configuration.
var ErrUsage = errors.New("usage")

// State is a step of the publish pipeline.
type State string

const (
	StateInit             State = "init"
	StateResolve          State = "resolve"
	StateCheckIndexExists State = "check-index-exists"
	StateBuild            State = "build"
	StateSync             State = "sync"
	StatePublishIndex     State = "publish-index"
	StateNotify           State = "notify"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

// Request is one publish invocation.
type Request struct {
	// Bucket is "bucket" or "bucket/prefix", optionally with an s3:// scheme.
	Bucket       string
	Packages     []string
	Requirements []string
	Excludes     []string
	PipArgs      []string
	ACL          string
}

// Validate checks the request without touching the network.
func (r Request) Validate() error {
	if _, err := objectstore.ParseRef(r.Bucket); err != nil {
		return fmt.Errorf("%w: bucket: %v", ErrUsage, err)
	}
	if len(r.Packages) == 0 && len(r.Requirements) == 0 {
		return fmt.Errorf("%w: specify at least one requirements file or package", ErrUsage)
	}
	if _, err := objectstore.ParseACL(r.ACL); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := builder.ValidateExcludes(r.Excludes); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

// Result describes a completed publish.
type Result struct {
	IndexURL string
	Uploaded []string
	Wheels   []artifact.Wheel
}

// Builder produces wheels into a fresh directory.
type Builder interface {
	Build(ctx context.Context, spec builder.Spec) (*builder.Output, error)
}

// Publisher runs the build, sync and index pipeline against one store.
type Publisher struct {
	Store    objectstore.API
	Builder  Builder
	Notifier notify.Notifier
	Log      zerolog.Logger

	state State
}

// State reports the step the last Publish reached.
func (p *Publisher) State() State { return p.state }

func (p *Publisher) enter(s State) {
	p.Log.Debug().Str("from", string(p.state)).Str("to", string(s)).Msg("state transition")
	p.state = s
}

// Publish builds the requested wheels, uploads them and regenerates the
// index from the live bucket listing.
func (p *Publisher) Publish(ctx context.Context, req Request) (res Result, err error) {
	p.state = ""
	p.enter(StateInit)
	defer func() {
		if err != nil {
			failed := p.state
			p.enter(StateAborted)
			p.Log.Error().Err(err).Str("state", string(failed)).Msg("publish aborted")
		}
	}()

	if err := req.Validate(); err != nil {
		return res, err
	}
	ref, err := objectstore.ParseRef(req.Bucket)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	acl, err := objectstore.ParseACL(req.ACL)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	bucket := objectstore.NewBucket(p.Store, ref, p.Log)

	p.enter(StateResolve)
	region, err := bucket.Region(ctx)
	if err != nil {
		return res, err
	}
	indexURL, err := bucket.URLFor(ctx, index.Filename)
	if err != nil {
		return res, err
	}
	p.Log.Info().Str("region", region).Str("index", indexURL).Msg("resolved wheelhouse")

	p.enter(StateCheckIndexExists)
	exists, err := bucket.Exists(ctx, index.Filename)
	if err != nil {
		return res, err
	}
	if !exists {
		placeholder, err := index.Render(nil)
		if err != nil {
			return res, err
		}
		if err := bucket.Put(ctx, placeholder, index.Filename, acl); err != nil {
			return res, fmt.Errorf("seed empty index: %w", err)
		}
		p.Log.Info().Msg("seeded empty index")
	}

	p.enter(StateBuild)
	out, err := p.Builder.Build(ctx, builder.Spec{
		Packages:     req.Packages,
		Requirements: req.Requirements,
		FindLinks:    indexURL,
		Excludes:     req.Excludes,
		ExtraArgs:    req.PipArgs,
	})
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := out.Cleanup(); cerr != nil {
			p.Log.Warn().Err(cerr).Str("dir", out.Dir).Msg("remove build dir")
		}
	}()

	p.enter(StateSync)
	synced, err := bucket.Sync(ctx, out.Dir, acl)
	if err != nil {
		return res, err
	}

	p.enter(StatePublishIndex)
	objs, err := bucket.List(ctx)
	if err != nil {
		return res, err
	}
	wheels, err := artifact.FromObjects(objs, ref.Prefix(), func(key string) (string, error) {
		return bucket.KeyURL(ctx, key)
	})
	if err != nil {
		return res, err
	}
	doc, err := index.Render(wheels)
	if err != nil {
		return res, err
	}
	if err := bucket.Put(ctx, doc, index.Filename, acl); err != nil {
		return res, fmt.Errorf("publish index: %w", err)
	}
	res = Result{IndexURL: indexURL, Uploaded: synced.Keys, Wheels: wheels}

	p.enter(StateNotify)
	if p.Notifier != nil {
		names := make([]string, 0, len(wheels))
		for _, w := range wheels {
			names = append(names, w.Filename)
		}
		ev := notify.NewEvent(ref.Name(), ref.Prefix(), indexURL, synced.Keys, names)
		if nerr := p.Notifier.Notify(ctx, ev); nerr != nil {
			p.Log.Warn().Err(nerr).Str("event", ev.ID).Msg("publish notification failed")
		}
	}

	p.enter(StateDone)
	p.Log.Info().Int("uploaded", len(synced.Keys)).Int("indexed", len(wheels)).Msg("wheelhouse published")
	return res, nil
}
