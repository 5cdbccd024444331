package service

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/WhoopInc/mkwheelhouse/internal/builder"
	"github.com/WhoopInc/mkwheelhouse/internal/runner"
)

// NewPublisher wires the configured store, build driver and notifiers. The
// returned close func releases notifier connections.
func NewPublisher(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := cfg.NewBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	notifier, closeNotifier, err := cfg.Notifier()
	if err != nil {
		return nil, nil, fmt.Errorf("notifiers: %w", err)
	}
	driver := &builder.Driver{
		Runner:  &runner.ExecRunner{Output: os.Stderr},
		Pip:     cfg.Pip,
		WorkDir: cfg.WorkDir,
		Log:     log.With().Str("component", "builder").Logger(),
	}
	return &Publisher{
		Store:    store,
		Builder:  driver,
		Notifier: notifier,
		Log:      log,
	}, closeNotifier, nil
}

// Run validates req, then publishes it with the configured backend.
// Configured exclusions are applied ahead of the request's own.
func Run(ctx context.Context, cfg Config, req Request, log zerolog.Logger) (Result, error) {
	if req.ACL == "" {
		req.ACL = cfg.ACL
	}
	req.Excludes = append(append([]string{}, cfg.Exclude...), req.Excludes...)
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	p, closeNotifier, err := NewPublisher(ctx, cfg, log)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := closeNotifier(); cerr != nil {
			log.Warn().Err(cerr).Msg("close notifiers")
		}
	}()
	return p.Publish(ctx, req)
}
