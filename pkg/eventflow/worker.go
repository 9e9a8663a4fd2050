package eventflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"golang.org/x/sync/errgroup"
)

// Worker executes QUEUED envelopes in the background.
//
// Each poll lists up to BatchSize records, highest priority first, and runs
// them with at most Concurrency in flight. An envelope's own chain is
// sequential; envelopes of one batch run in no particular order.
type Worker struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewWorker creates a worker for d, sized from settings. Zero settings
// fall back to config.Defaults.
func NewWorker(d *Dispatcher, settings config.DispatcherSettings) *Worker {
	defaults := config.Defaults().Dispatcher
	w := &Worker{
		Concurrency:  settings.Workers,
		PollInterval: settings.PollInterval,
		BatchSize:    settings.BatchSize,
		dispatcher:   d,
		logger:       d.opts.logger,
	}
	if w.Concurrency <= 0 {
		w.Concurrency = defaults.Workers
	}
	if w.PollInterval <= 0 {
		w.PollInterval = defaults.PollInterval
	}
	if w.BatchSize <= 0 {
		w.BatchSize = defaults.BatchSize
	}
	return w
}

// Run polls until ctx is done. It returns nil on cancellation and the
// store error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	if w.dispatcher.opts.store == nil {
		return ErrNoStore
	}

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		// Keep polling without waiting while batches come back full of
		// envelopes not yet attempted in this round.
		seen := make(map[string]struct{})
		for {
			n, fresh, err := w.poll(ctx, seen)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if n < w.BatchSize || fresh == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain processes batches until no QUEUED envelope is left and returns the
// number of envelopes attempted. Each envelope is attempted at most once, so
// envelopes that stay QUEUED after a failed attempt do not keep Drain busy.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	if w.dispatcher.opts.store == nil {
		return 0, ErrNoStore
	}
	seen := make(map[string]struct{})
	total := 0
	for {
		_, fresh, err := w.poll(ctx, seen)
		total += fresh
		if err != nil || fresh == 0 {
			return total, err
		}
	}
}

// poll lists one batch and executes the envelopes missing from seen. It
// returns the batch size and how many envelopes it executed.
func (w *Worker) poll(ctx context.Context, seen map[string]struct{}) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	recs, err := w.dispatcher.opts.store.List(ctx, checkpoint.Filter{
		States: []checkpoint.State{checkpoint.StateQueued},
		Limit:  w.BatchSize,
	})
	if err != nil {
		return 0, 0, err
	}

	var g errgroup.Group
	g.SetLimit(w.Concurrency)
	fresh := 0
	for _, rec := range recs {
		if _, ok := seen[rec.EnvelopeID]; ok {
			continue
		}
		seen[rec.EnvelopeID] = struct{}{}
		fresh++
		g.Go(func() error {
			if _, err := w.dispatcher.ExecuteQueued(ctx, rec.EnvelopeID); err != nil {
				var chainErr *ChainError
				if !errors.As(err, &chainErr) {
					w.logger.Warn("queued envelope not executed", "envelope_id", rec.EnvelopeID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(recs), fresh, ctx.Err()
}
