package eventflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

var errNilStoreRecord = errors.New("stored record has no envelope")

// load reads and decodes a stored envelope.
func (c *Chain) load(ctx context.Context, envelopeID string) (*checkpoint.Record, *event.Envelope, error) {
	if c.opts.store == nil {
		return nil, nil, ErrNoStore
	}
	rec, err := c.opts.store.Load(ctx, envelopeID)
	if err != nil {
		return nil, nil, fmt.Errorf("load envelope %s: %w", envelopeID, err)
	}
	if len(rec.Envelope) == 0 {
		return rec, nil, fmt.Errorf("load envelope %s: %w", envelopeID, errNilStoreRecord)
	}
	env, err := event.DecodeEnvelope(rec.Envelope, c.opts.kinds)
	if err != nil {
		return rec, nil, fmt.Errorf("decode envelope %s: %w", envelopeID, err)
	}
	return rec, env, nil
}

// saveState writes env with the given state, keeping the attempt count and
// creation time of an existing record.
func (c *Chain) saveState(ctx context.Context, env *event.Envelope, state checkpoint.State, cursor *int, errMsg string) error {
	return c.update(ctx, env, func(rec *checkpoint.Record) {
		rec.State = state
		rec.Cursor = cursor
		rec.Error = errMsg
	})
}

func (c *Chain) markRunning(ctx context.Context, env *event.Envelope) error {
	return c.update(ctx, env, func(rec *checkpoint.Record) {
		rec.State = checkpoint.StateRunning
		rec.Attempts++
	})
}

func (c *Chain) update(ctx context.Context, env *event.Envelope, mutate func(*checkpoint.Record)) error {
	if c.opts.store == nil {
		return ErrNoStore
	}
	id := env.EnsureID()

	data, err := env.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", id, err)
	}

	return backoff.Retry(func() error {
		rec, err := c.opts.store.Load(ctx, id)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			rec = &checkpoint.Record{EnvelopeID: id}
		case errors.Is(err, checkpoint.ErrStoreClosed):
			return backoff.Permanent(err)
		case err != nil:
			return err
		}

		rec.RootID = env.RootID()
		rec.ParentID = env.ParentID()
		rec.Kind = env.Kind()
		rec.EventType = env.Type()
		rec.Priority = env.Priority()
		rec.Envelope = data
		mutate(rec)

		err = c.opts.store.Save(ctx, rec)
		if errors.Is(err, checkpoint.ErrStoreClosed) || errors.Is(err, checkpoint.ErrInvalidRecord) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.opts.newBackOff(), ctx))
}
