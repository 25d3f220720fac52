// Package bot hosts a party's reactor: it feeds ledger snapshots to the
// reactor and submits the batches it returns.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("bot is not running")

// Reactor is the per-party logic. Process is called from a single goroutine
// with the party's snapshot, minus contracts still pending from earlier
// batches, and returns the batches to submit. An error stops the bot.
type Reactor interface {
	Party() string
	Templates() []contract.TemplateID
	Process(ctx context.Context, snap contract.Snapshot) ([]command.Batch, error)
}

// Ledger is the subset of the ledger a bot needs.
type Ledger interface {
	Snapshot(ctx context.Context, party string, templates []contract.TemplateID) (contract.Snapshot, error)
	Submit(ctx context.Context, batch command.Batch) (*ledger.Transaction, error)
	Subscribe() (<-chan int64, func())
}

// ControlFunc runs inside the bot loop against a fresh snapshot.
type ControlFunc func(ctx context.Context, snap contract.Snapshot) ([]command.Batch, error)

// Controller runs control functions inside a bot loop. Runner implements it.
type Controller interface {
	Do(ctx context.Context, fn ControlFunc) error
}

type call struct {
	fn   ControlFunc
	done chan error
}

type Runner struct {
	ledger       Ledger
	reactor      Reactor
	pollInterval time.Duration
	metrics      *Metrics
	logger       zerolog.Logger

	pending command.PendingSet
	calls   chan call
	stopped chan struct{}
}

type Option func(*Runner)

// WithPollInterval sets how often the bot re-reads the ledger without a
// change notification. Bots sharing a store across processes rely on it.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(l Ledger, reactor Reactor, opts ...Option) *Runner {
	r := &Runner{
		ledger:       l,
		reactor:      reactor,
		pollInterval: time.Second,
		logger:       log.With().Str("component", "bot").Str("party", reactor.Party()).Logger(),
		pending:      command.PendingSet{},
		calls:        make(chan call),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Party() string {
	return r.reactor.Party()
}

// Run drives the reactor until ctx is cancelled or the reactor fails. Each
// wake-up, from a ledger notification, the poll ticker or a control call, is
// handled to completion before the next one.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	updates, unsubscribe := r.ledger.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info().Dur("poll_interval", r.pollInterval).Msg("starting bot")

	if err := r.cycle(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutting down bot")
			return nil
		case <-updates:
			if err := r.cycle(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := r.cycle(ctx); err != nil {
				return err
			}
		case c := <-r.calls:
			err := r.control(ctx, c.fn)
			c.done <- err
			if errors.Is(err, contract.ErrDecode) {
				return err
			}
		}
	}
}

// Do runs fn inside the bot loop, so it observes and mutates reactor state
// without racing Process. Batches returned by fn are submitted like any
// others.
func (r *Runner) Do(ctx context.Context, fn ControlFunc) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case r.calls <- c:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) cycle(ctx context.Context) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		if errors.Is(err, contract.ErrDecode) {
			return fmt.Errorf("%s: %w", r.Party(), err)
		}
		if ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("failed to read snapshot")
		}
		return nil
	}

	batches, err := r.reactor.Process(ctx, snap)
	if err != nil {
		r.logger.Error().Err(err).Msg("reactor failed")
		return fmt.Errorf("%s: %w", r.Party(), err)
	}
	r.metrics.ObserveCycle(r.Party())
	r.submit(ctx, batches)
	return nil
}

func (r *Runner) control(ctx context.Context, fn ControlFunc) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	batches, err := fn(ctx, snap)
	if err != nil {
		return err
	}
	r.submit(ctx, batches)
	return nil
}

// snapshot reads the party's view and hides contracts still pending. Pending
// ids no longer present in the ledger have been consumed and are dropped.
func (r *Runner) snapshot(ctx context.Context) (contract.Snapshot, error) {
	snap, err := r.ledger.Snapshot(ctx, r.Party(), r.reactor.Templates())
	if err != nil {
		return contract.Snapshot{}, err
	}
	for t, ids := range r.pending {
		for id := range ids {
			if !snap.Contains(t, id) {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(r.pending, t)
		}
	}
	return snap.Without(r.pending.Hidden()), nil
}

// submit sends batches one at a time and waits for each. A rejected batch
// releases its pending ids so the next cycle can re-derive it.
func (r *Runner) submit(ctx context.Context, batches []command.Batch) {
	for _, b := range batches {
		if b.Empty() {
			continue
		}
		r.pending.Merge(b.Pending)

		tx, err := r.ledger.Submit(ctx, b)
		if err != nil {
			r.pending.Remove(b.Pending)
			r.metrics.ObserveRejected(r.Party(), b.Workflow)
			r.logger.Warn().
				Err(err).
				Str("workflow_id", b.WorkflowID).
				Int("commands", len(b.Commands)).
				Msg("batch rejected")
			continue
		}

		r.metrics.ObserveSubmitted(r.Party(), b.Workflow)
		r.logger.Debug().
			Str("workflow_id", b.WorkflowID).
			Int64("offset", tx.Offset).
			Int("commands", len(b.Commands)).
			Msg("batch accepted")
	}
}
