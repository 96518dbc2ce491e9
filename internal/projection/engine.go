// Package projection maintains live derived views of patient records: a
// bounded window of recent readings with the patient's status, and the roster
// of all patients.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/store"

	"go.uber.org/zap"
)

// Options tunes the engine. Zero values take defaults.
type Options struct {
	WindowSize   int
	Buffer       int
	StoreTimeout time.Duration
}

// Engine turns store subscriptions into view subscriptions. Each subscription
// runs in its own goroutine and applies snapshots in store order.
type Engine struct {
	store   store.DocumentStore
	window  int
	buffer  int
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine creates an engine over st.
func NewEngine(st store.DocumentStore, opts Options, logger *zap.Logger) *Engine {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		store:   st,
		window:  opts.WindowSize,
		buffer:  opts.Buffer,
		timeout: opts.StoreTimeout,
		logger:  logger,
	}
}

// WindowSize returns the configured window length.
func (e *Engine) WindowSize() int { return e.window }

// Snapshot reads one patient and projects it without subscribing.
func (e *Engine) Snapshot(ctx context.Context, patientID string) (*models.PatientRecord, ProjectedView, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rec, err := e.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, ProjectedView{}, mapStoreError(patientID, err)
	}
	return rec, Project(rec, e.window), nil
}

// Roster reads the roster once.
func (e *Engine) Roster(ctx context.Context) ([]RosterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	recs, err := e.store.ListPatients(ctx)
	if err != nil {
		return nil, mapStoreError("", err)
	}
	return BuildRoster(recs), nil
}

// Subscribe streams the projected view of one patient: the current state
// first, then one view per store change. It ends on Unsubscribe, on ctx
// cancellation, or with ErrSubscriptionLost when the store stream fails.
func (e *Engine) Subscribe(ctx context.Context, patientID string) (*ViewSubscription, error) {
	lifetime, cancel := context.WithCancel(ctx)
	src, err := subscribeBounded(lifetime, cancel, e.timeout, func() (*store.Subscription[store.PatientSnapshot], error) {
		return e.store.SubscribePatient(lifetime, patientID)
	})
	if err != nil {
		return nil, mapStoreError(patientID, err)
	}

	sub := newSubscription[ProjectedView](e.buffer)
	go run(lifetime, cancel, sub, src, func(snap store.PatientSnapshot) (ProjectedView, error) {
		if snap.Deleted || snap.Patient == nil {
			return ProjectedView{}, fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
		}
		return Project(snap.Patient, e.window), nil
	}, e.logger.With(zap.String("patient_id", patientID)))
	return sub, nil
}

// SubscribeRoster streams the full roster, re-emitted on every change.
func (e *Engine) SubscribeRoster(ctx context.Context) (*RosterSubscription, error) {
	lifetime, cancel := context.WithCancel(ctx)
	src, err := subscribeBounded(lifetime, cancel, e.timeout, func() (*store.Subscription[[]models.PatientRecord], error) {
		return e.store.SubscribeCollection(lifetime)
	})
	if err != nil {
		return nil, mapStoreError("", err)
	}

	sub := newSubscription[[]RosterEntry](e.buffer)
	go run(lifetime, cancel, sub, src, func(recs []models.PatientRecord) ([]RosterEntry, error) {
		return BuildRoster(recs), nil
	}, e.logger.With(zap.String("subscription", "roster")))
	return sub, nil
}

// subscribeBounded opens a store subscription whose lifetime is ctx while
// bounding only the opening call by timeout.
func subscribeBounded[S any](ctx context.Context, cancel context.CancelFunc, timeout time.Duration, open func() (*store.Subscription[S], error)) (*store.Subscription[S], error) {
	type result struct {
		sub *store.Subscription[S]
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sub, err := open()
		ch <- result{sub, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			cancel()
		}
		return r.sub, r.err
	case <-timer.C:
		cancel()
		go func() {
			if r := <-ch; r.sub != nil {
				r.sub.Close()
			}
		}()
		return nil, fmt.Errorf("subscribe timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
}

// run is the subscription's mutation queue: every snapshot is projected and
// delivered here, in the order the store produced it.
func run[S, V any](ctx context.Context, cancel context.CancelFunc, sub *Subscription[V], src *store.Subscription[S], project func(S) (V, error), logger *zap.Logger) {
	defer cancel()
	defer src.Close()

	for {
		select {
		case <-sub.done:
			sub.finish(nil)
			return
		case snap, ok := <-src.C():
			if !ok {
				if ctx.Err() != nil && src.Err() == nil {
					sub.finish(nil)
					return
				}
				cause := src.Err()
				if cause == nil {
					cause = errors.New("store stream closed")
				}
				logger.Warn("Subscription lost", zap.Error(cause))
				sub.finish(fmt.Errorf("%w: %w", models.ErrSubscriptionLost, cause))
				return
			}
			view, err := project(snap)
			if err != nil {
				logger.Warn("Subscription lost", zap.Error(err))
				sub.finish(fmt.Errorf("%w: %w", models.ErrSubscriptionLost, err))
				return
			}
			if !sub.deliver(view) {
				sub.finish(nil)
				return
			}
		}
	}
}

func mapStoreError(patientID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
}
