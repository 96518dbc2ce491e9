// Package store adapts the patient document store. Every accepted mutation
// produces exactly one change notification, delivered to subscribers in the
// order the store applied it.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/CJButlers/RXhale/internal/models"
)

// ErrNotFound the document does not exist.
var ErrNotFound = errors.New("document not found")

// PatientSnapshot is one notification of a document subscription.
type PatientSnapshot struct {
	Patient *models.PatientRecord
	Deleted bool
}

// DocumentStore is the contract the pipeline needs from the document store.
type DocumentStore interface {
	CreatePatient(ctx context.Context, rec *models.PatientRecord) (string, error)
	GetPatient(ctx context.Context, id string) (*models.PatientRecord, error)
	ListPatients(ctx context.Context) ([]models.PatientRecord, error)
	// AppendVitals returns the new length of the vitals sequence.
	AppendVitals(ctx context.Context, id string, r models.VitalsReading) (int, error)
	// AppendSymptom returns the new length of the symptoms sequence.
	AppendSymptom(ctx context.Context, id string, s models.SymptomLog) (int, error)
	UpdateNotes(ctx context.Context, id string, notes string) error
	// SubscribePatient delivers the current document first, then one snapshot per change.
	SubscribePatient(ctx context.Context, id string) (*Subscription[PatientSnapshot], error)
	// SubscribeCollection delivers the full roster ordered by last name, then again on every change.
	SubscribeCollection(ctx context.Context) (*Subscription[[]models.PatientRecord], error)
}

// Subscription is a cancellable stream of store notifications.
// C is closed when the stream ends; Err then tells a clean Close (nil) from a failure.
type Subscription[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()

	mu  sync.Mutex
	err error
}

func newSubscription[T any](buffer int, onClose func()) *Subscription[T] {
	return &Subscription[T]{
		ch:      make(chan T, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// C returns the notification channel.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Err returns the failure that ended the stream, or nil.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Subscription[T]) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// send blocks until the subscriber takes v or the subscription is closed.
func (s *Subscription[T]) send(v T) bool {
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// finish must be called exactly once by the producing goroutine.
func (s *Subscription[T]) finish(err error) {
	if s.closed() {
		err = nil
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// SortPatients orders by last name, then id.
func SortPatients(patients []models.PatientRecord) {
	sort.SliceStable(patients, func(i, j int) bool {
		if patients[i].LastName != patients[j].LastName {
			return patients[i].LastName < patients[j].LastName
		}
		return patients[i].ID < patients[j].ID
	})
}
