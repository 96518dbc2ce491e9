package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. Used when no Redis is configured
// and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]*models.PatientRecord
	patients map[*mailbox[PatientSnapshot]]string
	rosters  map[*mailbox[[]models.PatientRecord]]struct{}
	now      func() time.Time
	buffer   int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*models.PatientRecord),
		patients: make(map[*mailbox[PatientSnapshot]]string),
		rosters:  make(map[*mailbox[[]models.PatientRecord]]struct{}),
		now:      time.Now,
		buffer:   16,
	}
}

// mailbox queues notifications for one subscriber so writers never block.
type mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func pump[T any](ctx context.Context, sub *Subscription[T], mb *mailbox[T]) {
	defer sub.finish(nil)
	defer sub.Close()
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case <-mb.notify:
		}
		for _, v := range mb.drain() {
			if !sub.send(v) {
				return
			}
		}
	}
}

// CreatePatient stores rec under a new id.
func (s *MemoryStore) CreatePatient(ctx context.Context, rec *models.PatientRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc := rec.Clone()
	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.notifyLocked(doc.ID)
	return doc.ID, nil
}

// GetPatient returns a copy of the document.
func (s *MemoryStore) GetPatient(ctx context.Context, id string) (*models.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

// ListPatients returns copies ordered by last name.
func (s *MemoryStore) ListPatients(ctx context.Context) ([]models.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked(), nil
}

// AppendVitals appends r and notifies subscribers before returning.
func (s *MemoryStore) AppendVitals(ctx context.Context, id string, r models.VitalsReading) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return 0, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	doc.Vitals = append(doc.Vitals, r)
	s.notifyLocked(id)
	return len(doc.Vitals), nil
}

// AppendSymptom appends a symptom log.
func (s *MemoryStore) AppendSymptom(ctx context.Context, id string, l models.SymptomLog) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return 0, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	doc.Symptoms = append(doc.Symptoms, l)
	s.notifyLocked(id)
	return len(doc.Symptoms), nil
}

// UpdateNotes replaces the notes field.
func (s *MemoryStore) UpdateNotes(ctx context.Context, id string, notes string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	doc.Notes = notes
	s.notifyLocked(id)
	return nil
}

// SubscribePatient streams snapshots of one document.
func (s *MemoryStore) SubscribePatient(ctx context.Context, id string) (*Subscription[PatientSnapshot], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}

	mb := newMailbox[PatientSnapshot]()
	sub := newSubscription[PatientSnapshot](s.buffer, func() {
		s.mu.Lock()
		delete(s.patients, mb)
		s.mu.Unlock()
	})
	s.patients[mb] = id
	mb.put(PatientSnapshot{Patient: doc.Clone()})

	go pump(ctx, sub, mb)
	return sub, nil
}

// SubscribeCollection streams the whole roster.
func (s *MemoryStore) SubscribeCollection(ctx context.Context) (*Subscription[[]models.PatientRecord], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mb := newMailbox[[]models.PatientRecord]()
	sub := newSubscription[[]models.PatientRecord](s.buffer, func() {
		s.mu.Lock()
		delete(s.rosters, mb)
		s.mu.Unlock()
	})
	s.rosters[mb] = struct{}{}
	mb.put(s.rosterLocked())

	go pump(ctx, sub, mb)
	return sub, nil
}

func (s *MemoryStore) rosterLocked() []models.PatientRecord {
	out := make([]models.PatientRecord, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, *doc.Clone())
	}
	SortPatients(out)
	return out
}

// notifyLocked fans one change out to every interested subscriber.
func (s *MemoryStore) notifyLocked(id string) {
	doc := s.docs[id]
	for mb, watched := range s.patients {
		if watched == id {
			mb.put(PatientSnapshot{Patient: doc.Clone()})
		}
	}
	if len(s.rosters) == 0 {
		return
	}
	roster := s.rosterLocked()
	for mb := range s.rosters {
		// each subscriber gets its own copy
		cp := make([]models.PatientRecord, len(roster))
		for i := range roster {
			cp[i] = *roster[i].Clone()
		}
		mb.put(cp)
	}
}
