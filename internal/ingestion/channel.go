// Package ingestion accepts vitals readings for a patient and appends them to
// the document store.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/store"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one append when none is configured.
const DefaultTimeout = 5 * time.Second

// Receipt acknowledges an accepted reading.
type Receipt struct {
	PatientID  string    `json:"patientId"`
	Sequence   int       `json:"sequence"` // 1-based position in the patient's vitals
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Channel validates readings and appends them. It never retries.
type Channel struct {
	store   store.DocumentStore
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewChannel creates an ingestion channel over st.
func NewChannel(st store.DocumentStore, timeout time.Duration, logger *zap.Logger) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{
		store:   st,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the clock used to stamp readings.
func (c *Channel) SetClock(now func() time.Time) {
	c.now = now
}

// Submit validates reading and appends it to the patient's vitals. It returns
// once the append is visible to new subscribers. A zero timestamp is replaced
// by the channel clock.
func (c *Channel) Submit(ctx context.Context, patientID string, reading models.VitalsReading) (Receipt, error) {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = c.now()
	}
	reading.Timestamp = reading.Timestamp.UTC()

	if err := reading.Validate(); err != nil {
		return Receipt{}, err
	}
	if patientID == "" {
		return Receipt{}, fmt.Errorf("empty patient id: %w", models.ErrUnknownPatient)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.store.AppendVitals(ctx, patientID, reading)
	if err != nil {
		return Receipt{}, c.mapError(patientID, err)
	}

	receipt := Receipt{PatientID: patientID, Sequence: n, AcceptedAt: c.now().UTC()}
	c.logger.Debug("Reading accepted",
		zap.String("patient_id", patientID),
		zap.Int("sequence", n),
		zap.Int("spo2", reading.SpO2),
		zap.Int("bpm", reading.BPM),
	)
	return receipt, nil
}

// SubmitPayload converts a wire payload and submits it.
func (c *Channel) SubmitPayload(ctx context.Context, patientID string, payload models.ReadingPayload) (Receipt, error) {
	reading, err := payload.ToReading(c.now())
	if err != nil {
		return Receipt{}, err
	}
	return c.Submit(ctx, patientID, reading)
}

func (c *Channel) mapError(patientID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
	}
	c.logger.Error("Failed to append reading",
		zap.String("patient_id", patientID),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
