package producer

import (
	"context"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"go.uber.org/zap"
)

// Sink delivers a reading to the pipeline.
type Sink interface {
	Send(ctx context.Context, patientID string, r models.VitalsReading) error
}

// Runner drives a Producer for a set of patients on a fixed interval.
type Runner struct {
	producer   Producer
	sink       Sink
	patientIDs []string
	interval   time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner. interval <= 0 uses DefaultInterval.
func NewRunner(p Producer, sink Sink, patientIDs []string, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		producer:   p,
		sink:       sink,
		patientIDs: patientIDs,
		interval:   interval,
		logger:     logger,
	}
}

// Start ticks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Producer runner started",
		zap.Int("patients", len(r.patientIDs)),
		zap.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Producer runner stopped")
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick sends one reading per patient and returns how many were delivered.
// Failures are logged; the next tick carries on.
func (r *Runner) Tick(ctx context.Context) int {
	sent := 0
	for _, id := range r.patientIDs {
		reading, err := r.producer.GenerateReading(ctx)
		if err != nil {
			r.logger.Error("Failed to generate reading", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		if err := r.sink.Send(ctx, id, reading); err != nil {
			r.logger.Warn("Failed to send reading", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
