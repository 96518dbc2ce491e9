// Package producer defines the device contract and a simulated device that
// emits random readings on a fixed cadence.
package producer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/CJButlers/RXhale/internal/models"
)

// DefaultInterval is the simulated device cadence.
const DefaultInterval = 3 * time.Second

// Simulated ranges, inclusive.
const (
	MinSimSpO2 = 88
	MaxSimSpO2 = 100
	MinSimBPM  = 65
	MaxSimBPM  = 110
)

// Producer emits one reading per call.
type Producer interface {
	GenerateReading(ctx context.Context) (models.VitalsReading, error)
}

// RandomProducer draws SpO2 and BPM uniformly from the simulated ranges.
// Safe for concurrent use.
type RandomProducer struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewRandomProducer creates a producer over rng. now may be nil.
func NewRandomProducer(rng *rand.Rand, now func() time.Time) *RandomProducer {
	if now == nil {
		now = time.Now
	}
	return &RandomProducer{rng: rng, now: now}
}

// GenerateReading returns a reading stamped with the producer clock.
func (p *RandomProducer) GenerateReading(ctx context.Context) (models.VitalsReading, error) {
	if err := ctx.Err(); err != nil {
		return models.VitalsReading{}, err
	}

	p.mu.Lock()
	spo2 := MinSimSpO2 + p.rng.Intn(MaxSimSpO2-MinSimSpO2+1)
	bpm := MinSimBPM + p.rng.Intn(MaxSimBPM-MinSimBPM+1)
	p.mu.Unlock()

	status := models.ReadingNormal
	return models.VitalsReading{
		Timestamp: p.now().UTC(),
		SpO2:      spo2,
		BPM:       bpm,
		Status:    &status,
	}, nil
}
