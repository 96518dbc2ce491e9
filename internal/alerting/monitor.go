// Package alerting watches the roster and raises an alert event whenever a
// patient moves from stable to critical.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	commonredis "github.com/CJButlers/RXhale/common/redis"
	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultStream receives every alert event when a Redis client is configured.
const DefaultStream = "rxhale:alerts"

// RosterSource opens roster subscriptions.
type RosterSource interface {
	SubscribeRoster(ctx context.Context) (*projection.RosterSubscription, error)
}

// Recorder persists alert events.
type Recorder interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// Notifier delivers alert events outside the process.
type Notifier interface {
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// Monitor tracks the last known status of every patient.
type Monitor struct {
	source      RosterSource
	builder     *AlertEventBuilder
	recorder    Recorder
	notifier    Notifier
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger

	mu       sync.Mutex
	last     map[string]models.PatientStatus
	baseline bool
}

// MonitorOption configures optional sinks.
type MonitorOption func(*Monitor)

// WithRecorder persists every alert.
func WithRecorder(r Recorder) MonitorOption {
	return func(m *Monitor) { m.recorder = r }
}

// WithNotifier forwards every alert.
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) { m.notifier = n }
}

// WithStream publishes every alert to a Redis stream.
func WithStream(client *redis.Client, stream string) MonitorOption {
	return func(m *Monitor) {
		m.redisClient = client
		if stream == "" {
			stream = DefaultStream
		}
		m.stream = stream
	}
}

// NewMonitor creates a monitor over source.
func NewMonitor(source RosterSource, builder *AlertEventBuilder, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		source:  source,
		builder: builder,
		logger:  logger,
		last:    make(map[string]models.PatientStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start follows the roster until ctx is cancelled, resubscribing with
// exponential backoff when the subscription is lost.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("Alert monitor started")

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			m.logger.Info("Alert monitor stopped")
			return nil
		}

		err := m.follow(ctx)
		if err == nil {
			backoffDuration = time.Second
			continue
		}

		m.logger.Error("Roster subscription failed",
			zap.Error(err),
			zap.Duration("backoff", backoffDuration),
		)
		select {
		case <-ctx.Done():
			m.logger.Info("Alert monitor stopped")
			return nil
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
		}
	}
}

func (m *Monitor) follow(ctx context.Context) error {
	sub, err := m.source.SubscribeRoster(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to roster: %w", err)
	}
	defer sub.Unsubscribe()

	for roster := range sub.Views() {
		m.Observe(ctx, roster)
	}
	return sub.Err()
}

type transition struct {
	entry    projection.RosterEntry
	previous models.PatientStatus
}

// Observe compares roster with the last known statuses and raises one alert
// per stable→critical transition. The first roster only records a baseline.
// Patients first seen after the baseline count as previously stable.
func (m *Monitor) Observe(ctx context.Context, roster []projection.RosterEntry) []*models.AlertEvent {
	m.mu.Lock()
	var transitions []transition
	for _, e := range roster {
		prev, known := m.last[e.PatientID]
		if !known {
			prev = models.StatusStable
		}
		m.last[e.PatientID] = e.Status
		if m.baseline && prev == models.StatusStable && e.Status == models.StatusCritical {
			transitions = append(transitions, transition{entry: e, previous: prev})
		}
	}
	m.baseline = true
	m.mu.Unlock()

	events := make([]*models.AlertEvent, 0, len(transitions))
	for _, tr := range transitions {
		event, err := m.builder.BuildAlertEvent(tr.entry, tr.previous)
		if err != nil {
			m.logger.Error("Failed to build alert event", zap.String("patient_id", tr.entry.PatientID), zap.Error(err))
			continue
		}
		m.dispatch(ctx, event)
		events = append(events, event)
	}
	return events
}

// dispatch hands event to every configured sink. Sink failures are logged
// and never block the others.
func (m *Monitor) dispatch(ctx context.Context, event *models.AlertEvent) {
	m.logger.Warn("Patient became critical",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", event.PatientID),
		zap.Any("spo2", event.SpO2),
	)

	if m.recorder != nil {
		if err := m.recorder.CreateAlertEvent(ctx, event); err != nil {
			m.logger.Error("Failed to record alert event", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, event); err != nil {
			m.logger.Error("Failed to notify alert event", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}
	if m.redisClient != nil {
		if _, err := commonredis.PublishJSONToStream(ctx, m.redisClient, m.stream, event); err != nil {
			m.logger.Error("Failed to publish alert event",
				zap.String("stream", m.stream),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}
}
