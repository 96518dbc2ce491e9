package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"
	"github.com/CJButlers/RXhale/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []*models.AlertEvent
}

func (f *fakeRecorder) CreateAlertEvent(_ context.Context, e *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) Notify(context.Context, *models.AlertEvent) error {
	f.calls++
	return nil
}

func entry(id string, status models.PatientStatus, spo2 int) projection.RosterEntry {
	return projection.RosterEntry{PatientID: id, FirstName: "Ada", LastName: "Lovelace", PHN: "9001", LatestSpO2: &spo2, Status: status}
}

func TestBuildAlertEvent(t *testing.T) {
	b := NewAlertEventBuilder("rxhale-monitor")
	event, err := b.BuildAlertEvent(entry("p1", models.StatusCritical, 86), models.StatusStable)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "p1", event.PatientID)
	assert.Equal(t, "Ada Lovelace", event.PatientName)
	assert.Equal(t, models.AlertLevelCritical, event.AlertLevel)
	assert.Equal(t, models.AlertStatusActive, event.AlertStatus)
	require.NotNil(t, event.SpO2)
	assert.Equal(t, 86, *event.SpO2)

	var trigger models.TriggerData
	require.NoError(t, json.Unmarshal(event.TriggerData, &trigger))
	assert.Equal(t, 90, trigger.Threshold)
	assert.Equal(t, "stable", trigger.Previous)
	assert.Equal(t, "rxhale-monitor", trigger.Source)
}

func TestObserve_OnlyStableToCritical(t *testing.T) {
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{}
	m := NewMonitor(nil, NewAlertEventBuilder("test"), zap.NewNop(), WithRecorder(rec), WithNotifier(notifier))
	ctx := context.Background()

	// baseline: already critical patients do not alert
	assert.Empty(t, m.Observe(ctx, []projection.RosterEntry{
		entry("a", models.StatusCritical, 85),
		entry("b", models.StatusStable, 97),
	}))

	// a stays critical, b turns critical
	events := m.Observe(ctx, []projection.RosterEntry{
		entry("a", models.StatusCritical, 84),
		entry("b", models.StatusCritical, 88),
	})
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].PatientID)

	// a recovers and relapses
	assert.Empty(t, m.Observe(ctx, []projection.RosterEntry{entry("a", models.StatusStable, 95), entry("b", models.StatusCritical, 88)}))
	events = m.Observe(ctx, []projection.RosterEntry{entry("a", models.StatusCritical, 80), entry("b", models.StatusCritical, 88)})
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].PatientID)

	// new patient seen critical after baseline
	events = m.Observe(ctx, []projection.RosterEntry{entry("c", models.StatusCritical, 70)})
	require.Len(t, events, 1)

	assert.Equal(t, 3, rec.count())
	assert.Equal(t, 3, notifier.calls)
}

func TestObserve_PublishesToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewMonitor(nil, NewAlertEventBuilder("test"), zap.NewNop(), WithStream(client, ""))
	ctx := context.Background()
	m.Observe(ctx, nil)
	m.Observe(ctx, []projection.RosterEntry{entry("a", models.StatusCritical, 85)})

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMonitor_FollowsEngine(t *testing.T) {
	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	patient := &models.PatientRecord{FirstName: "Ada", LastName: "Lovelace", PHN: "9001"}
	patient.Normalize()
	id, err := st.CreatePatient(ctx, patient)
	require.NoError(t, err)

	engine := projection.NewEngine(st, projection.Options{StoreTimeout: time.Second}, zap.NewNop())
	rec := &fakeRecorder{}
	m := NewMonitor(engine, NewAlertEventBuilder("test"), zap.NewNop(), WithRecorder(rec))

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	// wait for the baseline before writing
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.baseline
	}, 2*time.Second, 5*time.Millisecond)

	now := time.Now().UTC()
	for i, spo2 := range []int{95, 87, 86, 96, 85} {
		_, err := st.AppendVitals(ctx, id, models.VitalsReading{Timestamp: now.Add(time.Duration(i) * time.Second), SpO2: spo2, BPM: 80})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, rec.count())
}
