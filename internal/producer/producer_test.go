package producer

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRandomProducer_Ranges(t *testing.T) {
	p := NewRandomProducer(rand.New(rand.NewSource(42)), func() time.Time { return fixedNow })

	seenLow, seenHigh := false, false
	for i := 0; i < 2000; i++ {
		r, err := p.GenerateReading(context.Background())
		require.NoError(t, err)
		require.NoError(t, r.Validate())
		assert.GreaterOrEqual(t, r.SpO2, MinSimSpO2)
		assert.LessOrEqual(t, r.SpO2, MaxSimSpO2)
		assert.GreaterOrEqual(t, r.BPM, MinSimBPM)
		assert.LessOrEqual(t, r.BPM, MaxSimBPM)
		assert.Equal(t, fixedNow, r.Timestamp)
		seenLow = seenLow || r.SpO2 == MinSimSpO2
		seenHigh = seenHigh || r.SpO2 == MaxSimSpO2
	}
	assert.True(t, seenLow && seenHigh, "both bounds should be reachable")
}

func TestRandomProducer_Deterministic(t *testing.T) {
	a := NewRandomProducer(rand.New(rand.NewSource(7)), nil)
	b := NewRandomProducer(rand.New(rand.NewSource(7)), nil)
	for i := 0; i < 10; i++ {
		ra, _ := a.GenerateReading(context.Background())
		rb, _ := b.GenerateReading(context.Background())
		assert.Equal(t, ra.SpO2, rb.SpO2)
		assert.Equal(t, ra.BPM, rb.BPM)
	}
}

func TestRandomProducer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRandomProducer(rand.New(rand.NewSource(1)), nil).GenerateReading(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingSink struct {
	sent map[string]int
	fail string
}

func (s *recordingSink) Send(_ context.Context, id string, _ models.VitalsReading) error {
	if id == s.fail {
		return errors.New("boom")
	}
	s.sent[id]++
	return nil
}

func TestRunner_Tick(t *testing.T) {
	sink := &recordingSink{sent: map[string]int{}, fail: "p2"}
	r := NewRunner(NewRandomProducer(rand.New(rand.NewSource(1)), nil), sink, []string{"p1", "p2", "p3"}, time.Second, zap.NewNop())

	assert.Equal(t, 2, r.Tick(context.Background()))
	assert.Equal(t, 2, r.Tick(context.Background()))
	assert.Equal(t, map[string]int{"p1": 2, "p3": 2}, sink.sent)
}

func TestRunner_StartStopsOnCancel(t *testing.T) {
	sink := &recordingSink{sent: map[string]int{}}
	r := NewRunner(NewRandomProducer(rand.New(rand.NewSource(1)), nil), sink, []string{"p1"}, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Start(ctx))
	assert.Greater(t, sink.sent["p1"], 0)
}

type fakePublisher struct {
	topic   string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	f.topic, f.payload = topic, payload
	return f.err
}

func TestMQTTSink_Send(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, 1)

	require.NoError(t, sink.Send(context.Background(), "p1", models.VitalsReading{Timestamp: fixedNow, SpO2: 93, BPM: 77}))
	assert.Equal(t, "rxhale/p1/vitals", pub.topic)

	var payload models.ReadingPayload
	require.NoError(t, json.Unmarshal(pub.payload, &payload))
	require.NotNil(t, payload.SpO2)
	assert.Equal(t, 93, *payload.SpO2)

	pub.err = errors.New("not connected")
	assert.Error(t, sink.Send(context.Background(), "p1", models.VitalsReading{SpO2: 93, BPM: 77}))
}

func TestHTTPSink_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v1/patients/missing/vitals" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":4004,"type":"error","message":"unknown patient","result":null}`))
			return
		}
		assert.Equal(t, "/api/v1/patients/p1/vitals", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"code":2000,"type":"success","message":"ok","result":{"sequence":1}}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, zap.NewNop())
	assert.NoError(t, sink.Send(context.Background(), "p1", models.VitalsReading{SpO2: 95, BPM: 80}))

	err := sink.Send(context.Background(), "missing", models.VitalsReading{SpO2: 95, BPM: 80})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown patient")
}
