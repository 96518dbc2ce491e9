package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Channel, *store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &models.PatientRecord{FirstName: "Ada", LastName: "Lovelace", PHN: "9001"}
	rec.Normalize()
	id, err := st.CreatePatient(context.Background(), rec)
	require.NoError(t, err)

	ch := NewChannel(st, time.Second, zap.NewNop())
	ch.SetClock(func() time.Time { return fixedNow })
	return ch, st, id
}

func TestSubmit_AppendsExactlyOnce(t *testing.T) {
	ch, st, id := setup(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		r, err := ch.Submit(ctx, id, models.VitalsReading{Timestamp: fixedNow.Add(time.Duration(i) * time.Second), SpO2: 95, BPM: 80})
		require.NoError(t, err)
		assert.Equal(t, i, r.Sequence)
		assert.Equal(t, id, r.PatientID)
		assert.Equal(t, fixedNow, r.AcceptedAt)
	}

	rec, err := st.GetPatient(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Vitals, 3)
}

func TestSubmit_DuplicatesAreKept(t *testing.T) {
	ch, st, id := setup(t)
	ctx := context.Background()
	reading := models.VitalsReading{Timestamp: fixedNow, SpO2: 95, BPM: 80}

	_, err := ch.Submit(ctx, id, reading)
	require.NoError(t, err)
	_, err = ch.Submit(ctx, id, reading)
	require.NoError(t, err)

	rec, err := st.GetPatient(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Vitals, 2)
}

func TestSubmit_RejectsInvalidWithoutWriting(t *testing.T) {
	ch, st, id := setup(t)
	ctx := context.Background()

	cases := []models.VitalsReading{
		{SpO2: 101, BPM: 80},
		{SpO2: -1, BPM: 80},
		{SpO2: 95, BPM: 0},
		{SpO2: 95, BPM: -5},
	}
	for _, r := range cases {
		_, err := ch.Submit(ctx, id, r)
		assert.ErrorIs(t, err, models.ErrInvalidReading)
	}

	rec, err := st.GetPatient(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rec.Vitals)
}

func TestSubmit_StampsMissingTimestamp(t *testing.T) {
	ch, st, id := setup(t)
	ctx := context.Background()

	_, err := ch.Submit(ctx, id, models.VitalsReading{SpO2: 95, BPM: 80})
	require.NoError(t, err)

	rec, err := st.GetPatient(ctx, id)
	require.NoError(t, err)
	require.Len(t, rec.Vitals, 1)
	assert.True(t, rec.Vitals[0].Timestamp.Equal(fixedNow))
}

func TestSubmit_UnknownPatient(t *testing.T) {
	ch, _, _ := setup(t)
	_, err := ch.Submit(context.Background(), "missing", models.VitalsReading{SpO2: 95, BPM: 80})
	assert.ErrorIs(t, err, models.ErrUnknownPatient)

	_, err = ch.Submit(context.Background(), "", models.VitalsReading{SpO2: 95, BPM: 80})
	assert.ErrorIs(t, err, models.ErrUnknownPatient)
}

// failingStore fails every append.
type failingStore struct {
	store.DocumentStore
	err   error
	block bool
}

func (f *failingStore) AppendVitals(ctx context.Context, _ string, _ models.VitalsReading) (int, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 0, f.err
}

func TestSubmit_StoreFailure(t *testing.T) {
	ch := NewChannel(&failingStore{err: errors.New("connection refused")}, time.Second, zap.NewNop())
	_, err := ch.Submit(context.Background(), "p1", models.VitalsReading{SpO2: 95, BPM: 80})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestSubmit_StoreTimeout(t *testing.T) {
	ch := NewChannel(&failingStore{block: true}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := ch.Submit(context.Background(), "p1", models.VitalsReading{SpO2: 95, BPM: 80})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubmitPayload(t *testing.T) {
	ch, st, id := setup(t)
	ctx := context.Background()
	spo2, bpm := 88, 102

	r, err := ch.SubmitPayload(ctx, id, models.ReadingPayload{SpO2: &spo2, BPM: &bpm, Status: "Warning"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Sequence)

	rec, err := st.GetPatient(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Vitals[0].Status)
	assert.Equal(t, models.ReadingWarning, *rec.Vitals[0].Status)

	_, err = ch.SubmitPayload(ctx, id, models.ReadingPayload{BPM: &bpm})
	assert.ErrorIs(t, err, models.ErrInvalidReading)
}
