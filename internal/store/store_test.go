package store

import (
	"context"
	"testing"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newPatient(first, last, phn string) *models.PatientRecord {
	rec := &models.PatientRecord{
		FirstName:   first,
		LastName:    last,
		PHN:         phn,
		DateOfBirth: "1950-04-12",
		Sex:         models.SexFemale,
	}
	rec.Normalize()
	return rec
}

func reading(spo2 int, at time.Time) models.VitalsReading {
	return models.VitalsReading{Timestamp: at.UTC(), SpO2: spo2, BPM: 80}
}

func recv[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func waitClosed[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not end")
		}
	}
}

// runContract exercises behaviour every DocumentStore must share.
func runContract(t *testing.T, newStore func(t *testing.T) DocumentStore) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreatePatient(ctx, newPatient("Ada", "Lovelace", "9001"))
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := s.GetPatient(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "Lovelace", got.LastName)
		assert.Empty(t, got.Vitals)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("unknown patient", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPatient(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.AppendVitals(ctx, "nope", reading(95, base))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.AppendSymptom(ctx, "nope", models.SymptomLog{Date: "2024-03-01"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateNotes(ctx, "nope", "x"), ErrNotFound)
		_, err = s.SubscribePatient(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append returns new length", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreatePatient(ctx, newPatient("Ada", "Lovelace", "9001"))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			n, err := s.AppendVitals(ctx, id, reading(90+i, base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
		n, err := s.AppendSymptom(ctx, id, models.SymptomLog{Date: "2024-03-01", Time: "09:00", Description: "short of breath"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetPatient(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Vitals, 3)
		assert.Equal(t, 93, got.Vitals[2].SpO2)
		require.Len(t, got.Symptoms, 1)
	})

	t.Run("list ordered by last name then id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreatePatient(ctx, newPatient("Grace", "Hopper", "1"))
		require.NoError(t, err)
		_, err = s.CreatePatient(ctx, newPatient("Alan", "Turing", "2"))
		require.NoError(t, err)
		_, err = s.CreatePatient(ctx, newPatient("Ada", "Byron", "3"))
		require.NoError(t, err)

		list, err := s.ListPatients(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"Byron", "Hopper", "Turing"},
			[]string{list[0].LastName, list[1].LastName, list[2].LastName})
	})

	t.Run("patient subscription sees every append once in order", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreatePatient(ctx, newPatient("Ada", "Lovelace", "9001"))
		require.NoError(t, err)
		_, err = s.AppendVitals(ctx, id, reading(97, base))
		require.NoError(t, err)

		sub, err := s.SubscribePatient(ctx, id)
		require.NoError(t, err)
		defer sub.Close()

		first := recv(t, sub)
		require.NotNil(t, first.Patient)
		assert.Len(t, first.Patient.Vitals, 1)

		for i := 1; i <= 3; i++ {
			_, err := s.AppendVitals(ctx, id, reading(90+i, base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		for want := 2; want <= 4; want++ {
			snap := recv(t, sub)
			require.NotNil(t, snap.Patient)
			assert.Len(t, snap.Patient.Vitals, want)
		}

		require.NoError(t, s.UpdateNotes(ctx, id, "call daughter"))
		snap := recv(t, sub)
		assert.Equal(t, "call daughter", snap.Patient.Notes)
	})

	t.Run("collection subscription re-emits on change", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreatePatient(ctx, newPatient("Grace", "Hopper", "1"))
		require.NoError(t, err)

		sub, err := s.SubscribeCollection(ctx)
		require.NoError(t, err)
		defer sub.Close()

		assert.Len(t, recv(t, sub), 1)

		_, err = s.CreatePatient(ctx, newPatient("Ada", "Byron", "2"))
		require.NoError(t, err)
		roster := recv(t, sub)
		require.Len(t, roster, 2)
		assert.Equal(t, "Byron", roster[0].LastName)

		_, err = s.AppendVitals(ctx, id, reading(85, base))
		require.NoError(t, err)
		roster = recv(t, sub)
		require.Len(t, roster, 2)
		require.Len(t, roster[1].Vitals, 1)
		assert.Equal(t, 85, roster[1].Vitals[0].SpO2)
	})

	t.Run("close ends the stream cleanly", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreatePatient(ctx, newPatient("Ada", "Lovelace", "9001"))
		require.NoError(t, err)

		sub, err := s.SubscribePatient(ctx, id)
		require.NoError(t, err)
		recv(t, sub)

		sub.Close()
		sub.Close()
		waitClosed(t, sub)
		assert.NoError(t, sub.Err())

		// writes after close still succeed
		_, err = s.AppendVitals(ctx, id, reading(95, base))
		assert.NoError(t, err)
	})

	t.Run("context cancel ends the stream", func(t *testing.T) {
		s := newStore(t)
		subCtx, cancel := context.WithCancel(ctx)
		sub, err := s.SubscribeCollection(subCtx)
		require.NoError(t, err)
		recv(t, sub)

		cancel()
		waitClosed(t, sub)
		assert.NoError(t, sub.Err())
	})
}

func TestSortPatients(t *testing.T) {
	list := []models.PatientRecord{
		{ID: "b", LastName: "Smith"},
		{ID: "a", LastName: "Smith"},
		{ID: "c", LastName: "Adams"},
	}
	SortPatients(list)
	assert.Equal(t, []string{"c", "a", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
}
