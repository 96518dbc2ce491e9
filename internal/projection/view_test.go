package projection

import (
	"testing"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(spo2 int, sec int) models.VitalsReading {
	return models.VitalsReading{Timestamp: t0.Add(time.Duration(sec) * time.Second), SpO2: spo2, BPM: 80}
}

func TestWindow_LengthIsMinOfCountAndSize(t *testing.T) {
	for _, k := range []int{0, 1, 19, 20, 21, 45} {
		vitals := make([]models.VitalsReading, k)
		for i := range vitals {
			vitals[i] = at(90, i)
		}
		w := Window(vitals, 20)
		want := k
		if want > 20 {
			want = 20
		}
		require.Len(t, w, want, "k=%d", k)
		if k > 0 {
			assert.Equal(t, vitals[k-1].Timestamp, w[len(w)-1].Timestamp)
			assert.Equal(t, vitals[k-want].Timestamp, w[0].Timestamp)
		}
	}
}

func TestWindow_OrdersOutOfOrderArrivals(t *testing.T) {
	vitals := []models.VitalsReading{at(91, 3), at(92, 1), at(93, 2)}
	w := Window(vitals, 20)
	assert.Equal(t, []int{92, 93, 91}, []int{w[0].SpO2, w[1].SpO2, w[2].SpO2})
	// input untouched
	assert.Equal(t, 91, vitals[0].SpO2)
}

func TestWindow_TiesKeepArrivalOrder(t *testing.T) {
	vitals := []models.VitalsReading{at(91, 1), at(92, 1), at(93, 1)}
	w := Window(vitals, 2)
	assert.Equal(t, []int{92, 93}, []int{w[0].SpO2, w[1].SpO2})
}

func TestProject_Empty(t *testing.T) {
	view := Project(&models.PatientRecord{ID: "p1"}, 20)
	assert.Equal(t, "p1", view.PatientID)
	assert.Empty(t, view.Window)
	assert.Nil(t, view.Latest)
	assert.Equal(t, models.StatusStable, view.Status)
}

func TestProject_UsesLatestReading(t *testing.T) {
	view := Project(&models.PatientRecord{ID: "p1", Vitals: []models.VitalsReading{at(95, 1), at(87, 2)}}, 20)
	assert.Equal(t, models.StatusCritical, view.Status)
	require.NotNil(t, view.Latest)
	assert.Equal(t, 87, view.Latest.SpO2)
}

func TestBuildRoster(t *testing.T) {
	roster := BuildRoster([]models.PatientRecord{
		{ID: "b", LastName: "Smith", Vitals: []models.VitalsReading{at(85, 1)}},
		{ID: "a", LastName: "Smith"},
		{ID: "c", LastName: "Adams", Vitals: []models.VitalsReading{at(97, 1)}},
	})
	require.Len(t, roster, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{roster[0].PatientID, roster[1].PatientID, roster[2].PatientID})

	assert.Nil(t, roster[1].LatestSpO2)
	assert.Equal(t, models.StatusStable, roster[1].Status)
	require.NotNil(t, roster[2].LatestSpO2)
	assert.Equal(t, 85, *roster[2].LatestSpO2)
	assert.Equal(t, models.StatusCritical, roster[2].Status)
}
