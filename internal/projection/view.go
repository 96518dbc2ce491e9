package projection

import (
	"sort"

	"github.com/CJButlers/RXhale/internal/classifier"
	"github.com/CJButlers/RXhale/internal/models"
)

// DefaultWindowSize is the number of readings a view keeps.
const DefaultWindowSize = 20

// ProjectedView is the derived state of one patient.
type ProjectedView struct {
	PatientID string                 `json:"patientId"`
	Window    []models.VitalsReading `json:"window"` // timestamp ascending
	Status    models.PatientStatus   `json:"status"`
	Latest    *models.VitalsReading  `json:"latest,omitempty"`
}

// RosterEntry is one row of the patient list.
type RosterEntry struct {
	PatientID  string               `json:"patientId"`
	FirstName  string               `json:"firstName"`
	LastName   string               `json:"lastName"`
	PHN        string               `json:"phn"`
	LatestSpO2 *int                 `json:"latestSpO2"`
	Status     models.PatientStatus `json:"status"`
}

// Window returns the last n readings by timestamp. Readings with equal
// timestamps keep arrival order. The input is not modified.
func Window(vitals []models.VitalsReading, n int) []models.VitalsReading {
	if n <= 0 {
		n = DefaultWindowSize
	}
	sorted := make([]models.VitalsReading, len(vitals))
	copy(sorted, vitals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// Project derives the view of rec with a window of n readings.
func Project(rec *models.PatientRecord, n int) ProjectedView {
	view := ProjectedView{
		PatientID: rec.ID,
		Window:    Window(rec.Vitals, n),
		Status:    classifier.ClassifyPatient(rec.Vitals),
	}
	if latest, ok := classifier.Latest(rec.Vitals); ok {
		view.Latest = &latest
	}
	return view
}

// Entry derives the roster row of rec.
func Entry(rec *models.PatientRecord) RosterEntry {
	e := RosterEntry{
		PatientID: rec.ID,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		PHN:       rec.PHN,
		Status:    classifier.ClassifyPatient(rec.Vitals),
	}
	if latest, ok := classifier.Latest(rec.Vitals); ok {
		spo2 := latest.SpO2
		e.LatestSpO2 = &spo2
	}
	return e
}

// BuildRoster derives rows ordered by last name, then id.
func BuildRoster(recs []models.PatientRecord) []RosterEntry {
	out := make([]RosterEntry, 0, len(recs))
	for i := range recs {
		out = append(out, Entry(&recs[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].PatientID < out[j].PatientID
	})
	return out
}
