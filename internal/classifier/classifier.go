// Package classifier derives patient status from SpO2 readings.
//
// Only the most recent reading counts; there is no hysteresis and the
// producer's advisory status is ignored.
package classifier

import (
	"github.com/CJButlers/RXhale/internal/models"
)

// CriticalSpO2 readings strictly below this are critical; exactly 90 is stable.
const CriticalSpO2 = 90

// Classify returns the status implied by a single reading.
func Classify(r models.VitalsReading) models.PatientStatus {
	if r.SpO2 < CriticalSpO2 {
		return models.StatusCritical
	}
	return models.StatusStable
}

// Latest returns the chronologically most recent reading. Ties on timestamp
// go to the later arrival, so out-of-order appends are tolerated.
func Latest(vitals []models.VitalsReading) (models.VitalsReading, bool) {
	if len(vitals) == 0 {
		return models.VitalsReading{}, false
	}
	latest := 0
	for i := 1; i < len(vitals); i++ {
		if !vitals[i].Timestamp.Before(vitals[latest].Timestamp) {
			latest = i
		}
	}
	return vitals[latest], true
}

// ClassifyPatient classifies the full vitals sequence of a patient.
// A patient with no readings is stable.
func ClassifyPatient(vitals []models.VitalsReading) models.PatientStatus {
	latest, ok := Latest(vitals)
	if !ok {
		return models.StatusStable
	}
	return Classify(latest)
}
