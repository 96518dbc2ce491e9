package models

import (
	"time"
)

// ReadingStatus is the advisory status a producer may attach to a reading.
type ReadingStatus string

const (
	ReadingNormal   ReadingStatus = "Normal"
	ReadingWarning  ReadingStatus = "Warning"
	ReadingCritical ReadingStatus = "Critical"
)

// Valid reports whether s is one of the known statuses.
func (s ReadingStatus) Valid() bool {
	switch s {
	case ReadingNormal, ReadingWarning, ReadingCritical:
		return true
	}
	return false
}

// SpO2 bounds, inclusive.
const (
	MinSpO2 = 0
	MaxSpO2 = 100
)

// VitalsReading one device sample. Immutable once accepted.
type VitalsReading struct {
	Timestamp time.Time      `json:"timestamp"`
	SpO2      int            `json:"spO2"`
	BPM       int            `json:"bpm"`
	Status    *ReadingStatus `json:"status,omitempty"`
}

// Validate checks the numeric ranges. The advisory status is optional.
func (r VitalsReading) Validate() error {
	if r.SpO2 < MinSpO2 || r.SpO2 > MaxSpO2 {
		return readingError("spO2", "must be between 0 and 100")
	}
	if r.BPM <= 0 {
		return readingError("bpm", "must be greater than 0")
	}
	if r.Status != nil && !r.Status.Valid() {
		return readingError("status", "must be Normal, Warning or Critical")
	}
	return nil
}

// ReadingPayload is the inbound wire shape used by HTTP and MQTT producers.
// Pointers distinguish a missing field from a zero value.
type ReadingPayload struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	SpO2      *int       `json:"spO2"`
	BPM       *int       `json:"bpm"`
	Status    string     `json:"status,omitempty"`
}

// ToReading converts the payload, stamping now when no timestamp was sent.
func (p ReadingPayload) ToReading(now time.Time) (VitalsReading, error) {
	if p.SpO2 == nil {
		return VitalsReading{}, readingError("spO2", "is required")
	}
	if p.BPM == nil {
		return VitalsReading{}, readingError("bpm", "is required")
	}

	r := VitalsReading{
		Timestamp: now,
		SpO2:      *p.SpO2,
		BPM:       *p.BPM,
	}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		r.Timestamp = *p.Timestamp
	}
	if p.Status != "" {
		s := ReadingStatus(p.Status)
		r.Status = &s
	}
	return r, r.Validate()
}
