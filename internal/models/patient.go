package models

import (
	"strings"
	"time"
)

// Sex is a closed enum; anything unrecognised maps to SexOther.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// ParseSex normalises free-form input.
func ParseSex(s string) Sex {
	switch Sex(strings.ToLower(strings.TrimSpace(s))) {
	case SexMale:
		return SexMale
	case SexFemale:
		return SexFemale
	default:
		return SexOther
	}
}

// PatientStatus is the derived classification of a patient.
type PatientStatus string

const (
	StatusStable   PatientStatus = "stable"
	StatusCritical PatientStatus = "critical"
)

// DateLayout is the format of DateOfBirth and SymptomLog.Date.
const DateLayout = "2006-01-02"

// SymptomLog a free-text symptom entry. Append-only.
type SymptomLog struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// PatientRecord one patient document.
type PatientRecord struct {
	ID                    string          `json:"id"`
	FirstName             string          `json:"firstName"`
	LastName              string          `json:"lastName"`
	PHN                   string          `json:"phn"`
	DateOfBirth           string          `json:"dateOfBirth"`
	PhoneNumber           string          `json:"phoneNumber"`
	Sex                   Sex             `json:"sex"`
	EmergencyContactName  string          `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string          `json:"emergencyContactPhone,omitempty"`
	PharmacyCode          string          `json:"pharmacyCode,omitempty"`
	History               string          `json:"history"`
	Diagnosis             string          `json:"diagnosis"`
	Medication            string          `json:"medication"`
	PreviousAppointments  string          `json:"previousAppointments"`
	Notes                 string          `json:"notes"`
	Symptoms              []SymptomLog    `json:"symptoms"`
	Vitals                []VitalsReading `json:"vitals"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// Normalize trims names and applies the Sex default.
func (p *PatientRecord) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.PHN = strings.TrimSpace(p.PHN)
	p.Sex = ParseSex(string(p.Sex))
	if p.Symptoms == nil {
		p.Symptoms = []SymptomLog{}
	}
	if p.Vitals == nil {
		p.Vitals = []VitalsReading{}
	}
}

// Validate checks the fields registration requires.
func (p *PatientRecord) Validate() error {
	if p.FirstName == "" {
		return patientError("firstName", "is required")
	}
	if p.LastName == "" {
		return patientError("lastName", "is required")
	}
	if p.PHN == "" {
		return patientError("phn", "is required")
	}
	if p.DateOfBirth != "" {
		if _, err := time.Parse(DateLayout, p.DateOfBirth); err != nil {
			return patientError("dateOfBirth", "must be YYYY-MM-DD")
		}
	}
	return nil
}

// Age in whole years at now. ok is false when DateOfBirth is missing or malformed.
func (p *PatientRecord) Age(now time.Time) (age int, ok bool) {
	dob, err := time.Parse(DateLayout, p.DateOfBirth)
	if err != nil {
		return 0, false
	}
	age = now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}

// Clone returns a copy that shares no slices with p.
func (p *PatientRecord) Clone() *PatientRecord {
	c := *p
	c.Symptoms = make([]SymptomLog, len(p.Symptoms))
	copy(c.Symptoms, p.Symptoms)
	c.Vitals = make([]VitalsReading, len(p.Vitals))
	copy(c.Vitals, p.Vitals)
	return &c
}
