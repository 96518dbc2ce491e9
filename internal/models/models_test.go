package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVitalsReading_Validate(t *testing.T) {
	tests := []struct {
		name    string
		reading VitalsReading
		field   string
	}{
		{name: "lower bound", reading: VitalsReading{SpO2: 0, BPM: 60}},
		{name: "upper bound", reading: VitalsReading{SpO2: 100, BPM: 1}},
		{name: "negative spO2", reading: VitalsReading{SpO2: -1, BPM: 60}, field: "spO2"},
		{name: "spO2 over 100", reading: VitalsReading{SpO2: 101, BPM: 60}, field: "spO2"},
		{name: "zero bpm", reading: VitalsReading{SpO2: 95, BPM: 0}, field: "bpm"},
		{name: "negative bpm", reading: VitalsReading{SpO2: 95, BPM: -5}, field: "bpm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidReading))

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestVitalsReading_ValidateRejectsUnknownStatus(t *testing.T) {
	bogus := ReadingStatus("Fine")
	err := VitalsReading{SpO2: 95, BPM: 70, Status: &bogus}.Validate()
	assert.ErrorIs(t, err, ErrInvalidReading)
}

func TestReadingPayload_ToReading(t *testing.T) {
	now := time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC)

	var p ReadingPayload
	require.NoError(t, json.Unmarshal([]byte(`{"spO2":0,"bpm":72,"status":"Critical"}`), &p))

	r, err := p.ToReading(now)
	require.NoError(t, err)
	assert.Equal(t, 0, r.SpO2)
	assert.Equal(t, 72, r.BPM)
	assert.Equal(t, now, r.Timestamp)
	require.NotNil(t, r.Status)
	assert.Equal(t, ReadingCritical, *r.Status)
}

func TestReadingPayload_MissingFields(t *testing.T) {
	var p ReadingPayload
	require.NoError(t, json.Unmarshal([]byte(`{"bpm":72}`), &p))

	_, err := p.ToReading(time.Now())
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "spO2", fe.Field)
	assert.ErrorIs(t, err, ErrInvalidReading)
}

func TestReadingPayload_KeepsProducerTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	spo2, bpm := 96, 80
	r, err := ReadingPayload{Timestamp: &ts, SpO2: &spo2, BPM: &bpm}.ToReading(time.Now())
	require.NoError(t, err)
	assert.Equal(t, ts, r.Timestamp)
	assert.Nil(t, r.Status)
}

func TestParseSex(t *testing.T) {
	assert.Equal(t, SexMale, ParseSex("Male"))
	assert.Equal(t, SexFemale, ParseSex(" female "))
	assert.Equal(t, SexOther, ParseSex(""))
	assert.Equal(t, SexOther, ParseSex("unknown"))
}

func TestPatientRecord_NormalizeAndValidate(t *testing.T) {
	p := &PatientRecord{FirstName: " Ada ", LastName: "Lovelace", PHN: "9876543210"}
	p.Normalize()

	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, SexOther, p.Sex)
	assert.NotNil(t, p.Vitals)
	assert.NotNil(t, p.Symptoms)
	assert.NoError(t, p.Validate())

	p.DateOfBirth = "20/03/1950"
	assert.ErrorIs(t, p.Validate(), ErrInvalidPatient)

	missing := &PatientRecord{FirstName: "Ada"}
	err := missing.Validate()
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "lastName", fe.Field)
}

func TestPatientRecord_Age(t *testing.T) {
	p := &PatientRecord{DateOfBirth: "1950-03-21"}
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	age, ok := p.Age(now)
	require.True(t, ok)
	assert.Equal(t, 73, age)

	age, ok = p.Age(now.AddDate(0, 0, 1))
	require.True(t, ok)
	assert.Equal(t, 74, age)

	_, ok = (&PatientRecord{}).Age(now)
	assert.False(t, ok)
}

func TestPatientRecord_CloneIsIndependent(t *testing.T) {
	p := &PatientRecord{ID: "p-1", Vitals: []VitalsReading{{SpO2: 95, BPM: 70}}}
	c := p.Clone()
	c.Vitals[0].SpO2 = 80
	c.Vitals = append(c.Vitals, VitalsReading{SpO2: 90, BPM: 70})

	assert.Equal(t, 95, p.Vitals[0].SpO2)
	assert.Len(t, p.Vitals, 1)
}
