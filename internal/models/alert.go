package models

import (
	"encoding/json"
	"time"
)

// Alert levels and statuses.
const (
	AlertLevelCritical = "CRIT"
	AlertStatusActive  = "active"
	AlertTypeLowSpO2   = "LowSpO2"
)

// AlertEvent one stable→critical transition (alert_events table).
type AlertEvent struct {
	EventID     string          `json:"eventId" db:"event_id"`
	PatientID   string          `json:"patientId" db:"patient_id"`
	PatientName string          `json:"patientName" db:"patient_name"`
	PHN         string          `json:"phn" db:"phn"`
	EventType   string          `json:"eventType" db:"event_type"`
	AlertLevel  string          `json:"alertLevel" db:"alert_level"`
	AlertStatus string          `json:"alertStatus" db:"alert_status"`
	SpO2        *int            `json:"spO2,omitempty" db:"spo2"`
	TriggeredAt time.Time       `json:"triggeredAt" db:"triggered_at"`
	TriggerData json.RawMessage `json:"triggerData" db:"trigger_data"` // JSONB
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// TriggerData snapshot of what raised the alert.
type TriggerData struct {
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	SpO2      *int   `json:"spo2,omitempty"`
	Threshold int    `json:"threshold"`
	Previous  string `json:"previous_status"`
}
