package alerting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CJButlers/RXhale/internal/classifier"
	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"

	"github.com/google/uuid"
)

// AlertEventBuilder builds alert events for one source.
type AlertEventBuilder struct {
	source string
	now    func() time.Time
}

// NewAlertEventBuilder creates a builder. source names the emitting service.
func NewAlertEventBuilder(source string) *AlertEventBuilder {
	return &AlertEventBuilder{source: source, now: time.Now}
}

// BuildAlertEvent builds the event for a patient that just turned critical.
func (b *AlertEventBuilder) BuildAlertEvent(entry projection.RosterEntry, previous models.PatientStatus) (*models.AlertEvent, error) {
	now := b.now().UTC()

	trigger := models.TriggerData{
		EventType: models.AlertTypeLowSpO2,
		Source:    b.source,
		SpO2:      entry.LatestSpO2,
		Threshold: classifier.CriticalSpO2,
		Previous:  string(previous),
	}
	triggerJSON, err := json.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	return &models.AlertEvent{
		EventID:     uuid.New().String(),
		PatientID:   entry.PatientID,
		PatientName: strings.TrimSpace(entry.FirstName + " " + entry.LastName),
		PHN:         entry.PHN,
		EventType:   models.AlertTypeLowSpO2,
		AlertLevel:  models.AlertLevelCritical,
		AlertStatus: models.AlertStatusActive,
		SpO2:        entry.LatestSpO2,
		TriggeredAt: now,
		TriggerData: triggerJSON,
		CreatedAt:   now,
	}, nil
}
