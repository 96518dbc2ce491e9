// Package repository persists alert events in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrAlertEventNotFound no row matched.
var ErrAlertEventNotFound = errors.New("alert event not found")

// DefaultListLimit caps list queries without an explicit limit.
const DefaultListLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	event_id     UUID PRIMARY KEY,
	patient_id   TEXT NOT NULL,
	patient_name TEXT NOT NULL,
	phn          TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	alert_level  TEXT NOT NULL,
	alert_status TEXT NOT NULL,
	spo2         INTEGER,
	triggered_at TIMESTAMPTZ NOT NULL,
	trigger_data JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_events_patient_triggered_idx
	ON alert_events (patient_id, triggered_at DESC);
`

const selectColumns = `
	event_id,
	patient_id,
	patient_name,
	phn,
	event_type,
	alert_level,
	alert_status,
	spo2,
	triggered_at,
	trigger_data,
	created_at
`

// AlertEventsRepository reads and writes alert_events.
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository creates the repository.
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertEventFilters narrows ListAlertEvents. Nil or empty fields do not filter.
type AlertEventFilters struct {
	PatientIDs []string
	Since      *time.Time
	Limit      int
}

// EnsureSchema creates the table and index when missing.
func (r *AlertEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create alert_events schema: %w", err)
	}
	return nil
}

// CreateAlertEvent inserts event.
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" || event.PatientID == "" {
		return fmt.Errorf("event_id and patient_id are required")
	}

	triggerData := event.TriggerData
	if len(triggerData) == 0 {
		triggerData = json.RawMessage("{}")
	}
	var spo2 sql.NullInt64
	if event.SpO2 != nil {
		spo2 = sql.NullInt64{Int64: int64(*event.SpO2), Valid: true}
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			patient_id,
			patient_name,
			phn,
			event_type,
			alert_level,
			alert_status,
			spo2,
			triggered_at,
			trigger_data,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.PatientID,
		event.PatientName,
		event.PHN,
		event.EventType,
		event.AlertLevel,
		event.AlertStatus,
		spo2,
		event.TriggeredAt,
		[]byte(triggerData),
		event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("alert event %s already exists: %w", event.EventID, err)
		}
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	r.logger.Debug("Alert event created",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", event.PatientID),
	)
	return nil
}

// GetAlertEvent returns one event by id.
func (r *AlertEventsRepository) GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `SELECT ` + selectColumns + ` FROM alert_events WHERE event_id = $1`
	event, err := scanAlertEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event_id=%s: %w", eventID, ErrAlertEventNotFound)
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}
	return event, nil
}

// ListAlertEvents returns events newest first.
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, filters AlertEventFilters) ([]*models.AlertEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filters.PatientIDs) > 0 {
		args = append(args, pq.Array(filters.PatientIDs))
		where = append(where, fmt.Sprintf("patient_id = ANY($%d)", len(args)))
	}
	if filters.Since != nil {
		args = append(args, *filters.Since)
		where = append(where, fmt.Sprintf("triggered_at >= $%d", len(args)))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + selectColumns + ` FROM alert_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY triggered_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	events := []*models.AlertEvent{}
	for rows.Next() {
		event, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertEvent(row rowScanner) (*models.AlertEvent, error) {
	var (
		event       models.AlertEvent
		spo2        sql.NullInt64
		triggerData []byte
	)
	err := row.Scan(
		&event.EventID,
		&event.PatientID,
		&event.PatientName,
		&event.PHN,
		&event.EventType,
		&event.AlertLevel,
		&event.AlertStatus,
		&spo2,
		&event.TriggeredAt,
		&triggerData,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if spo2.Valid {
		v := int(spo2.Int64)
		event.SpO2 = &v
	}
	if len(triggerData) > 0 {
		event.TriggerData = triggerData
	} else {
		event.TriggerData = json.RawMessage("{}")
	}
	return &event, nil
}
