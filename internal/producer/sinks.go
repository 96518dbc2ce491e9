package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CJButlers/RXhale/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TopicFormat is the per-patient vitals topic.
const TopicFormat = "rxhale/%s/vitals"

// Topic returns the vitals topic of patientID.
func Topic(patientID string) string {
	return fmt.Sprintf(TopicFormat, patientID)
}

// Publisher is the subset of the MQTT client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink publishes readings to the per-patient topic.
type MQTTSink struct {
	client Publisher
	qos    byte
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(client Publisher, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

// Send publishes r as JSON.
func (s *MQTTSink) Send(_ context.Context, patientID string, r models.VitalsReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := s.client.Publish(Topic(patientID), s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	return nil
}

// apiResult mirrors the server's response envelope.
type apiResult struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

const codeOK = 2000

// HTTPSink posts readings to the monitor's HTTP API.
type HTTPSink struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPSink creates a sink against baseURL, e.g. http://localhost:8080.
func NewHTTPSink(baseURL string, logger *zap.Logger) *HTTPSink {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPSink{client: client, logger: logger}
}

// Send posts r. Rejections are returned with the server message; no retry.
func (s *HTTPSink) Send(ctx context.Context, patientID string, r models.VitalsReading) error {
	var result apiResult
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", patientID).
		SetBody(r).
		SetResult(&result).
		SetError(&result).
		Post("/api/v1/patients/{id}/vitals")
	if err != nil {
		return fmt.Errorf("failed to post reading: %w", err)
	}

	if resp.IsError() || result.Code != codeOK {
		s.logger.Debug("Reading rejected",
			zap.String("patient_id", patientID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("message", result.Message),
		)
		return fmt.Errorf("reading rejected: %s (status: %d)", result.Message, resp.StatusCode())
	}
	return nil
}
