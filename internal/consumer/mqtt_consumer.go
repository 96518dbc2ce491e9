// Package consumer feeds device readings arriving over MQTT into the
// ingestion channel.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	commonmqtt "github.com/CJButlers/RXhale/common/mqtt"
	"github.com/CJButlers/RXhale/internal/ingestion"
	"github.com/CJButlers/RXhale/internal/models"

	"go.uber.org/zap"
)

// Subscriber is the subset of the MQTT client the consumer uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler commonmqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Submitter accepts readings for a patient.
type Submitter interface {
	SubmitPayload(ctx context.Context, patientID string, payload models.ReadingPayload) (ingestion.Receipt, error)
}

// MQTTConsumer subscribes to the vitals topic filter. Devices have no reply
// channel, so rejected readings are logged and dropped here.
type MQTTConsumer struct {
	topic  string
	qos    byte
	client Subscriber
	ingest Submitter
	logger *zap.Logger
}

// NewMQTTConsumer creates a consumer for topic, a filter with one "+" level
// standing for the patient id, e.g. rxhale/+/vitals.
func NewMQTTConsumer(topic string, qos byte, client Subscriber, ingest Submitter, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		topic:  topic,
		qos:    qos,
		client: client,
		ingest: ingest,
		logger: logger,
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return c.Stop()
}

// Stop unsubscribes from the topic.
func (c *MQTTConsumer) Stop() error {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	patientID, err := PatientIDFromTopic(c.topic, topic)
	if err != nil {
		c.logger.Warn("Dropping message", zap.String("topic", topic), zap.Error(err))
		return err
	}

	var reading models.ReadingPayload
	if err := json.Unmarshal(payload, &reading); err != nil {
		c.logger.Warn("Dropping malformed reading",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	receipt, err := c.ingest.SubmitPayload(context.Background(), patientID, reading)
	if err != nil {
		c.logger.Warn("Reading not accepted",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("Reading ingested",
		zap.String("patient_id", patientID),
		zap.Int("sequence", receipt.Sequence),
	)
	return nil
}

// PatientIDFromTopic matches topic against filter and returns the level that
// the filter's "+" wildcard matched.
func PatientIDFromTopic(filter, topic string) (string, error) {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}

	id := ""
	for i := range fp {
		switch {
		case fp[i] == "+":
			if id == "" {
				id = tp[i]
			}
		case fp[i] != tp[i]:
			return "", fmt.Errorf("invalid topic format: %s", topic)
		}
	}
	if id == "" {
		return "", fmt.Errorf("no patient id in topic: %s", topic)
	}
	return id, nil
}
