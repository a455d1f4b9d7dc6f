package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"soundscape-monitor/internal/models"
)

// DefaultLevelsTopic is the topic pattern for level summaries.
const DefaultLevelsTopic = "soundscape/{sensor_id}/levels"

// TokenPublisher is the part of mqtt.Client the publisher uses.
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client TokenPublisher

	// Input channel (read by publisher, written by the monitor service)
	SummaryChan chan *models.LevelSummary

	levelsTopic string // e.g., "soundscape/{sensor_id}/levels"
	qos         byte
	timeout     time.Duration
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	LevelsTopic string
	QoS         byte
	Timeout     time.Duration // Per-publish wait, default 5s
}

// NewPublisher creates a new MQTT publisher reading from summaryChan
func NewPublisher(client TokenPublisher, config PublisherConfig, summaryChan chan *models.LevelSummary) *Publisher {
	if config.LevelsTopic == "" {
		config.LevelsTopic = DefaultLevelsTopic
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Publisher{
		client:      client,
		SummaryChan: summaryChan,
		levelsTopic: config.LevelsTopic,
		qos:         config.QoS,
		timeout:     config.Timeout,
	}
}

// Start publishes summaries from the channel.
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Info("Publisher starting")

	for {
		select {
		case <-ctx.Done():
			log.Info("Publisher stopped")
			return

		case summary, ok := <-p.SummaryChan:
			if !ok {
				log.Info("Summary channel closed, publisher stopped")
				return
			}

			if err := p.publishSummary(summary); err != nil {
				log.WithError(err).Warn("Failed to publish level summary")
			}
		}
	}
}

// publishSummary publishes one level summary as JSON
func (p *Publisher) publishSummary(summary *models.LevelSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal level summary: %w", err)
	}

	topic := FormatTopic(p.levelsTopic, summary.SensorID)

	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish level summary: %w", err)
	}

	log.WithField("topic", topic).Debug("Published level summary")
	return nil
}

// FormatTopic replaces the {sensor_id} placeholder with the sensor id
func FormatTopic(topicPattern, sensorID string) string {
	return strings.ReplaceAll(topicPattern, "{sensor_id}", sensorID)
}
