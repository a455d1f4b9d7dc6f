package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
)

// DefaultLevelsSubject is the subject pattern for level summaries.
const DefaultLevelsSubject = "soundscape.levels.{sensor_id}"

var log = logging.Component("nats")

// Connection interface for dependency injection
type Connection interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// ConnectionAdapter adapts *nats.Conn to Connection
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnectionAdapter) Flush() error {
	return a.conn.Flush()
}

func (a *ConnectionAdapter) Close() {
	a.conn.Drain()
}

// Publisher publishes level summaries read from a channel
type Publisher struct {
	conn          Connection
	levelsSubject string

	// Input channel (written by the monitor service)
	SummaryChan chan *models.LevelSummary
}

// Connect dials the server, retrying a few times before giving up
func Connect(url, name string) (*ConnectionAdapter, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.WithError(err).Warn("Disconnected")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.WithField("url", c.ConnectedUrl()).Info("Reconnected")
			}),
		)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("Failed to connect to NATS (attempt %d/5)", i+1)
		time.Sleep(2 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}

	log.WithField("url", url).Info("Connected to NATS")
	return NewConnectionAdapter(nc), nil
}

// NewPublisher creates a publisher on an existing connection
func NewPublisher(conn Connection, levelsSubject string, summaryChan chan *models.LevelSummary) *Publisher {
	if levelsSubject == "" {
		levelsSubject = DefaultLevelsSubject
	}
	return &Publisher{
		conn:          conn,
		levelsSubject: levelsSubject,
		SummaryChan:   summaryChan,
	}
}

// Start publishes summaries until ctx is cancelled or the channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Info("Publisher starting")
	defer func() {
		if err := p.conn.Flush(); err != nil {
			log.WithError(err).Warn("Flush on stop failed")
		}
	}()

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

func (p *Publisher) publishSummary(summary *models.LevelSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal level summary: %w", err)
	}

	subject := FormatSubject(p.levelsSubject, summary.SensorID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.WithField("subject", subject).Debug("Published level summary")
	return nil
}

// FormatSubject replaces the {sensor_id} placeholder
func FormatSubject(pattern, sensorID string) string {
	return strings.ReplaceAll(pattern, "{sensor_id}", sensorID)
}
