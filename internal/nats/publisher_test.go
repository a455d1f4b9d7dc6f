package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscape-monitor/internal/models"
)

// MockConnection records published messages
type MockConnection struct {
	mu        sync.Mutex
	messages  map[string][][]byte
	connected bool
	flushes   int
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		messages:  make(map[string][][]byte),
		connected: true,
	}
}

func (m *MockConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nats.ErrConnectionClosed
	}
	m.messages[subject] = append(m.messages[subject], data)
	return nil
}

func (m *MockConnection) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *MockConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockConnection) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[subject])
}

func TestPublisher(t *testing.T) {
	summary := &models.LevelSummary{
		SensorID:   "a1b2c3d4",
		LocationID: "park",
		Slices:     600,
		Leq:        -25,
	}

	t.Run("publishes_to_sensor_subject", func(t *testing.T) {
		conn := NewMockConnection()
		ch := make(chan *models.LevelSummary, 1)
		pub := NewPublisher(conn, "", ch)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			pub.Start(ctx)
			close(done)
		}()

		ch <- summary
		subject := "soundscape.levels.a1b2c3d4"
		require.Eventually(t, func() bool { return conn.count(subject) == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done

		var got models.LevelSummary
		require.NoError(t, json.Unmarshal(conn.messages[subject][0], &got))
		assert.Equal(t, "park", got.LocationID)
		assert.Equal(t, -25.0, got.Leq)
		assert.Equal(t, 1, conn.flushes)
	})

	t.Run("closed_connection_error", func(t *testing.T) {
		conn := NewMockConnection()
		conn.Close()
		pub := NewPublisher(conn, "levels.{sensor_id}", nil)

		err := pub.publishSummary(summary)
		assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	})

	t.Run("stops_when_channel_closed", func(t *testing.T) {
		ch := make(chan *models.LevelSummary)
		pub := NewPublisher(NewMockConnection(), "", ch)

		done := make(chan struct{})
		go func() {
			pub.Start(context.Background())
			close(done)
		}()
		close(ch)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publisher did not stop")
		}
	})
}

func TestFormatSubject(t *testing.T) {
	assert.Equal(t, "soundscape.levels.s1", FormatSubject(DefaultLevelsSubject, "s1"))
}
