package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	t.Run("status_topic_sets_last_will", func(t *testing.T) {
		opts := clientOptions(ClientConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "soundscape-monitor",
			StatusTopic: "soundscape/a1b2c3d4/status",
		})

		require.Len(t, opts.Servers, 1)
		assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
		assert.Equal(t, "soundscape-monitor", opts.ClientID)
		assert.True(t, opts.WillEnabled)
		assert.Equal(t, "soundscape/a1b2c3d4/status", opts.WillTopic)
		assert.Equal(t, []byte(StatusOffline), opts.WillPayload)
		assert.True(t, opts.WillRetained)
		assert.True(t, opts.AutoReconnect)
		assert.NotNil(t, opts.OnConnect)
	})

	t.Run("no_status_topic", func(t *testing.T) {
		opts := clientOptions(ClientConfig{Broker: "tcp://localhost:1883"})
		assert.False(t, opts.WillEnabled)
		assert.NotNil(t, opts.OnConnect)
	})
}
