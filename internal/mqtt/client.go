package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"soundscape-monitor/internal/logging"
)

var log = logging.Component("mqtt")

// Sensor availability payloads, retained on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Client owns the broker connection and the sensor's availability status.
// Level summaries are sent by Publisher.
type Client struct {
	client mqtt.Client
	config ClientConfig
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// StatusTopic receives a retained "online" on every (re)connect and
	// "offline" on Close or, through the broker's last will, on connection loss.
	// Empty disables status reporting.
	StatusTopic string
}

// NewClient connects to the broker and announces the sensor as online
func NewClient(config ClientConfig) (*Client, error) {
	client := mqtt.NewClient(clientOptions(config))

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.WithField("broker", config.Broker).Info("Connected to broker")

	return &Client{
		client: client,
		config: config,
	}, nil
}

func clientOptions(config ClientConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("Connection lost")
	})

	if config.StatusTopic == "" {
		opts.SetOnConnectHandler(func(mqtt.Client) {
			log.Info("Connection established")
		})
		return opts
	}

	opts.SetWill(config.StatusTopic, StatusOffline, 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("Connection established")
		// Runs on paho's callback goroutine; do not wait on the token here.
		c.Publish(config.StatusTopic, 1, true, StatusOnline)
	})
	return opts
}

// GetNativeClient returns the underlying paho MQTT client
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close marks the sensor offline and disconnects. A clean disconnect does
// not fire the last will, so the status is published explicitly.
func (c *Client) Close() {
	if c.config.StatusTopic != "" && c.client.IsConnected() {
		token := c.client.Publish(c.config.StatusTopic, 1, true, StatusOffline)
		if !token.WaitTimeout(2 * time.Second) {
			log.Warn("Timed out publishing offline status")
		} else if err := token.Error(); err != nil {
			log.WithError(err).Warn("Failed to publish offline status")
		}
	}
	c.client.Disconnect(250)
	log.Info("Disconnected")
}
