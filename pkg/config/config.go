package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"soundscape-monitor/internal/logging"
)

// Capture sources
const (
	SourcePortAudio = "portaudio"
	SourceTone      = "tone"
	SourcePCM       = "pcm"
)

// Live transports
const (
	TransportNone = "none"
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

type Config struct {
	// Sensor identity
	SensorID          string `yaml:"sensor_id"`
	LocationID        string `yaml:"location_id"`
	SensorDescription string `yaml:"sensor_description"`

	// Capture
	SampleRate     int           `yaml:"sample_rate"`
	SliceDuration  time.Duration `yaml:"slice_duration"`
	CaptureSource  string        `yaml:"capture_source"`
	CaptureDevice  string        `yaml:"capture_device"`
	CapturePCMPath string        `yaml:"capture_pcm_path"`
	ToneFrequency  float64       `yaml:"tone_frequency"`
	ToneAmplitude  float64       `yaml:"tone_amplitude"`
	ToneRealtime   bool          `yaml:"tone_realtime"` // Pace the tone source like a live device

	// Feature extraction
	ReferenceAmplitude float64 `yaml:"reference_amplitude"`
	DecibelFloor       float64 `yaml:"decibel_floor"`

	// Storage
	StorageDriver  string `yaml:"storage_driver"`
	ClickHouseAddr string `yaml:"clickhouse_addr"`
	ClickHouseDB   string `yaml:"clickhouse_db"`
	ClickHouseUser string `yaml:"clickhouse_user"`
	ClickHousePass string `yaml:"clickhouse_pass"`
	DuckDBPath     string `yaml:"duckdb_path"`

	// Ingestion
	QueueCapacity  int           `yaml:"queue_capacity"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushThreshold int           `yaml:"flush_threshold"`
	FlushTimeout   time.Duration `yaml:"flush_timeout"`
	RetryBase      time.Duration `yaml:"retry_base"`
	RetryMax       time.Duration `yaml:"retry_max"`
	SpillDir       string        `yaml:"spill_dir"`

	// Live summaries
	SummaryInterval   time.Duration `yaml:"summary_interval"`
	LiveTransport     string        `yaml:"live_transport"`
	MQTTBroker        string        `yaml:"mqtt_broker"`
	MQTTClientID      string        `yaml:"mqtt_client_id"`
	MQTTUsername      string        `yaml:"mqtt_username"`
	MQTTPassword      string        `yaml:"mqtt_password"`
	MQTTTopicLevels   string        `yaml:"mqtt_topic_levels"`
	MQTTTopicStatus   string        `yaml:"mqtt_topic_status"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubjectLevels string        `yaml:"nats_subject_levels"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		SampleRate:    44100,
		SliceDuration: 100 * time.Millisecond,
		CaptureSource: SourcePortAudio,
		ToneFrequency: 440,
		ToneAmplitude: 0.5,
		ToneRealtime:  true,

		ReferenceAmplitude: 1.0,
		DecibelFloor:       -96,

		StorageDriver:  "clickhouse",
		ClickHouseAddr: "localhost:9000",
		ClickHouseDB:   "soundscape",
		ClickHouseUser: "default",
		DuckDBPath:     "soundscape.duckdb",

		QueueCapacity:  6000,
		FlushInterval:  time.Second,
		FlushThreshold: 10,
		FlushTimeout:   5 * time.Second,
		RetryBase:      500 * time.Millisecond,
		RetryMax:       30 * time.Second,

		SummaryInterval:   time.Minute,
		LiveTransport:     TransportNone,
		MQTTBroker:        "tcp://localhost:1883",
		MQTTClientID:      "soundscape-monitor",
		MQTTTopicLevels:   "soundscape/{sensor_id}/levels",
		MQTTTopicStatus:   "soundscape/{sensor_id}/status",
		NATSURL:           "nats://localhost:4222",
		NATSSubjectLevels: "soundscape.levels.{sensor_id}",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and the environment (including a .env file), in that order.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if cfg.SensorID == "" {
		cfg.SensorID = uuid.NewString()[:8]
	}
	if cfg.SensorDescription == "" {
		cfg.SensorDescription = fmt.Sprintf("Sensor at %s", cfg.LocationID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage reads the same sources as Load but only checks the storage
// settings. Query tools use it since they need no sensor identity.
func LoadStorage() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	switch cfg.StorageDriver {
	case "clickhouse", "duckdb":
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return cfg, nil
}

func read() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.SensorID = getEnv("SENSOR_ID", c.SensorID)
	c.LocationID = getEnv("LOCATION_ID", c.LocationID)
	c.SensorDescription = getEnv("SENSOR_DESCRIPTION", c.SensorDescription)

	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.SliceDuration = getEnvDuration("SLICE_DURATION", c.SliceDuration)
	c.CaptureSource = getEnv("CAPTURE_SOURCE", c.CaptureSource)
	c.CaptureDevice = getEnv("CAPTURE_DEVICE", c.CaptureDevice)
	c.CapturePCMPath = getEnv("CAPTURE_PCM_PATH", c.CapturePCMPath)
	c.ToneFrequency = getEnvFloat("TONE_FREQUENCY", c.ToneFrequency)
	c.ToneAmplitude = getEnvFloat("TONE_AMPLITUDE", c.ToneAmplitude)
	c.ToneRealtime = getEnvBool("TONE_REALTIME", c.ToneRealtime)

	c.ReferenceAmplitude = getEnvFloat("REFERENCE_AMPLITUDE", c.ReferenceAmplitude)
	c.DecibelFloor = getEnvFloat("DECIBEL_FLOOR", c.DecibelFloor)

	c.StorageDriver = getEnv("STORAGE_DRIVER", c.StorageDriver)
	c.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", c.ClickHouseAddr)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.ClickHouseUser = getEnv("CLICKHOUSE_USER", c.ClickHouseUser)
	c.ClickHousePass = getEnv("CLICKHOUSE_PASS", c.ClickHousePass)
	c.DuckDBPath = getEnv("DUCKDB_PATH", c.DuckDBPath)

	c.QueueCapacity = getEnvInt("QUEUE_CAPACITY", c.QueueCapacity)
	c.FlushInterval = getEnvDuration("FLUSH_INTERVAL", c.FlushInterval)
	c.FlushThreshold = getEnvInt("FLUSH_THRESHOLD", c.FlushThreshold)
	c.FlushTimeout = getEnvDuration("FLUSH_TIMEOUT", c.FlushTimeout)
	c.RetryBase = getEnvDuration("RETRY_BASE", c.RetryBase)
	c.RetryMax = getEnvDuration("RETRY_MAX", c.RetryMax)
	c.SpillDir = getEnv("SPILL_DIR", c.SpillDir)

	c.SummaryInterval = getEnvDuration("SUMMARY_INTERVAL", c.SummaryInterval)
	c.LiveTransport = getEnv("LIVE_TRANSPORT", c.LiveTransport)
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.MQTTTopicLevels = getEnv("MQTT_TOPIC_LEVELS", c.MQTTTopicLevels)
	c.MQTTTopicStatus = getEnv("MQTT_TOPIC_STATUS", c.MQTTTopicStatus)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubjectLevels = getEnv("NATS_SUBJECT_LEVELS", c.NATSSubjectLevels)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.LocationID == "" {
		errs = append(errs, errors.New("LOCATION_ID is required"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate))
	}
	if c.SliceDuration <= 0 {
		errs = append(errs, fmt.Errorf("SLICE_DURATION must be positive, got %s", c.SliceDuration))
	}
	if c.ReferenceAmplitude <= 0 {
		errs = append(errs, fmt.Errorf("REFERENCE_AMPLITUDE must be positive, got %g", c.ReferenceAmplitude))
	}
	if c.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_THRESHOLD must be positive, got %d", c.FlushThreshold))
	}
	if c.QueueCapacity < c.FlushThreshold {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY (%d) must be at least FLUSH_THRESHOLD (%d)", c.QueueCapacity, c.FlushThreshold))
	}
	if c.FlushInterval <= 0 || c.FlushTimeout <= 0 || c.RetryBase <= 0 || c.SummaryInterval <= 0 {
		errs = append(errs, errors.New("FLUSH_INTERVAL, FLUSH_TIMEOUT, RETRY_BASE and SUMMARY_INTERVAL must be positive"))
	}
	if c.RetryMax < c.RetryBase {
		errs = append(errs, fmt.Errorf("RETRY_MAX (%s) must be at least RETRY_BASE (%s)", c.RetryMax, c.RetryBase))
	}

	switch c.CaptureSource {
	case SourcePortAudio, SourceTone:
	case SourcePCM:
		if c.CapturePCMPath == "" {
			errs = append(errs, errors.New("CAPTURE_PCM_PATH is required for the pcm source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CAPTURE_SOURCE %q", c.CaptureSource))
	}

	switch c.StorageDriver {
	case "clickhouse", "duckdb":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	switch c.LiveTransport {
	case TransportNone, TransportMQTT, TransportNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown LIVE_TRANSPORT %q", c.LiveTransport))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		logging.Component("config").Warnf("Failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logging.Component("config").Warnf("Failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		logging.Component("config").Warnf("Failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		logging.Component("config").Warnf("Failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
