package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"soundscape-monitor/internal/archive"
	"soundscape-monitor/internal/capture"
	"soundscape-monitor/internal/database"
	"soundscape-monitor/internal/features"
	"soundscape-monitor/internal/ingestion"
	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
	"soundscape-monitor/internal/mqtt"
	"soundscape-monitor/internal/nats"
	"soundscape-monitor/internal/services"
	"soundscape-monitor/internal/slicer"
	"soundscape-monitor/pkg/config"
)

// summaryBuffer bounds live summaries waiting for the publisher.
const summaryBuffer = 16

var log = logging.Component("main")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize logging")
	}

	err = run(cfg)
	logFile.Close()
	if err != nil {
		log.WithError(err).Error("Monitor stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.WithFields(logrus.Fields{
		"sensor_id":   cfg.SensorID,
		"location_id": cfg.LocationID,
		"source":      cfg.CaptureSource,
		"storage":     cfg.StorageDriver,
		"transport":   cfg.LiveTransport,
	}).Info("Starting soundscape monitor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Closed last, after the final flush
	store, err := database.Open(ctx, database.Options{
		Driver:             cfg.StorageDriver,
		ClickHouseAddr:     cfg.ClickHouseAddr,
		ClickHouseDatabase: cfg.ClickHouseDB,
		ClickHouseUser:     cfg.ClickHouseUser,
		ClickHousePassword: cfg.ClickHousePass,
		DuckDBPath:         cfg.DuckDBPath,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ingest := ingestion.NewService(store, ingestion.Config{
		Capacity:       cfg.QueueCapacity,
		FlushInterval:  cfg.FlushInterval,
		FlushThreshold: cfg.FlushThreshold,
		FlushTimeout:   cfg.FlushTimeout,
		RetryBase:      cfg.RetryBase,
		RetryMax:       cfg.RetryMax,
	})

	if cfg.SpillDir != "" {
		if err := attachSpool(ctx, cfg.SpillDir, ingest); err != nil {
			return err
		}
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	sensor := models.Sensor{
		SensorID:    cfg.SensorID,
		LocationID:  cfg.LocationID,
		Description: cfg.SensorDescription,
		InstalledAt: time.Now().UTC(),
	}

	monitor := services.NewMonitorService(src, ingest, sensor, services.MonitorServiceConfig{
		SliceDuration: cfg.SliceDuration,
		Decibel: features.DecibelConfig{
			Reference: cfg.ReferenceAmplitude,
			Floor:     cfg.DecibelFloor,
		},
		SummaryInterval: cfg.SummaryInterval,
	})

	var g errgroup.Group

	// === Live summaries ===
	// The publisher drains until the monitor closes the channel, so the
	// summary emitted on shutdown is still delivered.
	if cfg.LiveTransport != config.TransportNone {
		summaries := make(chan *models.LevelSummary, summaryBuffer)
		monitor.SummaryChan = summaries

		start, closeTransport, err := openPublisher(cfg, summaries)
		if err != nil {
			return err
		}
		defer closeTransport()

		g.Go(func() error {
			start(context.Background())
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if monitor.SummaryChan != nil {
				close(monitor.SummaryChan)
			}
		}()
		return monitor.Run(ctx)
	})

	log.Info("Soundscape monitor is running, press Ctrl+C to exit")
	return g.Wait()
}

// openSource builds the configured capture source.
func openSource(cfg *config.Config) (capture.Source, error) {
	switch cfg.CaptureSource {
	case config.SourcePortAudio:
		return capture.OpenPortAudio(cfg.CaptureDevice, cfg.SampleRate, slicer.SampleCount(cfg.SampleRate, cfg.SliceDuration))
	case config.SourceTone:
		var opts []capture.ToneOption
		if cfg.ToneRealtime {
			opts = append(opts, capture.WithRealtime())
		}
		return capture.NewToneSource(cfg.ToneFrequency, cfg.ToneAmplitude, cfg.SampleRate, opts...)
	case config.SourcePCM:
		return capture.OpenPCMFile(cfg.CapturePCMPath, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.CaptureSource)
	}
}

// openPublisher connects the configured live transport and returns its
// publish loop together with a function that closes the connection.
func openPublisher(cfg *config.Config, summaries chan *models.LevelSummary) (func(context.Context), func(), error) {
	switch cfg.LiveTransport {
	case config.TransportMQTT:
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,

			StatusTopic: mqtt.FormatTopic(cfg.MQTTTopicStatus, cfg.SensorID),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect mqtt: %w", err)
		}
		pub := mqtt.NewPublisher(client.GetNativeClient(), mqtt.PublisherConfig{
			LevelsTopic: cfg.MQTTTopicLevels,
			QoS:         1,
		}, summaries)
		return pub.Start, client.Close, nil

	case config.TransportNATS:
		conn, err := nats.Connect(cfg.NATSURL, cfg.MQTTClientID)
		if err != nil {
			return nil, nil, err
		}
		pub := nats.NewPublisher(conn, cfg.NATSSubjectLevels, summaries)
		return pub.Start, conn.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown live transport %q", cfg.LiveTransport)
	}
}

// attachSpool makes dir the spill target for the final flush and writes
// records spilled by a previous run to storage, oldest first. Spilled records
// go straight to storage rather than through the queue, so a backlog larger
// than the queue loses nothing. If storage is down the files stay for the
// next start.
func attachSpool(ctx context.Context, dir string, ingest *ingestion.Service) error {
	spool, err := archive.NewSpool(dir)
	if err != nil {
		return fmt.Errorf("open spill dir: %w", err)
	}
	ingest.SetSpiller(spool)

	n, err := spool.Replay(func(records []models.FeatureRecord) (int, error) {
		return ingest.Backfill(ctx, records)
	})
	if n > 0 {
		log.WithField("records", n).Info("Replayed spilled records")
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ingestion.ErrStorageUnavailable):
		log.WithError(err).Warn("Storage unavailable, spilled records kept for the next start")
		return nil
	default:
		return fmt.Errorf("replay spill: %w", err)
	}
}
