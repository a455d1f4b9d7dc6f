package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"soundscape-monitor/internal/capture"
	"soundscape-monitor/internal/features"
	"soundscape-monitor/internal/ingestion"
	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
	"soundscape-monitor/internal/slicer"
	"soundscape-monitor/internal/summary"
)

// MonitorServiceConfig holds configuration for the monitor service
type MonitorServiceConfig struct {
	SliceDuration   time.Duration
	Decibel         features.DecibelConfig
	SummaryInterval time.Duration
	Origin          time.Time // Start of slice 0; zero means now
}

// DefaultMonitorServiceConfig returns default configuration
func DefaultMonitorServiceConfig() MonitorServiceConfig {
	return MonitorServiceConfig{
		SliceDuration:   slicer.DefaultDuration,
		Decibel:         features.DefaultDecibelConfig(),
		SummaryInterval: time.Minute,
	}
}

// MonitorStats counts slices seen by the monitor loop
type MonitorStats struct {
	Slices    int64
	Records   int64
	Malformed int64
	Padded    int64
	Summaries int64
}

// MonitorService runs capture → slicer → feature extraction → ingestion
// at the slice cadence, and emits a level summary every SummaryInterval.
type MonitorService struct {
	source capture.Source
	ingest *ingestion.Service
	sensor models.Sensor
	config MonitorServiceConfig

	// Output channel for live summaries (read by a publisher). Nil disables
	// publishing; summaries are still logged.
	SummaryChan chan *models.LevelSummary

	slices    atomic.Int64
	records   atomic.Int64
	malformed atomic.Int64
	padded    atomic.Int64
	summaries atomic.Int64

	// Owned by the Run goroutine
	lastEnd     time.Time
	lastDropped int64

	log *logrus.Entry
}

// NewMonitorService creates a new monitor service
func NewMonitorService(
	source capture.Source,
	ingest *ingestion.Service,
	sensor models.Sensor,
	config MonitorServiceConfig,
) *MonitorService {
	if config.SliceDuration <= 0 {
		config.SliceDuration = slicer.DefaultDuration
	}
	if config.SummaryInterval <= 0 {
		config.SummaryInterval = time.Minute
	}
	return &MonitorService{
		source: source,
		ingest: ingest,
		sensor: sensor,
		config: config,
		log:    logging.Component("monitor"),
	}
}

// Run processes slices until ctx is cancelled, the source ends, or capture
// fails. It then stops the ingestion service, which performs the final flush,
// and returns once that flush is done.
//
// A capture failure is returned wrapped in capture.ErrCaptureFailure.
// Cancellation and end of stream are clean stops.
func (m *MonitorService) Run(ctx context.Context) error {
	sl, err := slicer.New(m.source, m.config.SliceDuration, m.config.Origin)
	if err != nil {
		return fmt.Errorf("create slicer: %w", err)
	}

	extractor, err := features.NewExtractor(m.sensor.SensorID, m.sensor.LocationID, m.source.SampleRate(), sl.Size(), m.config.Decibel)
	if err != nil {
		return fmt.Errorf("create extractor: %w", err)
	}

	window, err := summary.NewWindow(m.sensor.SensorID, m.sensor.LocationID, sl.Origin())
	if err != nil {
		return err
	}

	if err := m.ingest.RegisterSensor(ctx, m.sensor); err != nil {
		m.log.WithError(err).Warn("Sensor registration deferred to first flush")
	}

	// Ingestion outlives the slice loop so the final flush sees every record.
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	ingestDone := make(chan error, 1)
	go func() { ingestDone <- m.ingest.Run(ingestCtx) }()

	m.log.WithFields(logrus.Fields{
		"sensor_id":   m.sensor.SensorID,
		"location_id": m.sensor.LocationID,
		"sample_rate": m.source.SampleRate(),
		"slice":       m.config.SliceDuration,
		"samples":     sl.Size(),
		"origin":      sl.Origin(),
	}).Info("Starting...")

	runErr := m.loop(ctx, sl, extractor, window)

	if !window.Empty() {
		end := m.lastEnd
		if end.IsZero() {
			end = window.Start()
		}
		m.emit(window.Summary(end, m.droppedSince()))
	}

	stopIngest()
	ingestErr := <-ingestDone

	stats := m.Stats()
	ingestStats := m.ingest.Stats()
	m.log.WithFields(logrus.Fields{
		"slices":    stats.Slices,
		"records":   stats.Records,
		"malformed": stats.Malformed,
		"padded":    stats.Padded,
		"flushed":   ingestStats.Flushed,
		"dropped":   ingestStats.Dropped,
		"spilled":   ingestStats.Spilled,
	}).Info("Shutdown complete")

	return errors.Join(runErr, ingestErr)
}

func (m *MonitorService) loop(ctx context.Context, sl *slicer.Slicer, extractor *features.Extractor, window *summary.Window) error {
	for {
		slice, err := sl.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				m.log.Info("Stopping on shutdown signal")
				return nil
			case errors.Is(err, capture.ErrEndOfStream):
				m.log.Info("Capture source ended")
				return nil
			default:
				m.log.WithError(err).Error("Capture failed")
				return err
			}
		}
		m.slices.Add(1)

		if slice.Padded {
			m.padded.Add(1)
			window.AddPadded()
			m.log.WithField("index", slice.Index).Debug("Capture underrun, slice padded")
		}

		rec, err := extractor.Extract(slice)
		if err != nil {
			m.malformed.Add(1)
			window.AddMalformed()
			m.log.WithError(err).WithField("index", slice.Index).Warn("Skipping malformed slice")
		} else {
			m.ingest.Append(rec)
			m.records.Add(1)
			window.Add(rec.DecibelLevel)
			m.log.WithFields(logrus.Fields{
				"index":  slice.Index,
				"db":     rec.DecibelLevel,
				"peak":   rec.FrequencyBands.Peak(),
				"queued": m.ingest.Len(),
			}).Debug("Slice processed")
		}

		// Window boundaries follow slice time, not the wall clock.
		end := slice.End()
		m.lastEnd = end
		if !end.Before(window.Start().Add(m.config.SummaryInterval)) {
			m.emit(window.Summary(end, m.droppedSince()))
			window.Reset(end)
		}
	}
}

// droppedSince returns backpressure drops since the previous call.
func (m *MonitorService) droppedSince() int64 {
	total := m.ingest.Stats().Dropped
	delta := total - m.lastDropped
	m.lastDropped = total
	return delta
}

// emit logs a summary and hands it to the publisher without blocking.
func (m *MonitorService) emit(s models.LevelSummary) {
	m.summaries.Add(1)
	m.log.WithFields(logrus.Fields{
		"slices":  s.Slices,
		"leq":     fmt.Sprintf("%.1f", s.Leq),
		"l10":     fmt.Sprintf("%.1f", s.L10),
		"l50":     fmt.Sprintf("%.1f", s.L50),
		"l90":     fmt.Sprintf("%.1f", s.L90),
		"dropped": s.Dropped,
	}).Info("Level summary")

	if m.SummaryChan == nil {
		return
	}
	select {
	case m.SummaryChan <- &s:
	default:
		m.log.Warn("Summary channel full, dropping summary")
	}
}

// Stats returns the monitor counters
func (m *MonitorService) Stats() MonitorStats {
	return MonitorStats{
		Slices:    m.slices.Load(),
		Records:   m.records.Load(),
		Malformed: m.malformed.Load(),
		Padded:    m.padded.Load(),
		Summaries: m.summaries.Load(),
	}
}
