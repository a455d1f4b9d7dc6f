// Package ingestion buffers feature records and writes them to storage in batches.
//
// Records are appended to a bounded Queue and flushed on a timer or once the
// queue reaches the flush threshold, whichever comes first. A failed flush
// leaves the queue untouched and is retried with exponential backoff; while
// storage stays down the queue fills and the oldest records are evicted.
// Every sensor referenced by a batch is upserted before the batch is inserted.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
)

// ErrStorageUnavailable is returned when a flush cannot reach storage.
// Queued records are retained.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is the storage the service writes to.
type Store interface {
	UpsertSensor(ctx context.Context, sensor *models.Sensor) error
	InsertFeatures(ctx context.Context, records []models.FeatureRecord) error
}

// Spiller persists records that could not be flushed before shutdown.
type Spiller interface {
	Spill(records []models.FeatureRecord) (string, error)
}

// Config holds ingestion settings.
type Config struct {
	Capacity       int
	FlushInterval  time.Duration
	FlushThreshold int
	FlushTimeout   time.Duration // Bounds each flush attempt
	RetryBase      time.Duration
	RetryMax       time.Duration
}

// DefaultConfig returns the default ingestion settings.
func DefaultConfig() Config {
	return Config{
		Capacity:       DefaultCapacity,
		FlushInterval:  time.Second,
		FlushThreshold: 10,
		FlushTimeout:   5 * time.Second,
		RetryBase:      500 * time.Millisecond,
		RetryMax:       30 * time.Second,
	}
}

// Stats is a point-in-time view of the service counters.
type Stats struct {
	Appended      int64
	Flushed       int64
	Dropped       int64
	Batches       int64
	FailedFlushes int64
	Spilled       int64
	Queued        int
	UsageRatio    float64
}

type counters struct {
	flushed       atomic.Int64
	batches       atomic.Int64
	failedFlushes atomic.Int64
	spilled       atomic.Int64
}

// Service owns the queue and the flush schedule.
type Service struct {
	config Config
	store  Store
	queue  *Queue
	spill  Spiller

	mu         sync.Mutex
	sensors    map[string]models.Sensor
	registered map[string]bool

	// One flush at a time
	flushMu sync.Mutex
	flushCh chan struct{}

	stats counters
	log   *logrus.Entry
}

// NewService creates an ingestion service writing to store.
func NewService(store Store, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = def.FlushThreshold
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}

	return &Service{
		config:     cfg,
		store:      store,
		queue:      NewQueue(cfg.Capacity),
		sensors:    make(map[string]models.Sensor),
		registered: make(map[string]bool),
		flushCh:    make(chan struct{}, 1),
		log:        logging.Component("ingestion"),
	}
}

// SetSpiller sets where unflushed records go on shutdown.
func (s *Service) SetSpiller(sp Spiller) {
	s.spill = sp
}

// RegisterSensor records sensor metadata and upserts it right away.
// On failure the metadata is kept and the upsert is retried by the next flush
// that carries a record for this sensor.
func (s *Service) RegisterSensor(ctx context.Context, sensor models.Sensor) error {
	s.mu.Lock()
	s.sensors[sensor.SensorID] = sensor
	delete(s.registered, sensor.SensorID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()

	if err := s.store.UpsertSensor(ctx, &sensor); err != nil {
		return fmt.Errorf("%w: register sensor %s: %v", ErrStorageUnavailable, sensor.SensorID, err)
	}

	s.mu.Lock()
	s.registered[sensor.SensorID] = true
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"sensor_id":   sensor.SensorID,
		"location_id": sensor.LocationID,
	}).Info("Registered sensor")
	return nil
}

// Append queues a record for the next flush. It never blocks on storage.
// Reaching the flush threshold wakes the flush loop.
func (s *Service) Append(rec models.FeatureRecord) {
	if s.queue.Append(rec) {
		s.log.WithField("dropped_total", s.queue.Dropped()).Debug("Queue full, evicted oldest record")
	}
	if s.queue.Len() >= s.config.FlushThreshold {
		s.ForceFlush()
	}
}

// ForceFlush wakes the flush loop without waiting for the timer.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Flush writes every queued record in one batch.
// On failure nothing is removed from the queue and the returned error wraps
// ErrStorageUnavailable. Records appended while the flush is in progress stay
// queued for the next one.
func (s *Service) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	records, upTo := s.queue.Snapshot()
	if len(records) == 0 {
		return nil
	}

	if err := s.insertBatch(ctx, records); err != nil {
		return err
	}
	removed := s.queue.Commit(upTo)

	s.log.WithFields(logrus.Fields{
		"records": len(records),
		"evicted": len(records) - removed,
		"queued":  s.queue.Len(),
	}).Debug("Inserted batch")
	return nil
}

// Backfill writes records straight to storage in batches of at most the queue
// capacity, bypassing the queue so a backlog cannot evict live records.
// It stops at the first failed batch and returns how many leading records
// were stored; the error wraps ErrStorageUnavailable.
func (s *Service) Backfill(ctx context.Context, records []models.FeatureRecord) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch := s.queue.Cap()
	written := 0
	for written < len(records) {
		end := written + batch
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertBatch(ctx, records[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (s *Service) insertBatch(ctx context.Context, records []models.FeatureRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()

	if err := s.ensureRegistered(ctx, records); err != nil {
		s.stats.failedFlushes.Add(1)
		return err
	}
	if err := s.store.InsertFeatures(ctx, records); err != nil {
		s.stats.failedFlushes.Add(1)
		return fmt.Errorf("%w: insert %d records: %v", ErrStorageUnavailable, len(records), err)
	}
	s.stats.flushed.Add(int64(len(records)))
	s.stats.batches.Add(1)
	return nil
}

// ensureRegistered upserts every sensor in records that is not yet known to storage.
func (s *Service) ensureRegistered(ctx context.Context, records []models.FeatureRecord) error {
	s.mu.Lock()
	var pending []models.Sensor
	seen := make(map[string]bool)
	for _, rec := range records {
		if s.registered[rec.SensorID] || seen[rec.SensorID] {
			continue
		}
		seen[rec.SensorID] = true

		sensor, ok := s.sensors[rec.SensorID]
		if !ok {
			sensor = models.Sensor{
				SensorID:    rec.SensorID,
				LocationID:  rec.LocationID,
				Description: fmt.Sprintf("Sensor at %s", rec.LocationID),
				InstalledAt: time.Now().UTC(),
			}
			s.sensors[rec.SensorID] = sensor
		}
		pending = append(pending, sensor)
	}
	s.mu.Unlock()

	for i := range pending {
		if err := s.store.UpsertSensor(ctx, &pending[i]); err != nil {
			return fmt.Errorf("%w: register sensor %s: %v", ErrStorageUnavailable, pending[i].SensorID, err)
		}
		s.mu.Lock()
		s.registered[pending[i].SensorID] = true
		s.mu.Unlock()
		s.log.WithField("sensor_id", pending[i].SensorID).Info("Auto-registered sensor")
	}
	return nil
}

// Run flushes on the configured interval or threshold until ctx is cancelled,
// then performs a final flush. Records that still cannot be written are
// spilled if a Spiller is set. The returned error reports records that were lost.
func (s *Service) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"interval":  s.config.FlushInterval,
		"threshold": s.config.FlushThreshold,
		"capacity":  s.queue.Cap(),
	}).Info("Ingestion started")

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	backoff := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
		case <-s.flushCh:
		}
		// Cancellation wins over a tick or trigger that became ready with it
		if ctx.Err() != nil {
			return s.shutdown()
		}

		for {
			err := s.Flush(ctx)
			if err == nil {
				if backoff > 0 {
					s.log.Info("Storage recovered")
				}
				backoff = 0
				break
			}
			if ctx.Err() != nil {
				break
			}

			backoff = nextBackoff(backoff, s.config.RetryBase, s.config.RetryMax)
			s.log.WithError(err).WithFields(logrus.Fields{
				"retry_in": backoff,
				"queued":   s.queue.Len(),
				"dropped":  s.queue.Dropped(),
			}).Warn("Flush failed")

			if !sleep(ctx, backoff) {
				break
			}
		}
	}
}

func (s *Service) shutdown() error {
	err := s.Flush(context.Background())
	if err == nil {
		s.log.Info("Ingestion stopped, queue flushed")
		return nil
	}

	records := s.queue.Drain()
	if s.spill != nil {
		path, spillErr := s.spill.Spill(records)
		if spillErr == nil {
			s.stats.spilled.Add(int64(len(records)))
			s.log.WithFields(logrus.Fields{
				"records": len(records),
				"path":    path,
			}).Warn("Final flush failed, records spilled")
			return nil
		}
		err = fmt.Errorf("%w; spill: %v", err, spillErr)
	}

	s.log.WithError(err).WithField("records", len(records)).Error("Final flush failed, records lost")
	return fmt.Errorf("lost %d records: %w", len(records), err)
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Appended:      s.queue.Appended(),
		Flushed:       s.stats.flushed.Load(),
		Dropped:       s.queue.Dropped(),
		Batches:       s.stats.batches.Load(),
		FailedFlushes: s.stats.failedFlushes.Load(),
		Spilled:       s.stats.spilled.Load(),
		Queued:        s.queue.Len(),
		UsageRatio:    s.queue.UsageRatio(),
	}
}

// Len returns the number of queued records.
func (s *Service) Len() int {
	return s.queue.Len()
}

func nextBackoff(cur, base, max time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
