// Package archive spills feature records to Parquet files when storage is
// unreachable at shutdown, and reads them back at the next start.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
)

const (
	filePrefix = "spill-"
	fileExt    = ".parquet"
)

// Row is a FeatureRecord in Parquet format.
type Row struct {
	TimeUnixNano int64   `parquet:"time_unix_nano"`
	SensorID     string  `parquet:"sensor_id,zstd"`
	LocationID   string  `parquet:"location_id,zstd"`
	DecibelLevel float64 `parquet:"decibel_level"`
	SubBass      float64 `parquet:"sub_bass"`
	Bass         float64 `parquet:"bass"`
	LowMid       float64 `parquet:"low_mid"`
	Mid          float64 `parquet:"mid"`
	UpperMid     float64 `parquet:"upper_mid"`
	Presence     float64 `parquet:"presence"`
	Brilliance   float64 `parquet:"brilliance"`
}

// RecordToRow converts a FeatureRecord to a Row.
func RecordToRow(r *models.FeatureRecord) Row {
	b := &r.FrequencyBands
	return Row{
		TimeUnixNano: r.Timestamp.UnixNano(),
		SensorID:     r.SensorID,
		LocationID:   r.LocationID,
		DecibelLevel: r.DecibelLevel,
		SubBass:      b[models.SubBass],
		Bass:         b[models.Bass],
		LowMid:       b[models.LowMid],
		Mid:          b[models.Mid],
		UpperMid:     b[models.UpperMid],
		Presence:     b[models.Presence],
		Brilliance:   b[models.Brilliance],
	}
}

// RowToRecord converts a Row to a FeatureRecord.
func RowToRecord(r *Row) models.FeatureRecord {
	var bands models.BandLevels
	bands[models.SubBass] = r.SubBass
	bands[models.Bass] = r.Bass
	bands[models.LowMid] = r.LowMid
	bands[models.Mid] = r.Mid
	bands[models.UpperMid] = r.UpperMid
	bands[models.Presence] = r.Presence
	bands[models.Brilliance] = r.Brilliance

	return models.FeatureRecord{
		Timestamp:      time.Unix(0, r.TimeUnixNano).UTC(),
		SensorID:       r.SensorID,
		LocationID:     r.LocationID,
		DecibelLevel:   r.DecibelLevel,
		FrequencyBands: bands,
	}
}

// Spool manages spill files in one directory.
type Spool struct {
	dir string
	now func() time.Time
	log *logrus.Entry
}

// NewSpool creates the directory if needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create spill directory: %w", err)
	}
	return &Spool{
		dir: dir,
		now: time.Now,
		log: logging.Component("archive"),
	}, nil
}

// Dir returns the spill directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Spill writes records to a new file and returns its path.
// The file only appears under its final name once fully written.
func (s *Spool) Spill(records []models.FeatureRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	name := fmt.Sprintf("%s%020d%s", filePrefix, s.now().UTC().UnixNano(), fileExt)
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, records); err != nil {
		return "", err
	}
	return path, nil
}

// Pending lists spill files, oldest first.
func (s *Spool) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read spill directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	// Zero-padded timestamps sort lexically
	sort.Strings(paths)
	return paths, nil
}

// Replay hands the records of each pending file, oldest first, to store,
// which returns how many leading records it wrote. A file is deleted only
// once all of its records are written. When store fails the file is
// rewritten with the records it did not take and replay stops, leaving the
// remaining files for a later run. A file that cannot be read is skipped.
// Returns the number of records written.
func (s *Spool) Replay(store func([]models.FeatureRecord) (int, error)) (int, error) {
	paths, err := s.Pending()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range paths {
		records, err := ReadFile(path)
		if err != nil {
			s.log.WithError(err).WithField("path", path).Warn("Skipping unreadable spill file")
			continue
		}

		n, storeErr := store(records)
		if n > len(records) {
			n = len(records)
		}
		total += n

		if storeErr != nil {
			if n > 0 {
				// Same name, so the remainder keeps its place in the order
				if err := writeAtomic(path, records[n:]); err != nil {
					return total, fmt.Errorf("%w; keep unreplayed records: %v", storeErr, err)
				}
			}
			s.log.WithFields(logrus.Fields{
				"path":      path,
				"replayed":  n,
				"remaining": len(records) - n,
			}).Warn("Replay stopped, spill file kept")
			return total, storeErr
		}

		if err := os.Remove(path); err != nil {
			return total, fmt.Errorf("remove spill file: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"path":    path,
			"records": len(records),
		}).Info("Replayed spill file")
	}
	return total, nil
}

// writeAtomic writes records to path through a temporary file, so path only
// ever holds a complete file.
func writeAtomic(path string, records []models.FeatureRecord) error {
	tmp := path + ".tmp"
	if err := WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename spill file: %w", err)
	}
	return nil
}

// WriteFile writes records to a Parquet file at path.
func WriteFile(path string, records []models.FeatureRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f, parquet.Compression(&parquet.Zstd))

	rows := make([]Row, len(records))
	for i := range records {
		rows[i] = RecordToRow(&records[i])
	}

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	return f.Close()
}

// ReadFile reads every record from a Parquet file.
func ReadFile(path string) ([]models.FeatureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	records := make([]models.FeatureRecord, n)
	for i := 0; i < n; i++ {
		records[i] = RowToRecord(&rows[i])
	}
	return records, nil
}
