// Command rollups prints the minute rollups the store maintains for a sensor.
//
//	rollups -sensor a1b2c3d4 -since 2h
//	rollups -sensor a1b2c3d4 -from 2026-10-01T12:00:00Z -to 2026-10-01T13:00:00Z -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"soundscape-monitor/internal/database"
	"soundscape-monitor/internal/logging"
	"soundscape-monitor/internal/models"
	"soundscape-monitor/pkg/config"
)

var log = logging.Component("rollups")

type options struct {
	sensorID string
	from     time.Time
	to       time.Time
	asJSON   bool
}

func main() {
	cfg, err := config.LoadStorage()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	opts, err := parseFlags(os.Args[1:], cfg.SensorID, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := database.Open(ctx, database.Options{
		Driver:             cfg.StorageDriver,
		ClickHouseAddr:     cfg.ClickHouseAddr,
		ClickHouseDatabase: cfg.ClickHouseDB,
		ClickHouseUser:     cfg.ClickHouseUser,
		ClickHousePassword: cfg.ClickHousePass,
		DuckDBPath:         cfg.DuckDBPath,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer store.Close()

	rollups, err := store.MinuteRollups(ctx, opts.sensorID, opts.from, opts.to)
	if err != nil {
		log.WithError(err).Error("Rollup query failed")
		return
	}

	if err := printRollups(os.Stdout, rollups, opts.asJSON); err != nil {
		log.WithError(err).Error("Failed to write output")
	}
}

func parseFlags(args []string, defaultSensor string, now time.Time) (options, error) {
	fs := flag.NewFlagSet("rollups", flag.ContinueOnError)
	sensor := fs.String("sensor", defaultSensor, "sensor id (default SENSOR_ID)")
	since := fs.Duration("since", time.Hour, "window length ending now, ignored when -from is set")
	from := fs.String("from", "", "window start, RFC 3339")
	to := fs.String("to", "", "window end, RFC 3339 (default now)")
	asJSON := fs.Bool("json", false, "print JSON lines instead of a table")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *sensor == "" {
		return options{}, fmt.Errorf("-sensor is required when SENSOR_ID is not set")
	}

	opts := options{sensorID: *sensor, asJSON: *asJSON, to: now.UTC()}
	if *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return options{}, fmt.Errorf("invalid -to: %w", err)
		}
		opts.to = t
	}
	if *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return options{}, fmt.Errorf("invalid -from: %w", err)
		}
		opts.from = t
	} else {
		opts.from = opts.to.Add(-*since)
	}
	if !opts.from.Before(opts.to) {
		return options{}, fmt.Errorf("window start %s is not before end %s", opts.from.Format(time.RFC3339), opts.to.Format(time.RFC3339))
	}
	return opts, nil
}

func printRollups(w io.Writer, rollups []models.Rollup, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for i := range rollups {
			if err := enc.Encode(&rollups[i]); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MINUTE\tSLICES\tAVG dB\tMIN dB\tMAX dB\tPEAK BAND")
	for _, r := range rollups {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\t%s\n",
			r.Bucket.UTC().Format("2006-01-02 15:04"),
			r.Count, r.AvgDecibel, r.MinDecibel, r.MaxDecibel,
			r.AvgBands.Peak())
	}
	return tw.Flush()
}
