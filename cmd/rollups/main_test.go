package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscape-monitor/internal/models"
)

var now = time.Date(2026, 10, 1, 13, 0, 0, 0, time.UTC)

func TestParseFlags(t *testing.T) {
	t.Run("since_ends_now", func(t *testing.T) {
		opts, err := parseFlags([]string{"-since", "2h"}, "a1b2c3d4", now)
		require.NoError(t, err)
		assert.Equal(t, "a1b2c3d4", opts.sensorID)
		assert.Equal(t, now.Add(-2*time.Hour), opts.from)
		assert.Equal(t, now, opts.to)
	})

	t.Run("explicit_window", func(t *testing.T) {
		opts, err := parseFlags([]string{
			"-sensor", "s2",
			"-from", "2026-10-01T10:00:00Z",
			"-to", "2026-10-01T11:00:00Z",
			"-json",
		}, "", now)
		require.NoError(t, err)
		assert.Equal(t, "s2", opts.sensorID)
		assert.Equal(t, 10, opts.from.Hour())
		assert.Equal(t, 11, opts.to.Hour())
		assert.True(t, opts.asJSON)
	})

	t.Run("sensor_required", func(t *testing.T) {
		_, err := parseFlags(nil, "", now)
		assert.ErrorContains(t, err, "-sensor")
	})

	t.Run("bad_time", func(t *testing.T) {
		_, err := parseFlags([]string{"-from", "yesterday"}, "s1", now)
		assert.ErrorContains(t, err, "invalid -from")
	})

	t.Run("empty_window", func(t *testing.T) {
		_, err := parseFlags([]string{"-from", "2026-10-01T14:00:00Z"}, "s1", now)
		assert.ErrorContains(t, err, "not before")
	})
}

func TestPrintRollups(t *testing.T) {
	var bands models.BandLevels
	bands[models.Mid] = 3.5

	rollups := []models.Rollup{{
		Bucket:     now,
		SensorID:   "s1",
		LocationID: "park",
		Count:      600,
		AvgDecibel: -20.04,
		MinDecibel: -30,
		MaxDecibel: -10,
		AvgBands:   bands,
	}}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRollups(&buf, rollups, false))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "PEAK BAND")
		assert.Contains(t, lines[1], "2026-10-01 13:00")
		assert.Contains(t, lines[1], "-20.0")
		assert.Contains(t, lines[1], "mid")
	})

	t.Run("json_lines", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRollups(&buf, rollups, true))

		var got models.Rollup
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, uint64(600), got.Count)
		assert.Equal(t, 3.5, got.AvgBands.Get(models.Mid))
	})
}
