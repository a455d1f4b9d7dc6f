package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandLevels_Get(t *testing.T) {
	var levels BandLevels
	levels[Mid] = 2.5

	assert.Equal(t, 2.5, levels.Get(Mid))
	assert.Equal(t, 0.0, levels.Get(Bass))

	t.Run("undefined_band", func(t *testing.T) {
		assert.NotPanics(t, func() {
			assert.Equal(t, 0.0, levels.Get(Band(-1)))
			assert.Equal(t, 0.0, levels.Get(Band(BandCount)))
		})
		assert.False(t, Band(BandCount).Valid())
		assert.Equal(t, "Band(7)", Band(BandCount).String())
	})
}

func TestBandLevels_Peak(t *testing.T) {
	var levels BandLevels
	levels[LowMid] = 4
	levels[Presence] = 3
	assert.Equal(t, LowMid, levels.Peak())
}
