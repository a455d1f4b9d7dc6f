package models

import (
	"encoding/json"
	"fmt"
)

// Band identifies one of the seven perceptual frequency bands.
// The set is closed: records always carry a value for every band.
type Band int

const (
	SubBass Band = iota
	Bass
	LowMid
	Mid
	UpperMid
	Presence
	Brilliance
)

// BandCount is the number of defined frequency bands.
const BandCount = 7

// BandDefinition is a named frequency range [LowerHz, UpperHz).
type BandDefinition struct {
	Band    Band
	Name    string
	LowerHz float64
	UpperHz float64
}

// Contains reports whether hz falls inside [LowerHz, UpperHz).
func (d BandDefinition) Contains(hz float64) bool {
	return hz >= d.LowerHz && hz < d.UpperHz
}

// Contiguous from 20 Hz to 20 kHz; each upper bound is the next lower bound.
var bandTable = [BandCount]BandDefinition{
	{Band: SubBass, Name: "sub_bass", LowerHz: 20, UpperHz: 60},
	{Band: Bass, Name: "bass", LowerHz: 60, UpperHz: 250},
	{Band: LowMid, Name: "low_mid", LowerHz: 250, UpperHz: 500},
	{Band: Mid, Name: "mid", LowerHz: 500, UpperHz: 2000},
	{Band: UpperMid, Name: "upper_mid", LowerHz: 2000, UpperHz: 4000},
	{Band: Presence, Name: "presence", LowerHz: 4000, UpperHz: 6000},
	{Band: Brilliance, Name: "brilliance", LowerHz: 6000, UpperHz: 20000},
}

// BandDefinitions returns a copy of the band table in ascending frequency order.
func BandDefinitions() []BandDefinition {
	out := make([]BandDefinition, BandCount)
	copy(out, bandTable[:])
	return out
}

// Definition returns the frequency range of the band.
func (b Band) Definition() BandDefinition {
	if !b.Valid() {
		return BandDefinition{Band: b, Name: b.String()}
	}
	return bandTable[b]
}

// Valid reports whether b is one of the defined bands.
func (b Band) Valid() bool {
	return b >= SubBass && b <= Brilliance
}

// String returns the band's storage key, e.g. "low_mid".
func (b Band) String() string {
	if !b.Valid() {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandTable[b].Name
}

// ParseBand maps a storage key back to its Band.
func ParseBand(name string) (Band, bool) {
	for _, d := range bandTable {
		if d.Name == name {
			return d.Band, true
		}
	}
	return 0, false
}

// BandLevels holds one aggregate magnitude per band, indexed by Band.
type BandLevels [BandCount]float64

// Get returns the level for band b, or 0 for an undefined band.
func (l BandLevels) Get(b Band) float64 {
	if !b.Valid() {
		return 0
	}
	return l[b]
}

// Map returns the levels keyed by band name. All seven keys are always present.
func (l BandLevels) Map() map[string]float64 {
	m := make(map[string]float64, BandCount)
	for i, d := range bandTable {
		m[d.Name] = l[i]
	}
	return m
}

// Peak returns the band with the highest level.
func (l BandLevels) Peak() Band {
	peak := SubBass
	for i := range l {
		if l[i] > l[peak] {
			peak = Band(i)
		}
	}
	return peak
}

// MarshalJSON encodes the levels as an object keyed by band name.
func (l BandLevels) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Map())
}

// UnmarshalJSON decodes an object keyed by band name. Every band must be present.
func (l *BandLevels) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	levels, err := BandLevelsFromMap(m)
	if err != nil {
		return err
	}
	*l = levels
	return nil
}

// BandLevelsFromMap converts a name-keyed mapping into BandLevels.
// The mapping must contain exactly the seven band keys.
func BandLevelsFromMap(m map[string]float64) (BandLevels, error) {
	var levels BandLevels
	if len(m) != BandCount {
		return levels, fmt.Errorf("expected %d bands, got %d", BandCount, len(m))
	}
	for i, d := range bandTable {
		v, ok := m[d.Name]
		if !ok {
			return levels, fmt.Errorf("missing band %q", d.Name)
		}
		levels[i] = v
	}
	return levels, nil
}
