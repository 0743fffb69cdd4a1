package history

import (
	"math"
	"time"
)

// DefaultVoltage replaces non-finite voltages.
const DefaultVoltage = 12.0

// Record holds the cumulative figures of one battery.
type Record struct {
	MinVoltage       float64 `json:"minVoltage"`
	MaxVoltage       float64 `json:"maxVoltage"`
	DischargedEnergy float64 `json:"dischargedEnergy"` // kWh
	ChargedEnergy    float64 `json:"chargedEnergy"`    // kWh
	TotalAhDrawn     float64 `json:"totalAhDrawn"`     // Ah
}

// Accumulator is the integration state carried between samples.
type Accumulator struct {
	LastCurrent   float64 `json:"lastCurrent"`
	LastVoltage   float64 `json:"lastVoltage"`
	LastTimestamp int64   `json:"lastTimestamp"` // epoch ms
}

// Sample is one reading. Non-finite fields are treated as absent; use NaN
// for readings that were not supplied.
type Sample struct {
	Voltage float64
	Current float64 // A, negative when discharging
	Power   float64 // W

	// SourceA and SourceB are charge source currents read at the same
	// instant, used for the net load figure.
	SourceA float64
	SourceB float64

	Time time.Time
}

// NewSample returns a sample with every reading absent.
func NewSample(at time.Time) Sample {
	nan := math.NaN()
	return Sample{Voltage: nan, Current: nan, Power: nan, SourceA: nan, SourceB: nan, Time: at}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func orDefault(f, def float64) float64 {
	if finite(f) {
		return f
	}
	return def
}

func (r *Record) sanitize() {
	r.MinVoltage = orDefault(r.MinVoltage, DefaultVoltage)
	r.MaxVoltage = orDefault(r.MaxVoltage, DefaultVoltage)
	r.DischargedEnergy = orDefault(r.DischargedEnergy, 0)
	r.ChargedEnergy = orDefault(r.ChargedEnergy, 0)
	r.TotalAhDrawn = orDefault(r.TotalAhDrawn, 0)
}

func (a *Accumulator) sanitize() {
	a.LastCurrent = orDefault(a.LastCurrent, 0)
	a.LastVoltage = orDefault(a.LastVoltage, DefaultVoltage)
	if a.LastTimestamp < 0 {
		a.LastTimestamp = 0
	}
}
