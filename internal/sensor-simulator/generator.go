// Package sensor_simulator publishes synthetic soil moisture readings that
// react to the valve state reported by the scheduler.
package sensor_simulator

import (
	"math"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

const (
	// gainPerMin is the moisture gain per minute while watering, in [0..1].
	gainPerMin = 0.006
	// DefaultSeed is the starting moisture when none is given.
	DefaultSeed = 0.30
)

// DataGenerator keeps the simulated moisture of one probe.
type DataGenerator struct {
	mu          sync.Mutex
	moisture    float64 // [0..1]
	decayPerMin float64
	watering    bool
	last        time.Time
	now         func() time.Time
}

func NewDataGenerator(seed, decayPerMin float64, now func() time.Time) *DataGenerator {
	if now == nil {
		now = time.Now
	}
	return &DataGenerator{
		moisture:    clamp01(seed),
		decayPerMin: math.Max(0, decayPerMin),
		last:        now(),
		now:         now,
	}
}

// SetWatering settles the elapsed time under the previous state, then switches.
func (g *DataGenerator) SetWatering(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	g.watering = on
}

func (g *DataGenerator) advance() {
	now := g.now()
	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	if g.watering {
		g.moisture = clamp01(g.moisture + gainPerMin*dtMin)
	} else {
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now
}

// Next advances the model and returns a raw reading in percent.
func (g *DataGenerator) Next(fieldID, sensorID string) messages.SensorData {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	return messages.SensorData{
		FieldID:   fieldID,
		SensorID:  sensorID,
		Moisture:  math.Round(g.moisture*1000) / 10,
		Timestamp: g.last.UTC(),
	}
}

// DecayForHalfLife converts a half-life into a linear per-minute decay
// that loses half of a full reading in that time.
func DecayForHalfLife(h time.Duration) float64 {
	if h <= 0 {
		return 0
	}
	return 0.5 / h.Minutes()
}

func watering(m entities.ValveMode) bool { return m.Watering() }

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}
