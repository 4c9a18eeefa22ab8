package sensor_simulator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type capturePublisher struct {
	topic   string
	payload any
}

func (p *capturePublisher) Publish(_ context.Context, topic string, payload any) error {
	p.topic, p.payload = topic, payload
	return nil
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func TestGeneratorDecaysAndRecovers(t *testing.T) {
	clk := &stepClock{t: time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)}
	g := NewDataGenerator(0.30, DecayForHalfLife(50*time.Minute), clk.now)

	clk.t = clk.t.Add(10 * time.Minute)
	sd := g.Next("F1", "s1")
	assert.InDelta(t, 20.0, sd.Moisture, 1e-9, "0.01 per minute decay")

	g.SetWatering(true)
	clk.t = clk.t.Add(10 * time.Minute)
	sd = g.Next("F1", "s1")
	assert.InDelta(t, 26.0, sd.Moisture, 1e-9)
	assert.Equal(t, "F1", sd.FieldID)
	assert.False(t, sd.Aggregated)

	g.SetWatering(false)
	clk.t = clk.t.Add(10 * time.Hour)
	assert.Equal(t, 0.0, g.Next("F1", "s1").Moisture, "moisture is clamped at zero")
}

func TestValveEventsDriveWatering(t *testing.T) {
	clk := &stepClock{t: time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)}
	g := NewDataGenerator(0.50, 0, clk.now)
	pub := &capturePublisher{}
	sim := NewSensorSimulator(nil, pub, g, "F1", "s1", nil)

	ev := messages.Event{Type: messages.ValveChanged, FieldID: "F1", Mode: entities.ValveAuto}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, sim.HandleMessage(ValveTopic("F1"), fakeMessage{payload: b}))

	clk.t = clk.t.Add(5 * time.Minute)
	require.NoError(t, sim.PublishReading(context.Background()))
	assert.Equal(t, "sensor/data/F1/s1", pub.topic)
	assert.InDelta(t, 53.0, pub.payload.(messages.SensorData).Moisture, 1e-9)

	other, err := json.Marshal(messages.Event{Type: messages.ValveChanged, FieldID: "F2", Mode: entities.ValveOff})
	require.NoError(t, err)
	require.NoError(t, sim.HandleMessage("", fakeMessage{payload: other}))
	clk.t = clk.t.Add(5 * time.Minute)
	require.NoError(t, sim.PublishReading(context.Background()))
	assert.InDelta(t, 56.0, pub.payload.(messages.SensorData).Moisture, 1e-9, "events for other fields are ignored")

	assert.Error(t, sim.HandleMessage("", fakeMessage{payload: []byte("{")}))
	assert.Equal(t, "irrigation/events/F1/valve.changed", ValveTopic("F1"))
}
