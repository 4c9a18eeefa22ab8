package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/dedup"
)

// Listener turns messages from irrigation/events/# back into events and
// forwards them, so a separate process can archive what the engine published.
type Listener struct {
	sink  Sink
	dedup *dedup.Deduper
}

func NewListener(sink Sink, d *dedup.Deduper) *Listener {
	return &Listener{sink: sink, dedup: d}
}

// Handle satisfies rabbitmq.Handler.
func (l *Listener) Handle(topic string, m mqtt.Message) error {
	payload := m.Payload()
	if l.dedup != nil && !l.dedup.ShouldProcess(dedup.Key(payload)) {
		return nil
	}
	ev, err := DecodeEvent(topic, payload)
	if err != nil {
		return err
	}
	return l.sink.Emit(context.Background(), ev)
}

// DecodeEvent parses an event payload. Field id and type missing from the
// body are taken from the topic irrigation/events/{field}/{type}.
func DecodeEvent(topic string, payload []byte) (messages.Event, error) {
	var ev messages.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return messages.Event{}, fmt.Errorf("decode event on %s: %w", topic, err)
	}
	field, typ := idsFromTopic(topic)
	if strings.TrimSpace(ev.FieldID) == "" && field != "all" {
		ev.FieldID = field
	}
	if ev.Type == "" {
		ev.Type = messages.EventType(typ)
	}
	if ev.Type == "" {
		return messages.Event{}, fmt.Errorf("event on %s has no type", topic)
	}
	if ev.Severity == "" {
		ev.Severity = messages.SeverityInfo
	}
	return ev, nil
}

func idsFromTopic(topic string) (field, typ string) {
	rest := strings.TrimPrefix(topic, TopicPrefix+"/")
	if rest == topic {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
