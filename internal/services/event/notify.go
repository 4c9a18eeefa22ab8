package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

// ErrRateLimited is returned when a push notification is suppressed.
var ErrRateLimited = errors.New("push notification rate limited")

type sender interface {
	Send(message string, params *stypes.Params) []error
}

// PushOptions configures the shoutrrr sink.
type PushOptions struct {
	MinSeverity messages.Severity // default warning
	Timeout     time.Duration
	Every       time.Duration // minimum spacing between pushes, default 10s
	Burst       int           // default 5
}

// PushSink forwards warning and critical events to shoutrrr URLs
// (telegram://, discord://, ntfy://, ...).
type PushSink struct {
	sender  sender
	min     int
	limiter *rate.Limiter
}

func NewPushSink(urls []string, opts PushOptions) (*PushSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification URL is required")
	}
	r, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create notification sender: %w", err)
	}
	if opts.Timeout > 0 {
		r.Timeout = opts.Timeout
	}
	r.SetLogger(log.New(io.Discard, "", 0))
	return newPushSink(r, opts), nil
}

func newPushSink(s sender, opts PushOptions) *PushSink {
	if opts.MinSeverity == "" {
		opts.MinSeverity = messages.SeverityWarning
	}
	if opts.Every <= 0 {
		opts.Every = 10 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &PushSink{
		sender:  s,
		min:     severityRank(opts.MinSeverity),
		limiter: rate.NewLimiter(rate.Every(opts.Every), opts.Burst),
	}
}

func severityRank(s messages.Severity) int {
	switch s {
	case messages.SeverityCritical:
		return 2
	case messages.SeverityWarning:
		return 1
	}
	return 0
}

func (p *PushSink) Emit(_ context.Context, ev messages.Event) error {
	if severityRank(ev.Severity) < p.min {
		return nil
	}
	if !p.limiter.Allow() {
		return ErrRateLimited
	}
	params := stypes.Params{}
	params.SetTitle(fmt.Sprintf("Irrigation %s: %s", ev.Severity, ev.Type))
	body := ev.Message
	if ev.FieldID != "" {
		body = fmt.Sprintf("[%s] %s", ev.FieldID, ev.Message)
	}
	for _, err := range p.sender.Send(body, &params) {
		if err != nil {
			return fmt.Errorf("push notification: %w", err)
		}
	}
	return nil
}
