package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Record is one archived event as returned by the events history endpoint.
type Record struct {
	Type     string `json:"type"`
	FieldID  string `json:"field_id,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Time     string `json:"time"`
}

type eventQuery struct {
	Minutes   int
	Limit     int
	FieldID   string
	Type      string
	TimeoutMS int
}

func parseEventQuery(r *http.Request) eventQuery {
	q := r.URL.Query()
	atoi := func(key string, def, max int) int {
		if n, err := strconv.Atoi(q.Get(key)); err == nil && n > 0 {
			if n > max {
				return max
			}
			return n
		}
		return def
	}
	return eventQuery{
		Minutes:   atoi("minutes", 1440, 60*24*31),
		Limit:     atoi("limit", 50, 500),
		FieldID:   strings.TrimSpace(q.Get("field_id")),
		Type:      strings.TrimSpace(q.Get("type")),
		TimeoutMS: atoi("timeout_ms", 2000, 10000),
	}
}

func buildEventsFlux(bucket string, p eventQuery) string {
	var filter strings.Builder
	fmt.Fprintf(&filter, `r._measurement == %q and r._field == "message"`, eventMeasurement)
	if p.FieldID != "" {
		fmt.Fprintf(&filter, ` and r.field_id == %q`, p.FieldID)
	}
	if p.Type != "" {
		fmt.Fprintf(&filter, ` and r.event_type == %q`, p.Type)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => %s)
  |> keep(columns: ["_time","_value","event_type","field_id","severity"])
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, p.Minutes, filter.String(), p.Limit)
}

// NewEventsHandler serves GET ?minutes=&limit=&field_id=&type= from the
// system_event measurement. Query failures yield an empty list and an
// X-Error header so dashboards keep rendering.
func NewEventsHandler(q api.QueryAPI, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseEventQuery(r)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := q.Query(ctx, buildEventsFlux(bucket, p))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer func() { _ = res.Close() }()

		out := make([]Record, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			msg, _ := rec.Value().(string)
			out = append(out, Record{
				Type:     stringValue(rec.ValueByKey("event_type")),
				FieldID:  stringValue(rec.ValueByKey("field_id")),
				Severity: stringValue(rec.ValueByKey("severity")),
				Message:  msg,
				Time:     rec.Time().UTC().Format(time.RFC3339),
			})
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
