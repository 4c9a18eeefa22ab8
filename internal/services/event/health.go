package event

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ConnChecker is satisfied by mqtt.Client.
type ConnChecker interface {
	IsConnectionOpen() bool
}

// HealthDeps lists what /healthz and /readyz inspect. Nil members are
// reported as absent rather than failing.
type HealthDeps struct {
	MQTT    ConnChecker
	Writer  *Writer
	Backend func(ctx context.Context) error
}

type healthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	InfluxOK        bool    `json:"influx_ok"`
	BackendOK       bool    `json:"backend_ok"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
}

func (d HealthDeps) probe(ctx context.Context, minErrAge time.Duration) (healthStatus, bool) {
	st := healthStatus{
		MQTTConnected:   d.MQTT == nil || d.MQTT.IsConnectionOpen(),
		InfluxOK:        d.Writer == nil || d.Writer.LastErrorAge() > minErrAge,
		BackendOK:       true,
		LastWriteErrorS: d.Writer.LastErrorAge().Seconds(),
	}
	if d.Backend != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		st.BackendOK = d.Backend(ctx) == nil
	}
	ok := st.MQTTConnected && st.InfluxOK && st.BackendOK
	switch {
	case ok:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK || st.BackendOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st, ok
}

// NewHealthHandler always answers 200 with a status breakdown.
func NewHealthHandler(d HealthDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, _ := d.probe(r.Context(), 30*time.Second)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
}

// NewReadyHandler answers 503 unless every dependency is healthy and no
// Influx write failed within minErrAge.
func NewReadyHandler(d HealthDeps, minErrAge time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ready := d.probe(r.Context(), minErrAge)
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{ready})
	})
}
