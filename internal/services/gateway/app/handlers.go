package app

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Scope  string `json:"scope,omitempty"`
	Window string `json:"window,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError
	var ce *scheduler.ConflictError
	switch {
	case errors.As(err, &ce):
		status, body.Code = http.StatusConflict, "schedule_conflict"
		body.Scope, body.Window = string(ce.Scope), ce.Schedule.String()
	case errors.Is(err, scheduler.ErrFieldNotFound):
		status, body.Code = http.StatusNotFound, "field_not_found"
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		status, body.Code = http.StatusBadRequest, "invalid_schedule"
	case errors.Is(err, scheduler.ErrPersistence):
		status, body.Code = http.StatusBadGateway, "persistence_failure"
	default:
		body.Code = "internal"
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// fieldView is a field as the dashboard sees it.
type fieldView struct {
	entities.Field
	Engaged      bool   `json:"engaged"`
	EngagedScope string `json:"engaged_scope,omitempty"`
}

func (s *Server) view(f entities.Field) fieldView {
	v := fieldView{Field: f}
	if scope, ok := s.Engine.EngagedScope(f.ID); ok {
		v.Engaged, v.EngagedScope = true, string(scope)
	}
	return v
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.Fields.ListFields(r.Context())
	if err != nil {
		writeError(w, errors.Join(scheduler.ErrPersistence, err))
		return
	}
	out := make([]fieldView, 0, len(fields))
	for _, f := range fields {
		out = append(out, s.view(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	f, err := s.Fields.GetField(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(f))
}

type valveRequest struct {
	Mode       string `json:"mode"`
	ValveState string `json:"valve_state"`
}

func (s *Server) handleSetValve(w http.ResponseWriter, r *http.Request) {
	var req valveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	raw := req.Mode
	if raw == "" {
		raw = req.ValveState
	}
	mode, err := entities.ParseValveMode(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	f, err := s.Engine.RequestManualValve(r.Context(), chi.URLParam(r, "id"), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(f))
}

type eventsResponse struct {
	Events []messages.Event `json:"events"`
	Errors []string         `json:"errors,omitempty"`
}

func eventsBody(events []messages.Event, err error) eventsResponse {
	if events == nil {
		events = []messages.Event{}
	}
	out := eventsResponse{Events: events}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			if line != "" {
				out.Errors = append(out.Errors, line)
			}
		}
	}
	return out
}

// scheduleRequest defaults Enabled to true when omitted.
type scheduleRequest struct {
	Start   entities.TimeOfDay `json:"start"`
	End     entities.TimeOfDay `json:"end"`
	Enabled *bool              `json:"enabled"`
}

// handleSetSchedule serves both /api/fields/{id}/schedule and the global /api/schedule.
func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(scheduler.ErrInvalidSchedule, err))
		return
	}
	sc := entities.Schedule{Start: req.Start, End: req.End, Enabled: req.Enabled == nil || *req.Enabled}
	events, err := s.Engine.SetSchedule(r.Context(), chi.URLParam(r, "id"), sc)
	s.respondEvents(w, events, err)
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	events, err := s.Engine.CancelSchedule(r.Context(), chi.URLParam(r, "id"))
	s.respondEvents(w, events, err)
}

// respondEvents fails the request only when nothing was applied. A
// re-evaluation that produced events alongside per-field errors is a 200
// listing both.
func (s *Server) respondEvents(w http.ResponseWriter, events []messages.Event, err error) {
	if err != nil && len(events) == 0 {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsBody(events, err))
}

func (s *Server) handleGetGlobal(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]*entities.Schedule{"schedule": s.Engine.GlobalSchedule()})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	events, err := s.Engine.EvaluateTick(r.Context())
	if err != nil && errors.Is(err, scheduler.ErrPersistence) && len(events) == 0 {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsBody(events, err))
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids := []string{}
	if id := strings.TrimSpace(r.URL.Query().Get("field_id")); id != "" {
		ids = append(ids, id)
	} else {
		fields, err := s.Fields.ListFields(ctx)
		if err != nil {
			writeError(w, errors.Join(scheduler.ErrPersistence, err))
			return
		}
		for _, f := range fields {
			ids = append(ids, f.ID)
		}
	}
	out := []entities.WateringLogEntry{}
	for _, id := range ids {
		logs, err := s.Logs.ListByField(ctx, id)
		if err != nil {
			writeError(w, errors.Join(scheduler.ErrPersistence, err))
			return
		}
		out = append(out, logs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	out := []messages.Event{}
	if s.History != nil {
		out = append(out, s.History.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, out)
}

// DashboardData summarises the farm for the landing page.
type DashboardData struct {
	TotalFields    int                `json:"total_fields"`
	ValvesOn       int                `json:"valves_on"`
	ValvesAuto     int                `json:"valves_auto"`
	EngagedFields  int                `json:"engaged_fields"`
	CriticalFields []string           `json:"critical_fields"`
	Moisture       map[string]float64 `json:"moisture"`
	GlobalSchedule *entities.Schedule `json:"global_schedule"`
	WateredToday   int                `json:"watered_today_minutes"`
	Recent         []messages.Event   `json:"recent_events"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fields, err := s.Fields.ListFields(ctx)
	if err != nil {
		writeError(w, errors.Join(scheduler.ErrPersistence, err))
		return
	}
	data := DashboardData{
		TotalFields:    len(fields),
		CriticalFields: []string{},
		Moisture:       map[string]float64{},
		GlobalSchedule: s.Engine.GlobalSchedule(),
		Recent:         []messages.Event{},
	}

	now := s.Clock()
	midnight := entities.TimeOfDay{}.On(now)
	var sum, minv, maxv float64
	var n int
	minv = math.MaxFloat64
	for _, f := range fields {
		switch f.ValveMode {
		case entities.ValveOn:
			data.ValvesOn++
		case entities.ValveAuto:
			data.ValvesAuto++
		}
		if _, ok := s.Engine.EngagedScope(f.ID); ok {
			data.EngagedFields++
		}
		if m := f.Telemetry.SoilMoisture; m != nil {
			n++
			sum += *m
			minv = math.Min(minv, *m)
			maxv = math.Max(maxv, *m)
			if *m < s.MoistureCritical {
				data.CriticalFields = append(data.CriticalFields, f.ID)
			}
		}
		logs, err := s.Logs.ListByField(ctx, f.ID)
		if err != nil {
			s.log.Warn("dashboard: list logs failed", "field_id", f.ID, "error", err)
			continue
		}
		for _, l := range logs {
			if !l.Start.Before(midnight) && !l.Start.After(now) {
				data.WateredToday += l.DurationMinutes
			}
		}
	}
	if n > 0 {
		data.Moisture["mean"] = math.Round(sum/float64(n)*10) / 10
		data.Moisture["min"] = minv
		data.Moisture["max"] = maxv
	}
	if s.History != nil {
		data.Recent = append(data.Recent, s.History.Recent(10)...)
	}
	writeJSON(w, http.StatusOK, data)
}
