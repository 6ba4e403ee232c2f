package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/internal/roamhub/dispatch"
	"github.com/roamhub-io/roamhub/internal/roamhub/syncer"
	"github.com/roamhub-io/roamhub/pkg/log"
)

// Handler exposes the hub's REST API: EVSE registration and status ingest
// for operators, remote commands and fleet queries for roaming partners.
type Handler struct {
	lifecycle  *session.Manager
	dispatcher *dispatch.Dispatcher
	syncer     *syncer.Syncer
	log        log.Logger
}

func NewHandler(lifecycle *session.Manager, dispatcher *dispatch.Dispatcher, sync *syncer.Syncer, logger log.Logger) *Handler {
	return &Handler{
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		syncer:     sync,
		log:        logger.WithName("http"),
	}
}

// Routes registers every API endpoint on the router.
func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/evses", h.registerEvse).Methods("POST")
	api.HandleFunc("/evses/{evse}/status", h.getStatus).Methods("GET")
	api.HandleFunc("/evses/{evse}/history", h.getHistory).Methods("GET")
	api.HandleFunc("/evses/{evse}/admin", h.setAdminStatus).Methods("PUT")
	api.HandleFunc("/evses/{evse}/samples", h.recordSample).Methods("POST")

	api.HandleFunc("/operators", h.listOperators).Methods("GET")
	api.HandleFunc("/operators/{operator}/snapshot", h.getSnapshot).Methods("GET")
	api.HandleFunc("/operators/{operator}/evses/{evse}/status", h.ingestStatus).Methods("POST")

	api.HandleFunc("/commands/reserve", h.reserve).Methods("POST")
	api.HandleFunc("/commands/cancel-reservation", h.cancelReservation).Methods("POST")
	api.HandleFunc("/commands/remote-start", h.remoteStart).Methods("POST")
	api.HandleFunc("/commands/remote-stop", h.remoteStop).Methods("POST")

	api.HandleFunc("/records", h.getRecords).Methods("GET")
	api.HandleFunc("/sync", h.triggerSync).Methods("POST")
}

// --- Operator-facing endpoints ---

type registerRequest struct {
	ID string `json:"id"`
}

func (h *Handler) registerEvse(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := model.ParseEvseID(req.ID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.lifecycle.Register(id); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.syncer.Kick()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

type statusReport struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) ingestStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op, err := model.ParseOperatorID(vars["operator"])
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	evse, err := model.ParseEvseID(vars["evse"])
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if evse.Operator() != op {
		httpError(w, http.StatusBadRequest, "EVSE does not belong to operator")
		return
	}

	var report statusReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v := model.StatusValue{Status: model.Status(report.Status), Timestamp: report.Timestamp}
	if err := h.lifecycle.ApplyStatus(r.Context(), evse, v); err != nil {
		switch {
		case errors.Is(err, model.ErrUnknownTarget):
			httpError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, model.ErrOutOfOrderTimestamp):
			httpError(w, http.StatusConflict, err.Error())
		default:
			httpError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminRequest struct {
	Admin string `json:"admin"`
}

func (h *Handler) setAdminStatus(w http.ResponseWriter, r *http.Request) {
	evse, ok := h.evseVar(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	admin := model.AdminStatus(req.Admin)
	if admin != model.AdminOperative && admin != model.AdminInoperative {
		httpError(w, http.StatusBadRequest, "admin must be Operative or Inoperative")
		return
	}
	if err := h.lifecycle.SetAdminStatus(r.Context(), evse, admin); err != nil {
		if errors.Is(err, model.ErrUnknownTarget) {
			httpError(w, http.StatusNotFound, err.Error())
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sampleRequest struct {
	At      time.Time `json:"at"`
	MeterWh int64     `json:"meterWh"`
}

func (h *Handler) recordSample(w http.ResponseWriter, r *http.Request) {
	evse, ok := h.evseVar(w, r)
	if !ok {
		return
	}
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.lifecycle.RecordSample(evse, model.EnergySample{At: req.At, MeterWh: req.MeterWh}); err != nil {
		switch {
		case errors.Is(err, model.ErrUnknownTarget):
			httpError(w, http.StatusNotFound, err.Error())
		default:
			httpError(w, http.StatusConflict, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Query endpoints ---

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	evse, ok := h.evseVar(w, r)
	if !ok {
		return
	}
	v, err := h.lifecycle.Status(evse)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	state, _ := h.lifecycle.State(evse)
	writeJSON(w, http.StatusOK, map[string]any{
		"evse":      evse,
		"status":    v,
		"occupancy": state,
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	evse, ok := h.evseVar(w, r)
	if !ok {
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := h.lifecycle.History(evse)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	entries := []model.StatusValue{}
	for v := range history.Slice(from, to) {
		entries = append(entries, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"evse": evse, "entries": entries})
}

func (h *Handler) listOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operators": h.lifecycle.Operators()})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	op, err := model.ParseOperatorID(mux.Vars(r)["operator"])
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operator": op,
		"snapshot": h.lifecycle.Snapshot(op),
	})
}

func (h *Handler) getRecords(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := h.dispatcher.GetChargeDetailRecords(r.Context(), from, to)
	writeJSON(w, statusForOutcome(result.Outcome), result)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	h.syncer.Kick()
	w.WriteHeader(http.StatusAccepted)
}

// --- Command endpoints ---

type reserveRequest struct {
	Target          string    `json:"target"`
	ReservationID   string    `json:"reservationId,omitempty"`
	Start           time.Time `json:"start,omitzero"`
	DurationSeconds int64     `json:"durationSeconds,omitempty"`
	Tokens          []string  `json:"tokens"`
	Provider        string    `json:"provider,omitempty"`
	CorrelationID   string    `json:"correlationId,omitempty"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target, err := model.ParseEvseID(req.Target)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	dreq := dispatch.ReserveRequest{
		Target:        target,
		ReservationID: model.ReservationID(req.ReservationID),
		Start:         req.Start,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		Auth:          model.AuthSet{Tokens: req.Tokens},
		CorrelationID: req.CorrelationID,
	}
	if req.Provider != "" {
		provider, err := model.ParseProviderID(req.Provider)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		dreq.Provider = provider
		dreq.HasProvider = true
	}
	result := h.dispatcher.Reserve(r.Context(), dreq)
	writeJSON(w, statusForOutcome(result.Outcome), result)
}

type cancelRequest struct {
	Target        string `json:"target"`
	ReservationID string `json:"reservationId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target, err := model.ParseEvseID(req.Target)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := h.dispatcher.CancelReservation(r.Context(), dispatch.CancelRequest{
		Target:        target,
		ReservationID: model.ReservationID(req.ReservationID),
		CorrelationID: req.CorrelationID,
	})
	writeJSON(w, statusForOutcome(result.Outcome), result)
}

type startRequest struct {
	Target        string `json:"target"`
	Token         string `json:"token"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (h *Handler) remoteStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target, err := model.ParseEvseID(req.Target)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := h.dispatcher.RemoteStart(r.Context(), dispatch.StartRequest{
		Target:        target,
		Token:         req.Token,
		CorrelationID: req.CorrelationID,
	})
	writeJSON(w, statusForOutcome(result.Outcome), result)
}

type stopRequest struct {
	Target        string `json:"target"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (h *Handler) remoteStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target, err := model.ParseEvseID(req.Target)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := h.dispatcher.RemoteStop(r.Context(), dispatch.StopRequest{
		Target:        target,
		CorrelationID: req.CorrelationID,
	})
	writeJSON(w, statusForOutcome(result.Outcome), result)
}

// --- Helpers ---

func (h *Handler) evseVar(w http.ResponseWriter, r *http.Request) (model.EvseID, bool) {
	evse, err := model.ParseEvseID(mux.Vars(r)["evse"])
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return model.EvseID{}, false
	}
	return evse, true
}

// timeRange parses optional from/to RFC3339 query parameters. A missing
// bound defaults to the open side of the range.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}

func statusForOutcome(o model.Outcome) int {
	switch o {
	case model.OutcomeSuccess:
		return http.StatusOK
	case model.OutcomeUnknownTarget:
		return http.StatusNotFound
	case model.OutcomeConflict:
		return http.StatusConflict
	case model.OutcomeRejected:
		return http.StatusUnprocessableEntity
	case model.OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
