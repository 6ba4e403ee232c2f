package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/internal/roamhub/dispatch"
	"github.com/roamhub-io/roamhub/internal/roamhub/syncer"
	"github.com/roamhub-io/roamhub/pkg/log"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type acceptPartner struct{}

func (acceptPartner) Send(ctx context.Context, cmd dispatch.Command) (dispatch.Ack, error) {
	return dispatch.Ack{Accepted: true}, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishDiff(ctx context.Context, d model.StatusDiff) error { return nil }

func newTestRouter(t *testing.T) (*mux.Router, *session.Manager, *testingclock.FakePassiveClock) {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(t0)
	b := bus.New(log.NewNopLogger())
	t.Cleanup(b.Close)
	m := session.NewManager(clk, b, log.NewNopLogger())
	d := dispatch.New(m, acceptPartner{}, clk, log.NewNopLogger())
	s := syncer.New(m, nopPublisher{}, clk, log.NewNopLogger(), time.Minute)

	r := mux.NewRouter()
	NewHandler(m, d, s, log.NewNopLogger()).Routes(r)
	return r, m, clk
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndQueryStatus(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "de*abc*e1"})
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created["id"] != "DE*ABC*E1" {
		t.Fatalf("canonical id = %q", created["id"])
	}

	rec = doJSON(t, r, "GET", "/api/v1/evses/DE*ABC*E1/status", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body)
	}
	var got struct {
		Status    model.StatusValue `json:"status"`
		Occupancy string            `json:"occupancy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status.Status != model.StatusAvailable || got.Occupancy != session.StateFree {
		t.Fatalf("status = %+v", got)
	}
}

func TestRegisterRejectsMalformedID(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "not-an-evse-id"})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestCommandEndpoints(t *testing.T) {
	r, m, clk := newTestRouter(t)
	if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "DE*ABC*E1"}); rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}

	rec := doJSON(t, r, "POST", "/api/v1/commands/reserve", map[string]any{
		"target":          "DE*ABC*E1",
		"durationSeconds": 1800,
		"tokens":          []string{"TOKEN-1"},
	})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("reserve: %d %s", rec.Code, rec.Body)
	}
	var reserve model.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &reserve); err != nil {
		t.Fatal(err)
	}
	if reserve.Outcome != model.OutcomeSuccess || reserve.Reservation == nil {
		t.Fatalf("reserve result = %+v", reserve)
	}

	rec = doJSON(t, r, "POST", "/api/v1/commands/remote-start", map[string]any{
		"target": "DE*ABC*E1",
		"token":  "TOKEN-1",
	})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("remote-start: %d %s", rec.Code, rec.Body)
	}

	evse, _ := model.ParseEvseID("DE*ABC*E1")
	if err := m.RecordSample(evse, model.EnergySample{At: t0, MeterWh: 0}); err != nil {
		t.Fatal(err)
	}
	clk.SetTime(t0.Add(20 * time.Minute))
	if err := m.RecordSample(evse, model.EnergySample{At: t0.Add(20 * time.Minute), MeterWh: 1200}); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, r, "POST", "/api/v1/commands/remote-stop", map[string]any{"target": "DE*ABC*E1"})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("remote-stop: %d %s", rec.Code, rec.Body)
	}
	var stop model.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &stop); err != nil {
		t.Fatal(err)
	}
	if stop.Record == nil || stop.Record.ConsumedEnergyKWh != 1.2 {
		t.Fatalf("stop result = %+v", stop)
	}

	rec = doJSON(t, r, "GET", "/api/v1/records?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("records: %d %s", rec.Code, rec.Body)
	}
	var records model.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records.Records) != 1 {
		t.Fatalf("records = %+v", records)
	}
}

func TestCommandOutcomeStatusCodes(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "DE*ABC*E1"}); rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}

	// Unknown target.
	rec := doJSON(t, r, "POST", "/api/v1/commands/remote-stop", map[string]any{"target": "DE*ABC*E9"})
	if rec.Code != nethttp.StatusNotFound {
		t.Fatalf("unknown target: %d", rec.Code)
	}

	// Stop without a session: rejected.
	rec = doJSON(t, r, "POST", "/api/v1/commands/remote-stop", map[string]any{"target": "DE*ABC*E1"})
	if rec.Code != nethttp.StatusUnprocessableEntity {
		t.Fatalf("stop on free: %d %s", rec.Code, rec.Body)
	}

	// Conflicting reservation.
	if rec := doJSON(t, r, "POST", "/api/v1/commands/reserve", map[string]any{
		"target": "DE*ABC*E1", "durationSeconds": 600, "tokens": []string{"A"},
	}); rec.Code != nethttp.StatusOK {
		t.Fatalf("seed reserve: %d", rec.Code)
	}
	rec = doJSON(t, r, "POST", "/api/v1/commands/reserve", map[string]any{
		"target": "DE*ABC*E1", "reservationId": "other", "durationSeconds": 600, "tokens": []string{"B"},
	})
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("conflict: %d %s", rec.Code, rec.Body)
	}
}

func TestStatusIngestEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "DE*ABC*E1"}); rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}

	rec := doJSON(t, r, "POST", "/api/v1/operators/DE*ABC/evses/DE*ABC*E1/status", statusReport{
		Status:    string(model.StatusFaulted),
		Timestamp: t0.Add(time.Minute),
	})
	if rec.Code != nethttp.StatusNoContent {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body)
	}

	// Out-of-order sample is refused.
	rec = doJSON(t, r, "POST", "/api/v1/operators/DE*ABC/evses/DE*ABC*E1/status", statusReport{
		Status:    string(model.StatusAvailable),
		Timestamp: t0.Add(-time.Hour),
	})
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("out of order: %d %s", rec.Code, rec.Body)
	}

	// Operator/EVSE mismatch.
	rec = doJSON(t, r, "POST", "/api/v1/operators/DE*XYZ/evses/DE*ABC*E1/status", statusReport{
		Status:    string(model.StatusAvailable),
		Timestamp: t0.Add(time.Hour),
	})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("mismatch: %d %s", rec.Code, rec.Body)
	}
}

func TestSnapshotAndOperators(t *testing.T) {
	r, _, _ := newTestRouter(t)
	for _, id := range []string{"DE*ABC*E1", "DE*ABC*E2", "DE*XYZ*E1"} {
		if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": id}); rec.Code != nethttp.StatusCreated {
			t.Fatalf("register %s: %d", id, rec.Code)
		}
	}

	rec := doJSON(t, r, "GET", "/api/v1/operators", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("operators: %d", rec.Code)
	}
	var ops struct {
		Operators []model.OperatorID `json:"operators"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ops); err != nil {
		t.Fatal(err)
	}
	if len(ops.Operators) != 2 {
		t.Fatalf("operators = %+v", ops.Operators)
	}

	rec = doJSON(t, r, "GET", "/api/v1/operators/DE*ABC/snapshot", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("snapshot: %d", rec.Code)
	}
	var snap struct {
		Snapshot map[string]model.StatusValue `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Snapshot) != 2 {
		t.Fatalf("snapshot = %+v", snap.Snapshot)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	r, _, clk := newTestRouter(t)
	if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "DE*ABC*E1"}); rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}
	clk.SetTime(t0.Add(time.Minute))
	rec := doJSON(t, r, "POST", "/api/v1/operators/DE*ABC/evses/DE*ABC*E1/status", statusReport{
		Status:    string(model.StatusFaulted),
		Timestamp: t0.Add(time.Minute),
	})
	if rec.Code != nethttp.StatusNoContent {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, "GET", "/api/v1/evses/DE*ABC*E1/history", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body)
	}
	var hist struct {
		Entries []model.StatusValue `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Entries) != 2 {
		t.Fatalf("entries = %+v", hist.Entries)
	}
}

func TestAdminEndpoint(t *testing.T) {
	r, m, _ := newTestRouter(t)
	if rec := doJSON(t, r, "POST", "/api/v1/evses", map[string]string{"id": "DE*ABC*E1"}); rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}

	rec := doJSON(t, r, "PUT", "/api/v1/evses/DE*ABC*E1/admin", adminRequest{Admin: "Inoperative"})
	if rec.Code != nethttp.StatusNoContent {
		t.Fatalf("admin: %d %s", rec.Code, rec.Body)
	}
	evse, _ := model.ParseEvseID("DE*ABC*E1")
	if v, _ := m.Status(evse); v.Status != model.StatusOutOfService {
		t.Fatalf("status = %+v", v)
	}

	rec = doJSON(t, r, "PUT", "/api/v1/evses/DE*ABC*E1/admin", adminRequest{Admin: "bogus"})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("bogus admin: %d", rec.Code)
	}
}

func TestTriggerSync(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, "POST", "/api/v1/sync", nil)
	if rec.Code != nethttp.StatusAccepted {
		t.Fatalf("sync: %d", rec.Code)
	}
}
