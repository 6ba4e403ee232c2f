package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/pkg/log"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *testingclock.FakePassiveClock) {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(t0)
	b := bus.New(log.NewNopLogger())
	t.Cleanup(b.Close)
	return NewManager(clk, b, log.NewNopLogger()), clk
}

func registered(t *testing.T, m *Manager, raw string) model.EvseID {
	t.Helper()
	id, err := model.ParseEvseID(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Register(id); err != nil {
		t.Fatal(err)
	}
	return id
}

func auth(tokens ...string) model.AuthSet {
	return model.AuthSet{Tokens: tokens}
}

func TestReserveStartStopScenario(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	res, err := m.Reserve(ctx, e1, "", t0, 30*time.Minute, auth("TOKEN-1"), model.ProviderID{}, false)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.ID == "" || res.Evse != e1 {
		t.Fatalf("reservation = %+v", res)
	}
	if st, _ := m.State(e1); st != StateReserved {
		t.Fatalf("state after reserve = %s", st)
	}

	clk.SetTime(t0.Add(5 * time.Minute))
	sid, err := m.RemoteStart(ctx, e1, "TOKEN-1")
	if err != nil {
		t.Fatalf("RemoteStart: %v", err)
	}
	if st, _ := m.State(e1); st != StateCharging {
		t.Fatalf("state after start = %s", st)
	}

	for i, wh := range []int64{0, 500, 1200} {
		sample := model.EnergySample{At: t0.Add(time.Duration(5+i*5) * time.Minute), MeterWh: wh}
		if err := m.RecordSample(e1, sample); err != nil {
			t.Fatalf("RecordSample: %v", err)
		}
	}

	clk.SetTime(t0.Add(20 * time.Minute))
	cdr, err := m.RemoteStop(ctx, e1)
	if err != nil {
		t.Fatalf("RemoteStop: %v", err)
	}
	if cdr.ConsumedEnergyKWh != 1.2 {
		t.Errorf("ConsumedEnergyKWh = %v, want 1.2", cdr.ConsumedEnergyKWh)
	}
	if cdr.MeterAnomaly {
		t.Error("clean samples flagged as anomaly")
	}
	if cdr.SessionID != sid {
		t.Errorf("record session = %s, want %s", cdr.SessionID, sid)
	}
	if st, _ := m.State(e1); st != StateFinished {
		t.Errorf("state after stop = %s, want Finished", st)
	}

	records := m.Records(t0, t0.Add(time.Hour))
	if len(records) != 1 || records[0].SessionID != sid {
		t.Errorf("Records = %v", records)
	}
}

func TestReserveConflictAndExtension(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	first, err := m.Reserve(ctx, e1, "", t0, 30*time.Minute, auth("A"), model.ProviderID{}, false)
	if err != nil {
		t.Fatal(err)
	}

	// Different authorization, no reservation id: contention.
	_, err = m.Reserve(ctx, e1, "", t0, 30*time.Minute, auth("B"), model.ProviderID{}, false)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("conflicting Reserve = %v, want ErrConflict", err)
	}

	// Same reservation id extends the window.
	ext, err := m.Reserve(ctx, e1, first.ID, t0, time.Hour, auth("A"), model.ProviderID{}, false)
	if err != nil {
		t.Fatalf("extension rejected: %v", err)
	}
	if ext.ID != first.ID || ext.Duration != time.Hour {
		t.Errorf("extension = %+v", ext)
	}
}

func TestReservationExpiry(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	if _, err := m.Reserve(ctx, e1, "", t0, 10*time.Minute, auth("A"), model.ProviderID{}, false); err != nil {
		t.Fatal(err)
	}

	clk.SetTime(t0.Add(11 * time.Minute))
	if n := m.SweepExpired(ctx); n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}
	if st, _ := m.State(e1); st != StateFree {
		t.Errorf("state after expiry = %s, want Free", st)
	}
	if v, _ := m.Status(e1); v.Status != model.StatusAvailable {
		t.Errorf("status after expiry = %s, want Available", v.Status)
	}

	// A new reservation under a different authorization now succeeds.
	if _, err := m.Reserve(ctx, e1, "", clk.Now(), 10*time.Minute, auth("B"), model.ProviderID{}, false); err != nil {
		t.Errorf("Reserve after expiry: %v", err)
	}
}

func TestOpenEndedReservationNeverExpires(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	if _, err := m.Reserve(ctx, e1, "", t0, 0, auth("A"), model.ProviderID{}, false); err != nil {
		t.Fatal(err)
	}
	clk.SetTime(t0.Add(240 * time.Hour))
	if n := m.SweepExpired(ctx); n != 0 {
		t.Errorf("SweepExpired = %d, want 0", n)
	}
}

func TestRemoteStartAuthorization(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	if _, err := m.Reserve(ctx, e1, "", t0, 30*time.Minute, auth("GOOD"), model.ProviderID{}, false); err != nil {
		t.Fatal(err)
	}

	_, err := m.RemoteStart(ctx, e1, "BAD")
	if !errors.Is(err, model.ErrRejected) {
		t.Fatalf("start with wrong credential = %v, want ErrRejected", err)
	}
	if st, _ := m.State(e1); st != StateReserved {
		t.Errorf("rejected start changed state to %s", st)
	}

	if _, err := m.RemoteStart(ctx, e1, "GOOD"); err != nil {
		t.Fatalf("start with matching credential: %v", err)
	}
}

func TestRemoteStartUnknownTarget(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	ghost, err := model.ParseEvseID("DE*ABC*GHOST")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.RemoteStart(ctx, ghost, "X"); !errors.Is(err, model.ErrUnknownTarget) {
		t.Errorf("start on unknown EVSE = %v, want ErrUnknownTarget", err)
	}
}

func TestConcurrentRemoteStartSingleWinner(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	const callers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make(map[string]int)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RemoteStart(ctx, e1, "TOKEN")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				outcomes["success"]++
			case errors.Is(err, model.ErrConflict):
				outcomes["conflict"]++
			default:
				outcomes["other"]++
			}
		}()
	}
	wg.Wait()

	if outcomes["success"] != 1 {
		t.Errorf("successes = %d, want exactly 1 (outcomes: %v)", outcomes["success"], outcomes)
	}
	if outcomes["conflict"] != callers-1 {
		t.Errorf("conflicts = %d, want %d", outcomes["conflict"], callers-1)
	}
	if st, _ := m.State(e1); st != StateCharging {
		t.Errorf("final state = %s, want Charging", st)
	}
}

func TestAdminOutOfServiceForceFinishes(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	if _, err := m.RemoteStart(ctx, e1, "T"); err != nil {
		t.Fatal(err)
	}
	for _, wh := range []int64{100, 600} {
		_ = m.RecordSample(e1, model.EnergySample{At: clk.Now(), MeterWh: wh})
	}

	clk.SetTime(t0.Add(15 * time.Minute))
	if err := m.SetAdminStatus(ctx, e1, model.AdminInoperative); err != nil {
		t.Fatalf("SetAdminStatus: %v", err)
	}

	if st, _ := m.State(e1); st != StateFree {
		t.Errorf("state = %s, want Free", st)
	}
	if v, _ := m.Status(e1); v.Status != model.StatusOutOfService {
		t.Errorf("status = %s, want OutOfService", v.Status)
	}

	// The interrupted session settled with its last known samples.
	records := m.Records(t0, t0.Add(time.Hour))
	if len(records) != 1 {
		t.Fatalf("records = %v, want one force-finished settlement", records)
	}
	if records[0].ConsumedEnergyKWh != 0.5 {
		t.Errorf("ConsumedEnergyKWh = %v, want 0.5", records[0].ConsumedEnergyKWh)
	}

	// Commands are rejected while out of service.
	if _, err := m.RemoteStart(ctx, e1, "T"); !errors.Is(err, model.ErrRejected) {
		t.Errorf("start while inoperative = %v, want ErrRejected", err)
	}
}

func TestApplyStatusIngest(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestManager(t)
	e1 := registered(t, m, "DE*ABC*E1")

	clk.SetTime(t0.Add(time.Minute))
	fault := model.StatusValue{Status: model.StatusFaulted, Timestamp: clk.Now()}
	if err := m.ApplyStatus(ctx, e1, fault); err != nil {
		t.Fatalf("ApplyStatus(Faulted): %v", err)
	}
	if v, _ := m.Status(e1); v.Status != model.StatusFaulted {
		t.Errorf("status = %s, want Faulted", v.Status)
	}

	// An out-of-order source timestamp is rejected, status untouched.
	stale := model.StatusValue{Status: model.StatusAvailable, Timestamp: t0.Add(-time.Hour)}
	if err := m.ApplyStatus(ctx, e1, stale); !errors.Is(err, model.ErrOutOfOrderTimestamp) {
		t.Errorf("stale ApplyStatus = %v, want ErrOutOfOrderTimestamp", err)
	}
	if v, _ := m.Status(e1); v.Status != model.StatusFaulted {
		t.Errorf("status after rejected write = %s, want Faulted", v.Status)
	}

	// Occupancy-controlled statuses cannot be pushed from outside.
	clk.SetTime(t0.Add(2 * time.Minute))
	if err := m.ApplyStatus(ctx, e1, model.StatusValue{Status: model.StatusCharging, Timestamp: clk.Now()}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("pushed Charging = %v, want ErrInvalidTransition", err)
	}

	// A source claiming Available while a session runs contradicts occupancy.
	if err := m.ApplyStatus(ctx, e1, model.StatusValue{Status: model.StatusAvailable, Timestamp: clk.Now()}); err != nil {
		t.Fatalf("ApplyStatus(Available): %v", err)
	}
	if _, err := m.RemoteStart(ctx, e1, "T"); err != nil {
		t.Fatal(err)
	}
	clk.SetTime(t0.Add(3 * time.Minute))
	if err := m.ApplyStatus(ctx, e1, model.StatusValue{Status: model.StatusAvailable, Timestamp: clk.Now()}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Available during session = %v, want ErrInvalidTransition", err)
	}
}

func TestSessionEmitsBusNotifications(t *testing.T) {
	ctx := context.Background()
	clk := testingclock.NewFakePassiveClock(t0)
	b := bus.New(log.NewNopLogger())
	defer b.Close()

	var mu sync.Mutex
	var got []bus.Notification
	done := make(chan struct{})
	b.Subscribe("probe", 64, notifyFunc(func(n bus.Notification) {
		mu.Lock()
		got = append(got, n)
		if len(got) == 6 {
			close(done)
		}
		mu.Unlock()
	}))

	m := NewManager(clk, b, log.NewNopLogger())
	e1 := registered(t, m, "DE*ABC*E1")

	if _, err := m.RemoteStart(ctx, e1, "T"); err != nil {
		t.Fatal(err)
	}
	clk.SetTime(t0.Add(time.Minute))
	if _, err := m.RemoteStop(ctx, e1); err != nil {
		t.Fatal(err)
	}

	// Register: Unknown->Available. Start: status + session. Stop: session
	// Charging->Finishing, status, session Finishing->Finished.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		n := len(got)
		mu.Unlock()
		t.Fatalf("got %d notifications, want 6", n)
	}

	mu.Lock()
	defer mu.Unlock()
	var statuses, sessions int
	for _, n := range got {
		switch n.(type) {
		case bus.StatusChanged:
			statuses++
		case bus.SessionChanged:
			sessions++
		}
	}
	if statuses != 3 || sessions != 3 {
		t.Errorf("status/session notifications = %d/%d, want 3/3", statuses, sessions)
	}
}

type notifyFunc func(bus.Notification)

func (f notifyFunc) Notify(n bus.Notification) { f(n) }
