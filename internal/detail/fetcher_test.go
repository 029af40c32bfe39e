package detail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PetoAdam/lorawatch/internal/model"
)

type fakeSource struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	failing   atomic.Bool
	detailN   atomic.Int32
	lastLimit atomic.Int32
}

func (s *fakeSource) gate(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gates[id]
}

func (s *fakeSource) NodeDetail(_ context.Context, id string) (*model.NodeDetail, error) {
	if g := s.gate(id); g != nil {
		<-g
	}
	s.detailN.Add(1)
	if s.failing.Load() {
		return nil, errors.New("bad gateway")
	}
	return &model.NodeDetail{NodeSnapshot: model.NodeSnapshot{DeviceID: id, BatteryPct: float64(s.detailN.Load())}}, nil
}

func (s *fakeSource) Telemetry(_ context.Context, id string, limit int) ([]model.TelemetryRecord, error) {
	s.lastLimit.Store(int32(limit))
	rows := make([]model.TelemetryRecord, 3)
	for i := range rows {
		rows[i].DeviceID = id
	}
	return rows, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func ptr(s string) *string { return &s }

func TestSelectionLoadsDetailAndHistory(t *testing.T) {
	src := &fakeSource{}
	f := NewFetcher(src, nil, time.Hour)
	defer f.Close()

	f.OnSelectionChange(ptr("A"))
	if v := f.Current(); !v.Loading || v.DeviceID != "A" {
		t.Fatalf("expected loading view for A, got %+v", v)
	}
	waitFor(t, func() bool { return !f.Current().Loading })
	v := f.Current()
	if v.Detail == nil || v.Detail.DeviceID != "A" || len(v.History) != 3 {
		t.Fatalf("unexpected view %+v", v)
	}
	if src.lastLimit.Load() != HistoryLimit {
		t.Fatalf("expected history limit %d, got %d", HistoryLimit, src.lastLimit.Load())
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	src := &fakeSource{gates: map[string]chan struct{}{"A": make(chan struct{})}}
	f := NewFetcher(src, nil, time.Hour)
	defer f.Close()

	f.OnSelectionChange(ptr("A"))
	f.OnSelectionChange(ptr("B"))
	waitFor(t, func() bool { return f.Current().Detail != nil })
	close(src.gate("A"))
	waitFor(t, func() bool { return f.Discarded() == 1 })

	if v := f.Current(); v.DeviceID != "B" || v.Detail.DeviceID != "B" {
		t.Fatalf("expected B to stay rendered, got %+v", v)
	}
}

func TestNilSelectionClearsAndSameIDIsNoop(t *testing.T) {
	src := &fakeSource{}
	f := NewFetcher(src, nil, time.Hour)
	defer f.Close()

	var changes atomic.Int32
	f.OnChange(func(View) { changes.Add(1) })
	f.OnSelectionChange(ptr("A"))
	waitFor(t, func() bool { return !f.Current().Loading })
	before := changes.Load()
	f.OnSelectionChange(ptr("A"))
	if changes.Load() != before {
		t.Fatalf("expected same id to be a no-op")
	}
	f.OnSelectionChange(nil)
	if v := f.Current(); v.DeviceID != "" || v.Detail != nil {
		t.Fatalf("expected cleared view, got %+v", v)
	}
}

func TestRefreshFailureKeepsLastGoodDetail(t *testing.T) {
	src := &fakeSource{}
	var reports atomic.Int32
	f := NewFetcher(src, sinkFunc(func() { reports.Add(1) }), 10*time.Millisecond)
	defer f.Close()

	f.OnSelectionChange(ptr("A"))
	waitFor(t, func() bool { return f.Current().Detail != nil })
	src.failing.Store(true)
	waitFor(t, func() bool { return reports.Load() > 0 })

	v := f.Current()
	if v.Detail == nil || v.Error == "" {
		t.Fatalf("expected last good detail with an error, got %+v", v)
	}
}

func TestRefreshPicksUpNewDetail(t *testing.T) {
	src := &fakeSource{}
	f := NewFetcher(src, nil, 10*time.Millisecond)
	defer f.Close()

	f.OnSelectionChange(ptr("A"))
	waitFor(t, func() bool { return src.detailN.Load() >= 3 })
	waitFor(t, func() bool {
		v := f.Current()
		return v.Detail != nil && v.Detail.BatteryPct >= 2
	})
}

type sinkFunc func()

func (f sinkFunc) Report(context.Context, string, error) { f() }
