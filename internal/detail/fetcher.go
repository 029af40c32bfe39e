// Package detail loads and refreshes the full record of the primary node.
package detail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
)

const (
	DefaultInterval = 3 * time.Second
	HistoryLimit    = 50
)

// Source reads detail data from the backend.
type Source interface {
	NodeDetail(ctx context.Context, deviceID string) (*model.NodeDetail, error)
	Telemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetryRecord, error)
}

// View is what the detail panel shows. The zero View means nothing selected.
type View struct {
	DeviceID  string                  `json:"device_eui,omitempty"`
	Detail    *model.NodeDetail       `json:"detail,omitempty"`
	History   []model.TelemetryRecord `json:"history,omitempty"`
	Loading   bool                    `json:"loading"`
	Error     string                  `json:"error,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

type Fetcher struct {
	src      Source
	sink     observability.Sink
	interval time.Duration

	base      context.Context
	closeBase context.CancelFunc

	mu       sync.Mutex
	gen      uint64
	selected string
	view     View
	stop     context.CancelFunc

	discarded atomic.Uint64

	notifyMu  sync.Mutex
	listeners []func(View)
}

func NewFetcher(src Source, sink observability.Sink, interval time.Duration) *Fetcher {
	if sink == nil {
		sink = observability.Discard
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &Fetcher{src: src, sink: sink, interval: interval, base: base, closeBase: cancel}
}

func (f *Fetcher) OnChange(fn func(View)) {
	f.notifyMu.Lock()
	f.listeners = append(f.listeners, fn)
	f.notifyMu.Unlock()
}

func (f *Fetcher) Current() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

// Discarded counts responses dropped because the selection had moved on.
func (f *Fetcher) Discarded() uint64 { return f.discarded.Load() }

// Close stops any refresh loop. The fetcher ignores selections afterwards.
func (f *Fetcher) Close() {
	f.closeBase()
	f.mu.Lock()
	f.gen++
	f.mu.Unlock()
}

// OnSelectionChange follows the primary selection. A new id starts a load
// and a refresh loop; nil stops refreshing and clears the view; the current
// id again does nothing.
func (f *Fetcher) OnSelectionChange(primary *string) {
	id := ""
	if primary != nil {
		id = *primary
	}

	f.mu.Lock()
	if id == f.selected || f.base.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	if f.stop != nil {
		f.stop()
		f.stop = nil
	}
	f.selected = id
	if id == "" {
		f.view = View{UpdatedAt: time.Now().UTC()}
	} else {
		ctx, cancel := context.WithCancel(f.base)
		f.stop = cancel
		f.view = View{DeviceID: id, Loading: true, UpdatedAt: time.Now().UTC()}
		go f.follow(ctx, gen, id)
	}
	f.notifyLocked()
}

func (f *Fetcher) follow(ctx context.Context, gen uint64, id string) {
	f.load(ctx, gen, id)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := f.src.NodeDetail(ctx, id)
			f.apply(gen, func(v *View) {
				if err != nil {
					err = fmt.Errorf("refresh detail %s: %w", id, err)
					f.sink.Report(ctx, "detail", err)
					v.Error = err.Error()
					return
				}
				v.Detail = d
				v.Error = ""
			})
		}
	}
}

func (f *Fetcher) load(ctx context.Context, gen uint64, id string) {
	var (
		g       errgroup.Group
		d       *model.NodeDetail
		history []model.TelemetryRecord
		dErr    error
		hErr    error
	)
	g.Go(func() error {
		d, dErr = f.src.NodeDetail(ctx, id)
		return dErr
	})
	g.Go(func() error {
		history, hErr = f.src.Telemetry(ctx, id, HistoryLimit)
		return hErr
	})
	_ = g.Wait()

	f.apply(gen, func(v *View) {
		v.Loading = false
		if dErr == nil {
			v.Detail = d
		}
		if hErr == nil {
			if len(history) > HistoryLimit {
				history = history[:HistoryLimit]
			}
			v.History = history
		}
		for _, err := range []error{dErr, hErr} {
			if err != nil {
				err = fmt.Errorf("load detail %s: %w", id, err)
				f.sink.Report(ctx, "detail", err)
				v.Error = err.Error()
			}
		}
	})
}

func (f *Fetcher) apply(gen uint64, fn func(*View)) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		f.discarded.Add(1)
		observability.StaleDetailDiscards.Inc()
		slog.Debug("stale detail response discarded", "generation", gen)
		return
	}
	v := f.view
	v.History = slices.Clone(v.History)
	fn(&v)
	v.UpdatedAt = time.Now().UTC()
	f.view = v
	f.notifyLocked()
}

// notifyLocked must be called with f.mu held; it releases it.
func (f *Fetcher) notifyLocked() {
	v := f.view
	f.notifyMu.Lock()
	f.mu.Unlock()
	defer f.notifyMu.Unlock()
	for _, fn := range f.listeners {
		fn(v)
	}
}
