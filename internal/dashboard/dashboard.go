// Package dashboard wires polling, filtering, culling and selection into
// the list and map views.
package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PetoAdam/lorawatch/internal/detail"
	"github.com/PetoAdam/lorawatch/internal/filter"
	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/poller"
	"github.com/PetoAdam/lorawatch/internal/selection"
	"github.com/PetoAdam/lorawatch/internal/subscription"
	"github.com/PetoAdam/lorawatch/internal/viewport"
)

// Listener receives the kind of change and the view it produced.
type Listener func(kind string, v *View)

type Dashboard struct {
	poller    *poller.Poller
	subs      *subscription.Store
	selection *selection.Coordinator
	detail    *detail.Fetcher
	culler    *viewport.Culler
	fallback  model.LatLng

	mu       sync.Mutex
	cfg      filter.Config
	poll     *poller.Collection
	subSet   model.SubscriptionSet
	sel      selection.State
	filtered []model.NodeSnapshot
	seq      uint64
	view     atomic.Pointer[View]

	notifyMu  sync.Mutex
	listeners []Listener
}

type Deps struct {
	Poller    *poller.Poller
	Subs      *subscription.Store
	Selection *selection.Coordinator
	Detail    *detail.Fetcher
	Culler    *viewport.Culler
	// Fallback is the map center when no node has coordinates.
	Fallback *model.LatLng
}

// New builds the dashboard and subscribes it to its components.
func New(d Deps) *Dashboard {
	if d.Culler == nil {
		d.Culler = viewport.NewCuller()
	}
	fallback := viewport.DefaultCenter
	if d.Fallback != nil {
		fallback = *d.Fallback
	}
	db := &Dashboard{
		poller:    d.Poller,
		subs:      d.Subs,
		selection: d.Selection,
		detail:    d.Detail,
		culler:    d.Culler,
		fallback:  fallback,
		poll:      d.Poller.Current(),
		subSet:    d.Subs.Current(),
		sel:       d.Selection.State(),
	}
	db.mu.Lock()
	db.recomputeLocked(KindNodes)

	d.Poller.OnPublish(db.handlePoll)
	d.Subs.OnChange(db.handleSubscriptions)
	d.Selection.OnChange(db.handleSelection)
	if d.Detail != nil {
		d.Detail.OnChange(func(detail.View) { db.notify(KindDetail, db.View()) })
	}
	return db
}

func (d *Dashboard) OnChange(fn Listener) {
	d.notifyMu.Lock()
	d.listeners = append(d.listeners, fn)
	d.notifyMu.Unlock()
}

// View returns the last published view.
func (d *Dashboard) View() *View { return d.view.Load() }

func (d *Dashboard) Filter() filter.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Dashboard) SetFilter(cfg filter.Config) *View {
	d.mu.Lock()
	d.cfg = cfg
	return d.recomputeLocked(KindFilter)
}

// HandleViewport applies a map event. Intermediate move frames leave the
// view untouched.
func (d *Dashboard) HandleViewport(ev viewport.Event) *View {
	d.mu.Lock()
	if _, changed := d.culler.HandleEvent(ev); !changed {
		d.mu.Unlock()
		return d.View()
	}
	return d.rebuildLocked(KindViewport)
}

func (d *Dashboard) ToggleFromList(id string) *View {
	d.selection.ToggleFromList(id)
	return d.View()
}

func (d *Dashboard) ToggleFromMap(id string) *View {
	d.selection.ToggleFromMap(id)
	return d.View()
}

func (d *Dashboard) Detail() detail.View {
	if d.detail == nil {
		return detail.View{}
	}
	return d.detail.Current()
}

// Refresh polls now, joining any poll already in flight.
func (d *Dashboard) Refresh(ctx context.Context) *View {
	d.poller.Refresh(ctx)
	return d.View()
}

// Subscribe confirms with the backend, then re-polls so per-user snapshot
// endpoints pick up the new node.
func (d *Dashboard) Subscribe(ctx context.Context, id string) (model.SubscriptionSet, error) {
	set, err := d.subs.Subscribe(ctx, id)
	if err == nil {
		d.poller.Refresh(ctx)
	}
	return set, err
}

func (d *Dashboard) Unsubscribe(ctx context.Context, id string) (model.SubscriptionSet, error) {
	set, err := d.subs.Unsubscribe(ctx, id)
	if err == nil {
		d.poller.Refresh(ctx)
	}
	return set, err
}

func (d *Dashboard) ReplaceSubscriptions(ctx context.Context, desired model.SubscriptionSet) (model.SubscriptionSet, error) {
	set, err := d.subs.Replace(ctx, desired)
	d.poller.Refresh(ctx)
	return set, err
}

func (d *Dashboard) Subscriptions() model.SubscriptionSet { return d.subs.Current() }

func (d *Dashboard) handlePoll(c *poller.Collection) {
	d.mu.Lock()
	d.poll = c
	d.recomputeLocked(KindNodes)
}

func (d *Dashboard) handleSubscriptions(set model.SubscriptionSet) {
	d.mu.Lock()
	d.subSet = set
	d.recomputeLocked(KindSubscriptions)
}

func (d *Dashboard) handleSelection(prev, next selection.State) {
	if d.detail != nil && !samePrimary(prev.Primary, next.Primary) {
		d.detail.OnSelectionChange(next.Primary)
	}
	d.mu.Lock()
	d.sel = next
	d.rebuildLocked(KindSelection)
}

// recomputeLocked re-runs the filter and the culler. It must be called with
// d.mu held and releases it.
func (d *Dashboard) recomputeLocked(kind string) *View {
	d.filtered = filter.Apply(d.poll.Nodes, d.cfg, d.subSet)
	d.culler.SetNodes(d.filtered)
	return d.rebuildLocked(kind)
}

// rebuildLocked must be called with d.mu held and releases it.
func (d *Dashboard) rebuildLocked(kind string) *View {
	sel := d.sel
	visible := d.culler.Visible()
	bounds := d.culler.Bounds()
	d.seq++
	v := &View{
		Seq:       d.seq,
		List:      buildList(listNodes(d.filtered, bounds), sel, d.subSet),
		Map:       buildMarkers(visible, sel),
		Selection: sel,
		Filter:    d.cfg,
		Bounds:    bounds,
		Focus:     viewport.ComputeFocus(d.filtered, sel.Expanded, sel.Primary, d.fallback),
		PollSeq:   d.poll.Seq,
		UpdatedAt: time.Now().UTC(),
	}
	if d.poll.Err != nil {
		v.PollError = d.poll.Err.Error()
	}
	d.view.Store(v)

	d.notifyMu.Lock()
	d.mu.Unlock()
	defer d.notifyMu.Unlock()
	for _, fn := range d.listeners {
		fn(kind, v)
	}
	return v
}

func (d *Dashboard) notify(kind string, v *View) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	for _, fn := range d.listeners {
		fn(kind, v)
	}
}

func samePrimary(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
