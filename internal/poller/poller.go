// Package poller periodically fetches node snapshots and publishes them as
// immutable collections.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
)

const DefaultInterval = 3 * time.Second

// fetchTimeout bounds a poll started by Refresh, which outlives its caller.
const fetchTimeout = 30 * time.Second

// FetchFunc retrieves one raw poll payload.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Collection is one published poll result. It is never mutated after
// publication.
type Collection struct {
	Nodes []model.NodeSnapshot `json:"nodes"`
	Seq   uint64               `json:"seq"`
	At    time.Time            `json:"at"`
	Err   error                `json:"-"`
}

type Poller struct {
	fetch FetchFunc
	sink  observability.Sink

	group   singleflight.Group
	current atomic.Pointer[Collection]
	seq     atomic.Uint64

	publishMu sync.Mutex
	listeners []func(*Collection)
}

func New(fetch FetchFunc, sink observability.Sink) *Poller {
	if sink == nil {
		sink = observability.Discard
	}
	p := &Poller{fetch: fetch, sink: sink}
	p.current.Store(&Collection{Nodes: []model.NodeSnapshot{}})
	return p
}

// OnPublish registers fn to run after every publication, in publication order.
func (p *Poller) OnPublish(fn func(*Collection)) {
	p.publishMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.publishMu.Unlock()
}

// Current returns the last published collection.
func (p *Poller) Current() *Collection { return p.current.Load() }

// Refresh polls now. A call made while a poll is in flight waits for that
// poll instead of starting another. The poll is detached from ctx: a caller
// that gives up gets the current collection back and the poll still
// publishes for everyone else.
func (p *Poller) Refresh(ctx context.Context) *Collection {
	ch := p.group.DoChan("poll", func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return p.poll(pollCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(*Collection)
	case <-ctx.Done():
		return p.Current()
	}
}

// tick is the loop's poll. It is bound to the loop context so Stop does not
// wait for a slow fetch.
func (p *Poller) tick(ctx context.Context) {
	_, _, _ = p.group.Do("poll", func() (any, error) {
		return p.poll(ctx), nil
	})
}

// poll fetches and publishes. A fetch cut short by cancellation publishes
// nothing and leaves the current collection in place.
func (p *Poller) poll(ctx context.Context) *Collection {
	nodes, err := p.load(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Debug("poll cancelled", "error", err)
		return p.Current()
	}
	if err != nil {
		observability.PollsTotal.WithLabelValues("error").Inc()
		p.sink.Report(ctx, "poller", err)
		nodes = []model.NodeSnapshot{}
	} else {
		observability.PollsTotal.WithLabelValues("ok").Inc()
	}
	observability.PolledNodes.Set(float64(len(nodes)))
	return p.publish(&Collection{Nodes: nodes, At: time.Now().UTC(), Err: err})
}

func (p *Poller) load(ctx context.Context) ([]model.NodeSnapshot, error) {
	payload, err := p.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}
	nodes, skipped, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		observability.SkippedRecords.Add(float64(skipped))
		p.sink.Report(ctx, "poller", fmt.Errorf("skipped %d malformed snapshot(s)", skipped))
	}
	return nodes, nil
}

func (p *Poller) publish(c *Collection) *Collection {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	c.Seq = p.seq.Add(1)
	p.current.Store(c)
	for _, fn := range p.listeners {
		fn(c)
	}
	return c
}

// Handle owns a running poll loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop ends the loop and waits for it to exit. It is safe to call twice.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start polls immediately and then every interval until the handle is
// stopped or ctx is cancelled.
func (p *Poller) Start(ctx context.Context, interval time.Duration) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		slog.Debug("poll loop started", "interval", interval)
		p.tick(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("poll loop stopped")
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
	return h
}
