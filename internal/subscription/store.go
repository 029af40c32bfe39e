// Package subscription keeps the principal's subscribed node set in step
// with the backend. Local state changes only after the backend confirms.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
)

// Remote is the backend side of subscriptions.
type Remote interface {
	Subscriptions(ctx context.Context) ([]string, error)
	Subscribe(ctx context.Context, deviceID string) error
	Unsubscribe(ctx context.Context, deviceID string) error
}

type Store struct {
	remote Remote
	sink   observability.Sink

	mu  sync.Mutex
	set model.SubscriptionSet

	notifyMu  sync.Mutex
	listeners []func(model.SubscriptionSet)
}

func NewStore(remote Remote, sink observability.Sink) *Store {
	if sink == nil {
		sink = observability.Discard
	}
	return &Store{remote: remote, sink: sink, set: model.NewSubscriptionSet()}
}

// OnChange registers fn to receive a copy of the set after every change.
func (s *Store) OnChange(fn func(model.SubscriptionSet)) {
	s.notifyMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.notifyMu.Unlock()
}

// Current returns a copy of the local set.
func (s *Store) Current() model.SubscriptionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone()
}

// Load replaces the local set with the backend's.
func (s *Store) Load(ctx context.Context) (model.SubscriptionSet, error) {
	ids, err := s.remote.Subscriptions(ctx)
	observability.SubscriptionOps.WithLabelValues("load", observability.Result(err)).Inc()
	if err != nil {
		err = fmt.Errorf("load subscriptions: %w", err)
		s.sink.Report(ctx, "subscriptions", err)
		return s.Current(), err
	}
	return s.commit(func(model.SubscriptionSet) model.SubscriptionSet {
		return model.NewSubscriptionSet(ids...)
	}), nil
}

func (s *Store) Subscribe(ctx context.Context, deviceID string) (model.SubscriptionSet, error) {
	if err := s.remote.Subscribe(ctx, deviceID); err != nil {
		observability.SubscriptionOps.WithLabelValues("subscribe", "error").Inc()
		err = fmt.Errorf("subscribe %s: %w", deviceID, err)
		s.sink.Report(ctx, "subscriptions", err)
		return s.Current(), err
	}
	observability.SubscriptionOps.WithLabelValues("subscribe", "ok").Inc()
	return s.commit(func(set model.SubscriptionSet) model.SubscriptionSet {
		set[deviceID] = struct{}{}
		return set
	}), nil
}

func (s *Store) Unsubscribe(ctx context.Context, deviceID string) (model.SubscriptionSet, error) {
	if err := s.remote.Unsubscribe(ctx, deviceID); err != nil {
		observability.SubscriptionOps.WithLabelValues("unsubscribe", "error").Inc()
		err = fmt.Errorf("unsubscribe %s: %w", deviceID, err)
		s.sink.Report(ctx, "subscriptions", err)
		return s.Current(), err
	}
	observability.SubscriptionOps.WithLabelValues("unsubscribe", "ok").Inc()
	return s.commit(func(set model.SubscriptionSet) model.SubscriptionSet {
		delete(set, deviceID)
		return set
	}), nil
}

// Replace subscribes to ids missing from the local set, then unsubscribes
// from ids not in desired, one confirmed call at a time. It stops at the
// first failure; calls confirmed before it stay applied.
func (s *Store) Replace(ctx context.Context, desired model.SubscriptionSet) (model.SubscriptionSet, error) {
	current := s.Current()
	for _, id := range desired.IDs() {
		if current.Has(id) {
			continue
		}
		if set, err := s.Subscribe(ctx, id); err != nil {
			return set, err
		}
	}
	for _, id := range current.IDs() {
		if desired.Has(id) {
			continue
		}
		if set, err := s.Unsubscribe(ctx, id); err != nil {
			return set, err
		}
	}
	return s.Current(), nil
}

func (s *Store) commit(fn func(model.SubscriptionSet) model.SubscriptionSet) model.SubscriptionSet {
	s.mu.Lock()
	s.set = fn(s.set.Clone())
	out := s.set.Clone()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.listeners {
		fn(out.Clone())
	}
	return out
}
