package model

import "sort"

// SubscriptionSet is the set of device ids the current principal tracks.
// Values handed out by the subscription store are copies and safe to keep.
type SubscriptionSet map[string]struct{}

func NewSubscriptionSet(ids ...string) SubscriptionSet {
	s := make(SubscriptionSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s SubscriptionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s SubscriptionSet) Clone() SubscriptionSet {
	out := make(SubscriptionSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the members sorted.
func (s SubscriptionSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
