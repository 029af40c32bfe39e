// Package filter narrows polled node collections by user-chosen criteria.
package filter

import "github.com/PetoAdam/lorawatch/internal/model"

// Config holds the optional predicates. A nil field is inactive; boolean
// fields only activate when set to true.
type Config struct {
	SubscribedOnly   *bool    `json:"subscribed_only,omitempty"`
	SmokeDetected    *bool    `json:"smoke_detected,omitempty"`
	TempAboveC       *float64 `json:"temp_above_c,omitempty"`
	HumidityBelowPct *float64 `json:"humidity_below_pct,omitempty"`
	LowBatteryOnly   *bool    `json:"low_battery_only,omitempty"`
}

type predicate func(model.NodeSnapshot) bool

// predicates returns the active predicates in evaluation order.
func (c Config) predicates(subs model.SubscriptionSet) []predicate {
	var out []predicate
	if on(c.SubscribedOnly) {
		out = append(out, func(n model.NodeSnapshot) bool { return subs.Has(n.DeviceID) })
	}
	if on(c.SmokeDetected) {
		out = append(out, func(n model.NodeSnapshot) bool { return n.SmokeDetected })
	}
	if c.TempAboveC != nil {
		limit := *c.TempAboveC
		out = append(out, func(n model.NodeSnapshot) bool { return n.TemperatureC > limit })
	}
	if c.HumidityBelowPct != nil {
		limit := *c.HumidityBelowPct
		out = append(out, func(n model.NodeSnapshot) bool { return n.HumidityPct < limit })
	}
	if on(c.LowBatteryOnly) {
		out = append(out, func(n model.NodeSnapshot) bool { return n.BatteryPct < model.LowBatteryPct })
	}
	return out
}

// Active reports whether any predicate would be applied.
func (c Config) Active() bool { return len(c.predicates(nil)) > 0 }

// Apply keeps the nodes satisfying every active predicate, in input order.
// With nothing active the input slice itself is returned.
func Apply(nodes []model.NodeSnapshot, cfg Config, subs model.SubscriptionSet) []model.NodeSnapshot {
	preds := cfg.predicates(subs)
	if len(preds) == 0 {
		return nodes
	}
	out := make([]model.NodeSnapshot, 0, len(nodes))
next:
	for _, n := range nodes {
		for _, p := range preds {
			if !p(n) {
				continue next
			}
		}
		out = append(out, n)
	}
	return out
}

func on(b *bool) bool { return b != nil && *b }
