// Package alerts raises fire-risk notifications from polled snapshots.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
)

const (
	TypeFireRisk = "FIRE_RISK"

	DefaultTempThresholdC = 60.0
	DefaultCooldown       = 5 * time.Minute
)

type Engine struct {
	thresholdC float64
	cooldown   Cooldown
	notifiers  []Notifier
	sink       observability.Sink
}

func NewEngine(thresholdC float64, cooldown Cooldown, sink observability.Sink, notifiers ...Notifier) *Engine {
	if cooldown == nil {
		cooldown = NewMemoryCooldown(DefaultCooldown)
	}
	if sink == nil {
		sink = observability.Discard
	}
	return &Engine{thresholdC: thresholdC, cooldown: cooldown, notifiers: notifiers, sink: sink}
}

// FireRisk reports smoke or a temperature above the threshold.
func (e *Engine) FireRisk(n model.NodeSnapshot) bool {
	return n.SmokeDetected || n.TemperatureC > e.thresholdC
}

// Evaluate notifies for every at-risk node outside its cooldown window and
// returns the alerts raised.
func (e *Engine) Evaluate(ctx context.Context, nodes []model.NodeSnapshot) []Alert {
	var raised []Alert
	for _, n := range nodes {
		if !e.FireRisk(n) {
			continue
		}
		ok, err := e.cooldown.Allow(ctx, n.DeviceID+":"+TypeFireRisk)
		if err != nil {
			e.sink.Report(ctx, "alerts", fmt.Errorf("cooldown %s: %w", n.DeviceID, err))
			continue
		}
		if !ok {
			continue
		}
		a := Alert{
			Type:         TypeFireRisk,
			DeviceID:     n.DeviceID,
			FriendlyID:   n.FriendlyID,
			TemperatureC: n.TemperatureC,
			Smoke:        n.SmokeDetected,
			At:           time.Now().UTC(),
		}
		if n.LastSeen != nil {
			a.At = *n.LastSeen
		}
		slog.Info("fire risk detected", "device_eui", n.DeviceID, "temperature_c", n.TemperatureC, "smoke", n.SmokeDetected)
		for _, nt := range e.notifiers {
			err := nt.Notify(ctx, a)
			observability.AlertsSent.WithLabelValues(nt.Name(), observability.Result(err)).Inc()
			if err != nil {
				e.sink.Report(ctx, "alerts", fmt.Errorf("%s notify %s: %w", nt.Name(), n.DeviceID, err))
			}
		}
		raised = append(raised, a)
	}
	return raised
}
