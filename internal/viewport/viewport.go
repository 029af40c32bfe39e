// Package viewport restricts node collections to the visible map area.
package viewport

import (
	"sync"

	"github.com/PetoAdam/lorawatch/internal/model"
)

// Cull keeps nodes whose coordinates lie inside bounds. A nil bounds is
// unconstrained and returns nodes unchanged.
func Cull(nodes []model.NodeSnapshot, bounds *model.Bounds) []model.NodeSnapshot {
	if bounds == nil {
		return nodes
	}
	out := make([]model.NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		if !n.Located() {
			continue
		}
		if bounds.Contains(model.LatLng{Lat: *n.Lat, Lon: *n.Lon}) {
			out = append(out, n)
		}
	}
	return out
}

// EventKind names a map interaction.
type EventKind string

const (
	MoveEnd EventKind = "moveend"
	ZoomEnd EventKind = "zoomend"
	Move    EventKind = "move"
)

// Event is a map interaction reported by the map collaborator.
type Event struct {
	Kind   EventKind     `json:"kind"`
	Bounds *model.Bounds `json:"bounds"`
}

// Settles reports whether the event ends an interaction.
func (e Event) Settles() bool { return e.Kind == MoveEnd || e.Kind == ZoomEnd }

// Culler keeps the last settled bounds and the culled view of the current
// input collection.
type Culler struct {
	mu      sync.RWMutex
	bounds  *model.Bounds
	input   []model.NodeSnapshot
	visible []model.NodeSnapshot
}

func NewCuller() *Culler { return &Culler{} }

// SetNodes replaces the input collection and recomputes the view.
func (c *Culler) SetNodes(nodes []model.NodeSnapshot) []model.NodeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = nodes
	c.visible = Cull(nodes, c.bounds)
	return c.visible
}

// HandleEvent applies a map event. Only settling events update the bounds;
// the returned flag reports whether a recompute happened.
func (c *Culler) HandleEvent(ev Event) ([]model.NodeSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ev.Settles() {
		return c.visible, false
	}
	if ev.Bounds != nil {
		b := *ev.Bounds
		c.bounds = &b
	} else {
		c.bounds = nil
	}
	c.visible = Cull(c.input, c.bounds)
	return c.visible, true
}

func (c *Culler) Visible() []model.NodeSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visible
}

func (c *Culler) Bounds() *model.Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bounds == nil {
		return nil
	}
	b := *c.bounds
	return &b
}
