// Package selection coordinates which nodes are expanded across the list
// and map views. The list selects many nodes; the map focuses one.
package selection

import (
	"slices"
	"sync"
)

type Mode string

const (
	Idle       Mode = "idle"
	ListMulti  Mode = "list_multi"
	MapFocused Mode = "map_focused"
)

// State is an immutable selection value. Primary, when set, is a member of
// Expanded.
type State struct {
	Expanded []string `json:"expanded"`
	Primary  *string  `json:"primary"`
	Mode     Mode     `json:"mode"`
}

func (s State) IsExpanded(id string) bool { return slices.Contains(s.Expanded, id) }

func (s State) IsPrimary(id string) bool { return s.Primary != nil && *s.Primary == id }

func (s State) clone() State {
	out := State{Expanded: slices.Clone(s.Expanded), Mode: s.Mode}
	if out.Expanded == nil {
		out.Expanded = []string{}
	}
	if s.Primary != nil {
		p := *s.Primary
		out.Primary = &p
	}
	return out
}

// Listener observes transitions. Listeners run in mutation order and must
// not mutate the coordinator they observe.
type Listener func(prev, next State)

type Coordinator struct {
	mu    sync.Mutex
	state State

	notifyMu  sync.Mutex
	listeners []Listener
}

func NewCoordinator() *Coordinator {
	return &Coordinator{state: State{Expanded: []string{}, Mode: Idle}}
}

func (c *Coordinator) OnChange(fn Listener) {
	c.notifyMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.notifyMu.Unlock()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// ToggleFromList collapses an expanded node, or expands it and makes it
// primary. Other expanded nodes are untouched.
func (c *Coordinator) ToggleFromList(id string) State {
	return c.apply(func(s State) State {
		if i := slices.Index(s.Expanded, id); i >= 0 {
			s.Expanded = slices.Delete(s.Expanded, i, i+1)
			s.Primary = nil
		} else {
			s.Expanded = append(s.Expanded, id)
			s.Primary = &id
		}
		s.Mode = ListMulti
		if len(s.Expanded) == 0 {
			s.Mode = Idle
		}
		return s
	})
}

// ToggleFromMap focuses a single node, or clears everything when the
// focused node is clicked again.
func (c *Coordinator) ToggleFromMap(id string) State {
	return c.apply(func(s State) State {
		if s.IsPrimary(id) {
			return State{Expanded: []string{}, Mode: Idle}
		}
		return State{Expanded: []string{id}, Primary: &id, Mode: MapFocused}
	})
}

func (c *Coordinator) apply(fn func(State) State) State {
	c.mu.Lock()
	prev := c.state.clone()
	c.state = fn(c.state.clone())
	next := c.state.clone()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, l := range c.listeners {
		l(prev.clone(), next.clone())
	}
	return next
}
