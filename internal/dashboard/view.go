package dashboard

import (
	"encoding/json"
	"time"

	"github.com/PetoAdam/lorawatch/internal/filter"
	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/selection"
	"github.com/PetoAdam/lorawatch/internal/viewport"
)

// Change kinds carried by notifications.
const (
	KindNodes         = "nodes"
	KindSelection     = "selection"
	KindDetail        = "detail"
	KindSubscriptions = "subscriptions"
	KindFilter        = "filter"
	KindViewport      = "viewport"
)

// NodeView is one list row.
type NodeView struct {
	model.NodeSnapshot
	Status     model.Status `json:"status"`
	Group      model.Status `json:"group"`
	Expanded   bool         `json:"expanded"`
	Subscribed bool         `json:"subscribed"`
}

// UnmarshalJSON decodes the row flags alongside the embedded snapshot,
// whose own decoder would otherwise swallow them.
func (n *NodeView) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &n.NodeSnapshot); err != nil {
		return err
	}
	var aux struct {
		Status     model.Status `json:"status"`
		Group      model.Status `json:"group"`
		Expanded   bool         `json:"expanded"`
		Subscribed bool         `json:"subscribed"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	n.Status, n.Group, n.Expanded, n.Subscribed = aux.Status, aux.Group, aux.Expanded, aux.Subscribed
	return nil
}

// MarkerView is one map marker. Only located nodes become markers.
type MarkerView struct {
	DeviceID string       `json:"device_eui"`
	Position model.LatLng `json:"position"`
	Status   model.Status `json:"status"`
	Focused  bool         `json:"focused"`
}

// View is an immutable snapshot of everything the UI renders.
type View struct {
	Seq       uint64          `json:"seq"`
	List      []NodeView      `json:"list"`
	Map       []MarkerView    `json:"map"`
	Selection selection.State `json:"selection"`
	Filter    filter.Config   `json:"filter"`
	Bounds    *model.Bounds   `json:"bounds"`
	Focus     viewport.Focus  `json:"focus"`
	PollSeq   uint64          `json:"poll_seq"`
	PollError string          `json:"poll_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Group is a list section.
type Group struct {
	Status model.Status `json:"status"`
	Nodes  []NodeView   `json:"nodes"`
}

// Grouped splits the list into alert, warning and normal sections, keeping
// the list order inside each. Empty sections are omitted.
func (v *View) Grouped() []Group {
	order := []model.Status{model.StatusAlert, model.StatusWarning, model.StatusNormal}
	buckets := map[model.Status][]NodeView{}
	for _, n := range v.List {
		buckets[n.Group] = append(buckets[n.Group], n)
	}
	out := make([]Group, 0, len(order))
	for _, s := range order {
		if len(buckets[s]) > 0 {
			out = append(out, Group{Status: s, Nodes: buckets[s]})
		}
	}
	return out
}

// listNodes keeps the filtered order. Located nodes outside bounds are
// dropped; nodes without coordinates always stay listed.
func listNodes(filtered []model.NodeSnapshot, bounds *model.Bounds) []model.NodeSnapshot {
	if bounds == nil {
		return filtered
	}
	out := make([]model.NodeSnapshot, 0, len(filtered))
	for _, n := range filtered {
		if !n.Located() || bounds.Contains(model.LatLng{Lat: *n.Lat, Lon: *n.Lon}) {
			out = append(out, n)
		}
	}
	return out
}

func buildList(nodes []model.NodeSnapshot, sel selection.State, subs model.SubscriptionSet) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeView{
			NodeSnapshot: n,
			Status:       model.Classify(n),
			Group:        model.ListGroup(n),
			Expanded:     sel.IsExpanded(n.DeviceID),
			Subscribed:   subs.Has(n.DeviceID),
		})
	}
	return out
}

func buildMarkers(nodes []model.NodeSnapshot, sel selection.State) []MarkerView {
	out := make([]MarkerView, 0, len(nodes))
	for _, n := range nodes {
		if !n.Located() {
			continue
		}
		out = append(out, MarkerView{
			DeviceID: n.DeviceID,
			Position: model.LatLng{Lat: *n.Lat, Lon: *n.Lon},
			Status:   model.Classify(n),
			Focused:  sel.IsPrimary(n.DeviceID),
		})
	}
	return out
}
