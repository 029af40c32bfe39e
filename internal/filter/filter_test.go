package filter

import (
	"reflect"
	"testing"

	"github.com/PetoAdam/lorawatch/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sample() []model.NodeSnapshot {
	return []model.NodeSnapshot{
		{DeviceID: "A", TemperatureC: 40, HumidityPct: 10, BatteryPct: 50, SmokeDetected: true},
		{DeviceID: "B", TemperatureC: 20, HumidityPct: 50, BatteryPct: 10},
		{DeviceID: "C", TemperatureC: 36, HumidityPct: 14, BatteryPct: 90},
		{DeviceID: "D", TemperatureC: 35, HumidityPct: 15, BatteryPct: 19},
	}
}

func ids(nodes []model.NodeSnapshot) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.DeviceID)
	}
	return out
}

func TestApplySubscribedAndHot(t *testing.T) {
	nodes := []model.NodeSnapshot{
		{DeviceID: "A", TemperatureC: 40},
		{DeviceID: "B", TemperatureC: 20},
	}
	cfg := Config{SubscribedOnly: ptr(true), TempAboveC: ptr(30.0)}
	got := Apply(nodes, cfg, model.NewSubscriptionSet("A"))
	if !reflect.DeepEqual(ids(got), []string{"A"}) {
		t.Fatalf("expected [A], got %v", ids(got))
	}
}

func TestApplyPredicates(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		subs model.SubscriptionSet
		want []string
	}{
		{"smoke", Config{SmokeDetected: ptr(true)}, nil, []string{"A"}},
		{"temp strict", Config{TempAboveC: ptr(35.0)}, nil, []string{"A", "C"}},
		{"humidity strict", Config{HumidityBelowPct: ptr(15.0)}, nil, []string{"A", "C"}},
		{"low battery", Config{LowBatteryOnly: ptr(true)}, nil, []string{"B", "D"}},
		{"subscribed empty set", Config{SubscribedOnly: ptr(true)}, nil, []string{}},
		{"subscribed", Config{SubscribedOnly: ptr(true)}, model.NewSubscriptionSet("D", "B"), []string{"B", "D"}},
		{"combined", Config{TempAboveC: ptr(36.0), HumidityBelowPct: ptr(20.0)}, nil, []string{"A"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ids(Apply(sample(), c.cfg, c.subs))
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("expected %v, got %v", c.want, got)
			}
		})
	}
}

func TestFalseBooleansAreInactive(t *testing.T) {
	nodes := sample()
	cfg := Config{SubscribedOnly: ptr(false), SmokeDetected: ptr(false), LowBatteryOnly: ptr(false)}
	if cfg.Active() {
		t.Fatalf("expected false booleans to be inactive")
	}
	got := Apply(nodes, cfg, nil)
	if &got[0] != &nodes[0] || len(got) != len(nodes) {
		t.Fatalf("expected input slice returned unchanged")
	}
}

func TestApplyIdempotentSubset(t *testing.T) {
	nodes := sample()
	cfg := Config{TempAboveC: ptr(30.0), LowBatteryOnly: ptr(true)}
	once := Apply(nodes, cfg, nil)
	twice := Apply(once, cfg, nil)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected idempotence, got %v then %v", ids(once), ids(twice))
	}
	seen := map[string]bool{}
	for _, n := range once {
		if seen[n.DeviceID] {
			t.Fatalf("duplicate %s", n.DeviceID)
		}
		seen[n.DeviceID] = true
	}
	if !reflect.DeepEqual(ids(once), []string{"D"}) {
		t.Fatalf("expected [D], got %v", ids(once))
	}
}

func TestApplyLowBatteryOnly(t *testing.T) {
	nodes := []model.NodeSnapshot{{DeviceID: "X", BatteryPct: 15}, {DeviceID: "Y", BatteryPct: 100}}
	got := Apply(nodes, Config{LowBatteryOnly: ptr(true)}, nil)
	if !reflect.DeepEqual(ids(got), []string{"X"}) {
		t.Fatalf("expected [X], got %v", ids(got))
	}
}
