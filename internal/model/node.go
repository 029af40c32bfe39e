package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LowBatteryPct is the battery level below which a node counts as low.
const LowBatteryPct = 20.0

// DryHumidityPct is the humidity below which a node counts as dry.
const DryHumidityPct = 15.0

// NodeSnapshot is the most recently polled state of a sensor node.
// Lat/Lon/LastSeen are optional; a node without coordinates never reaches
// map-facing collections.
type NodeSnapshot struct {
	DeviceID      string     `json:"device_eui"`
	FriendlyID    string     `json:"node_id,omitempty"`
	Lat           *float64   `json:"latitude,omitempty"`
	Lon           *float64   `json:"longitude,omitempty"`
	TemperatureC  float64    `json:"temperature_c"`
	HumidityPct   float64    `json:"humidity_pct"`
	BatteryPct    float64    `json:"battery_level"`
	SmokeDetected bool       `json:"smoke_detected"`
	LastSeen      *time.Time `json:"timestamp,omitempty"`
}

// Located reports whether both coordinates are present.
func (n NodeSnapshot) Located() bool { return n.Lat != nil && n.Lon != nil }

// UnmarshalJSON accepts the loose shapes the backends emit: SQLite rows
// carry smoke_detected as 0/1 and timestamps without a zone.
func (n *NodeSnapshot) UnmarshalJSON(b []byte) error {
	type alias NodeSnapshot
	aux := struct {
		*alias
		SmokeDetected flag            `json:"smoke_detected"`
		LastSeen      json.RawMessage `json:"timestamp"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	n.SmokeDetected = bool(aux.SmokeDetected)
	n.LastSeen = parseTimestamp(aux.LastSeen)
	return nil
}

// NodeDetail is the full latest telemetry row for one node.
type NodeDetail struct {
	NodeSnapshot
	GatewayID       string     `json:"gateway_id,omitempty"`
	AltitudeM       *float64   `json:"altitude,omitempty"`
	RSSI            *float64   `json:"rssi,omitempty"`
	SNR             *float64   `json:"snr,omitempty"`
	DeviceTimestamp *time.Time `json:"device_timestamp,omitempty"`
}

// UnmarshalJSON decodes the embedded snapshot with its tolerant rules and
// the detail-only fields on top.
func (d *NodeDetail) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &d.NodeSnapshot); err != nil {
		return err
	}
	var aux struct {
		GatewayID       string          `json:"gateway_id"`
		AltitudeM       *float64        `json:"altitude"`
		RSSI            *float64        `json:"rssi"`
		SNR             *float64        `json:"snr"`
		DeviceTimestamp json.RawMessage `json:"device_timestamp"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.GatewayID = aux.GatewayID
	d.AltitudeM = aux.AltitudeM
	d.RSSI = aux.RSSI
	d.SNR = aux.SNR
	d.DeviceTimestamp = parseTimestamp(aux.DeviceTimestamp)
	return nil
}

// TelemetryRecord is one historical row; the backend returns them newest first.
type TelemetryRecord = NodeDetail

// NodeInfo is a catalog entry used when picking subscriptions.
type NodeInfo struct {
	DeviceID   string     `json:"device_eui"`
	FriendlyID string     `json:"node_id,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

func (i *NodeInfo) UnmarshalJSON(b []byte) error {
	var aux struct {
		DeviceID   string          `json:"device_eui"`
		FriendlyID string          `json:"node_id"`
		LastSeen   json.RawMessage `json:"last_seen"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	i.DeviceID = aux.DeviceID
	i.FriendlyID = aux.FriendlyID
	i.LastSeen = parseTimestamp(aux.LastSeen)
	return nil
}

type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch s := string(bytes.TrimSpace(b)); s {
	case "true", "1", "1.0":
		*f = true
	case "false", "0", "0.0", "null", "":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", s)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw json.RawMessage) *time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
