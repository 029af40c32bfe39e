// Package ingest stores decoded LoRa application uplinks received over MQTT.
package ingest

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/datatypes"

	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
	"github.com/PetoAdam/lorawatch/internal/store"
)

//go:embed uplink.schema.json
var uplinkSchema string

var ErrNotUplinkTopic = errors.New("not an uplink topic")

// Uplink is the network server's JSON event for one device message.
// Temperature arrives in hundredths of a degree.
type Uplink struct {
	DevAddr    string `json:"devAddr"`
	Time       string `json:"time"`
	DeviceInfo struct {
		DevEUI string `json:"devEui"`
	} `json:"deviceInfo"`
	RxInfo []struct {
		GatewayID string   `json:"gatewayId"`
		RSSI      *float64 `json:"rssi"`
		SNR       *float64 `json:"snr"`
		Location  *struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Altitude  *float64 `json:"altitude"`
		} `json:"location"`
	} `json:"rxInfo"`
	Object struct {
		BatteryLevel  *float64        `json:"battery_level"`
		Humidity      *float64        `json:"humidity"`
		Temperature   *float64        `json:"temperature"`
		SmokeDetected json.RawMessage `json:"smoke_detected"`
		Timestamp     json.RawMessage `json:"timestamp"`
	} `json:"object"`
}

type Ingestor struct {
	Repo   *store.Repo
	Prefix string
	// OnReading, when set, sees every stored reading.
	OnReading func(ctx context.Context, n model.NodeSnapshot)

	schema *jsonschema.Schema
}

func New(repo *store.Repo, prefix string) (*Ingestor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("uplink.schema.json", strings.NewReader(uplinkSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("uplink.schema.json")
	if err != nil {
		return nil, err
	}
	return &Ingestor{Repo: repo, Prefix: prefix, schema: schema}, nil
}

// Topic is the MQTT subscription filter for the configured prefix.
func (i *Ingestor) Topic() string { return strings.TrimRight(i.Prefix, "/") + "/#" }

func (i *Ingestor) HandleMessage(ctx context.Context, topic string, payload []byte, receivedAt time.Time) error {
	err := i.handle(ctx, topic, payload, receivedAt)
	switch {
	case errors.Is(err, ErrNotUplinkTopic):
		return err
	case err != nil:
		observability.IngestedMessages.WithLabelValues("rejected").Inc()
		slog.Warn("uplink rejected", "topic", topic, "error", err)
	default:
		observability.IngestedMessages.WithLabelValues("stored").Inc()
	}
	return err
}

func (i *Ingestor) handle(ctx context.Context, topic string, payload []byte, receivedAt time.Time) error {
	topicEUI, err := ParseDeviceEUI(i.Prefix, topic)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := i.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	var u Uplink
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("decode uplink: %w", err)
	}
	t, err := ToTelemetry(u, topicEUI, receivedAt)
	if err != nil {
		return err
	}
	t.Raw = datatypes.JSON(append([]byte(nil), payload...))
	if err := i.Repo.RecordReading(ctx, t); err != nil {
		return fmt.Errorf("store reading: %w", err)
	}
	slog.Debug("uplink stored", "device_eui", t.DeviceEUI, "received_at", t.ReceivedAt)
	if i.OnReading != nil {
		i.OnReading(ctx, Snapshot(t))
	}
	return nil
}

// ParseDeviceEUI extracts the device EUI from <prefix>/<device_eui>.
func ParseDeviceEUI(prefix, topic string) (string, error) {
	prefix = strings.TrimRight(prefix, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotUplinkTopic
	}
	id := strings.Trim(strings.TrimPrefix(topic, prefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("bad device topic %q", topic)
	}
	return id, nil
}

// ToTelemetry maps an uplink to a history row. The payload's device EUI
// wins over the topic's.
func ToTelemetry(u Uplink, topicEUI string, receivedAt time.Time) (*store.Telemetry, error) {
	eui := strings.TrimSpace(u.DeviceInfo.DevEUI)
	if eui == "" {
		eui = topicEUI
	}
	if eui == "" {
		return nil, errors.New("missing device eui")
	}

	t := &store.Telemetry{DeviceEUI: eui}
	t.NodeID = u.DevAddr
	t.ReceivedAt = receivedAt.UTC()
	if ts, err := time.Parse(time.RFC3339Nano, u.Time); err == nil {
		t.ReceivedAt = ts.UTC()
	}
	if len(u.RxInfo) > 0 {
		rx := u.RxInfo[0]
		t.GatewayID = rx.GatewayID
		t.RSSI, t.SNR = rx.RSSI, rx.SNR
		if rx.Location != nil {
			t.Latitude, t.Longitude, t.Altitude = rx.Location.Latitude, rx.Location.Longitude, rx.Location.Altitude
		}
	}
	t.BatteryLevel = u.Object.BatteryLevel
	t.HumidityPct = u.Object.Humidity
	if u.Object.Temperature != nil {
		c := *u.Object.Temperature / 100
		t.TemperatureC = &c
	}
	t.SmokeDetected = truthy(u.Object.SmokeDetected)
	t.DeviceTimestamp = epoch(u.Object.Timestamp)
	return t, nil
}

// Snapshot converts a stored row to the dashboard's snapshot shape.
func Snapshot(t *store.Telemetry) model.NodeSnapshot {
	n := model.NodeSnapshot{
		DeviceID:      t.DeviceEUI,
		FriendlyID:    t.NodeID,
		Lat:           t.Latitude,
		Lon:           t.Longitude,
		SmokeDetected: t.SmokeDetected,
	}
	if t.TemperatureC != nil {
		n.TemperatureC = *t.TemperatureC
	}
	if t.HumidityPct != nil {
		n.HumidityPct = *t.HumidityPct
	}
	if t.BatteryLevel != nil {
		n.BatteryPct = *t.BatteryLevel
	}
	at := t.ReceivedAt
	n.LastSeen = &at
	return n
}

func truthy(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "false" && s != "0"
}

func epoch(raw json.RawMessage) *time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
