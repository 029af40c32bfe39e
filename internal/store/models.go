package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Reading is the measurement part shared by the history and latest tables.
type Reading struct {
	NodeID          string     `json:"node_id,omitempty"`
	GatewayID       string     `json:"gateway_id,omitempty"`
	ReceivedAt      time.Time  `gorm:"index" json:"timestamp"`
	DeviceTimestamp *time.Time `json:"device_timestamp,omitempty"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	Altitude        *float64   `json:"altitude,omitempty"`
	TemperatureC    *float64   `json:"temperature_c"`
	HumidityPct     *float64   `json:"humidity_pct"`
	BatteryLevel    *float64   `json:"battery_level"`
	RSSI            *float64   `json:"rssi,omitempty"`
	SNR             *float64   `json:"snr,omitempty"`
	SmokeDetected   bool       `json:"smoke_detected"`
}

type Node struct {
	DeviceEUI string     `gorm:"primaryKey" json:"device_eui"`
	NodeID    string     `json:"node_id,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func (Node) TableName() string { return "nodes" }

type Gateway struct {
	GatewayID string    `gorm:"primaryKey" json:"gateway_id"`
	FirstSeen time.Time `json:"first_seen"`
}

func (Gateway) TableName() string { return "gateways" }

type Telemetry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	DeviceEUI string    `gorm:"index" json:"device_eui"`
	Reading
	Raw datatypes.JSON `gorm:"type:jsonb" json:"-"`
}

func (Telemetry) TableName() string { return "telemetry" }

// LatestTelemetry keeps one row per device, the newest by ReceivedAt.
type LatestTelemetry struct {
	DeviceEUI string `gorm:"primaryKey" json:"device_eui"`
	Reading
}

func (LatestTelemetry) TableName() string { return "latest_telemetry" }

type Subscription struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	DeviceEUI string    `gorm:"primaryKey" json:"device_eui"`
	CreatedAt time.Time `json:"created_at"`
}

func (Subscription) TableName() string { return "user_node_subscriptions" }
