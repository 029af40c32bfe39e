package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadySubscribed = errors.New("already subscribed")
)

const (
	DefaultTelemetryLimit = 500
	MaxTelemetryLimit     = 5000
	DefaultMapLimit       = 5000
	MaxMapLimit           = 10000
)

type Repo struct {
	db *gorm.DB
}

// Open connects with the named driver, "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Node{}, &Gateway{}, &Telemetry{}, &LatestTelemetry{}, &Subscription{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// RecordReading stores one uplink: the node and gateway are upserted, the
// row is appended to history and replaces the latest row unless that one
// is newer.
func (r *Repo) RecordReading(ctx context.Context, t *Telemetry) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := t.ReceivedAt
		node := Node{DeviceEUI: t.DeviceEUI, NodeID: t.NodeID, LastSeen: &seen}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_eui"}},
			DoUpdates: clause.AssignmentColumns([]string{"node_id", "last_seen"}),
		}).Create(&node).Error; err != nil {
			return err
		}
		if t.GatewayID != "" {
			gw := Gateway{GatewayID: t.GatewayID, FirstSeen: seen}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&gw).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		latest := LatestTelemetry{DeviceEUI: t.DeviceEUI, Reading: t.Reading}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_eui"}},
			UpdateAll: true,
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.received_at >= latest_telemetry.received_at"},
			}},
		}).Create(&latest).Error
	})
}

func (r *Repo) ListNodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := r.db.WithContext(ctx).Order("device_eui").Find(&nodes).Error
	return nodes, err
}

// NodeLatest returns the newest history row for a device.
func (r *Repo) NodeLatest(ctx context.Context, deviceEUI string) (*Telemetry, error) {
	var t Telemetry
	err := r.db.WithContext(ctx).
		Where("device_eui = ?", deviceEUI).
		Order("received_at DESC").
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type TelemetryQuery struct {
	DeviceEUI   string
	From, To    time.Time
	Limit       int
	NewestFirst bool
}

func (r *Repo) ListTelemetry(ctx context.Context, q TelemetryQuery) ([]Telemetry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultTelemetryLimit
	}
	if limit > MaxTelemetryLimit {
		limit = MaxTelemetryLimit
	}
	tx := r.db.WithContext(ctx)
	if q.DeviceEUI != "" {
		tx = tx.Where("device_eui = ?", q.DeviceEUI)
	}
	if !q.From.IsZero() {
		tx = tx.Where("received_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("received_at <= ?", q.To)
	}
	var rows []Telemetry
	err := tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "received_at"}, Desc: q.NewestFirst}).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// LatestForUser returns the latest row of every node the user subscribes to.
func (r *Repo) LatestForUser(ctx context.Context, userID string) ([]LatestTelemetry, error) {
	var rows []LatestTelemetry
	err := r.db.WithContext(ctx).
		Where("device_eui IN (?)", r.db.Model(&Subscription{}).Select("device_eui").Where("user_id = ?", userID)).
		Order("device_eui").
		Find(&rows).Error
	return rows, err
}

func (r *Repo) Summary(ctx context.Context) ([]LatestTelemetry, error) {
	var rows []LatestTelemetry
	err := r.db.WithContext(ctx).Order("device_eui").Find(&rows).Error
	return rows, err
}

// MapQuery bounds are applied per axis only when both ends are set.
type MapQuery struct {
	MinLat, MaxLat *float64
	MinLon, MaxLon *float64
	Limit          int
}

func (r *Repo) MapNodes(ctx context.Context, q MapQuery) ([]LatestTelemetry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMapLimit
	}
	if limit > MaxMapLimit {
		limit = MaxMapLimit
	}
	tx := r.db.WithContext(ctx)
	if q.MinLat != nil && q.MaxLat != nil {
		tx = tx.Where("latitude BETWEEN ? AND ?", *q.MinLat, *q.MaxLat)
	}
	if q.MinLon != nil && q.MaxLon != nil {
		tx = tx.Where("longitude BETWEEN ? AND ?", *q.MinLon, *q.MaxLon)
	}
	var rows []LatestTelemetry
	err := tx.Order("device_eui").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repo) Subscriptions(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Order("device_eui").
		Pluck("device_eui", &ids).Error
	return ids, err
}

// Subscribe fails with ErrNotFound for unknown nodes and
// ErrAlreadySubscribed for duplicates.
func (r *Repo) Subscribe(ctx context.Context, userID, deviceEUI string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Node{}).Where("device_eui = ?", deviceEUI).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&Subscription{}).Where("user_id = ? AND device_eui = ?", userID, deviceEUI).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadySubscribed
		}
		return tx.Create(&Subscription{UserID: userID, DeviceEUI: deviceEUI, CreatedAt: time.Now().UTC()}).Error
	})
}

// Unsubscribe is idempotent.
func (r *Repo) Unsubscribe(ctx context.Context, userID, deviceEUI string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND device_eui = ?", userID, deviceEUI).
		Delete(&Subscription{}).Error
}

// PruneTelemetry deletes history rows older than before. Latest rows are
// kept.
func (r *Repo) PruneTelemetry(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("received_at < ?", before).Delete(&Telemetry{})
	return res.RowsAffected, res.Error
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
