package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func f(v float64) *float64 { return &v }

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func record(t *testing.T, repo *Repo, eui string, at time.Time, lat, lon float64) {
	t.Helper()
	err := repo.RecordReading(context.Background(), &Telemetry{
		DeviceEUI: eui,
		Reading: Reading{
			GatewayID:    "gw-1",
			ReceivedAt:   at,
			Latitude:     f(lat),
			Longitude:    f(lon),
			TemperatureC: f(20),
			BatteryLevel: f(float64(at.Minute())),
		},
	})
	if err != nil {
		t.Fatalf("record %s: %v", eui, err)
	}
}

func TestRecordReadingKeepsNewestLatest(t *testing.T) {
	repo := openTestRepo(t)
	record(t, repo, "A", base.Add(2*time.Minute), 44.5, -123.2)
	record(t, repo, "A", base.Add(1*time.Minute), 44.5, -123.2)

	rows, err := repo.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(rows) != 1 || *rows[0].BatteryLevel != 2 {
		t.Fatalf("expected latest row from minute 2, got %+v", rows)
	}

	latest, err := repo.NodeLatest(context.Background(), "A")
	if err != nil || *latest.BatteryLevel != 2 {
		t.Fatalf("unexpected node latest %+v %v", latest, err)
	}
	if _, err := repo.NodeLatest(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	nodes, err := repo.ListNodes(context.Background())
	if err != nil || len(nodes) != 1 || nodes[0].LastSeen == nil {
		t.Fatalf("unexpected nodes %+v %v", nodes, err)
	}
}

func TestListTelemetryOrderAndLimit(t *testing.T) {
	repo := openTestRepo(t)
	for i := 0; i < 5; i++ {
		record(t, repo, "A", base.Add(time.Duration(i)*time.Minute), 1, 1)
	}
	record(t, repo, "B", base, 1, 1)

	rows, err := repo.ListTelemetry(context.Background(), TelemetryQuery{DeviceEUI: "A", Limit: 3, NewestFirst: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 || *rows[0].BatteryLevel != 4 || *rows[2].BatteryLevel != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}

	rows, err = repo.ListTelemetry(context.Background(), TelemetryQuery{DeviceEUI: "A", From: base.Add(3 * time.Minute)})
	if err != nil || len(rows) != 2 || *rows[0].BatteryLevel != 3 {
		t.Fatalf("expected ascending rows from minute 3, got %+v %v", rows, err)
	}
}

func TestSubscriptions(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	record(t, repo, "A", base, 1, 1)
	record(t, repo, "B", base, 2, 2)

	if err := repo.Subscribe(ctx, "u1", "A"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := repo.Subscribe(ctx, "u1", "A"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
	if err := repo.Subscribe(ctx, "u1", "Z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	latest, err := repo.LatestForUser(ctx, "u1")
	if err != nil || len(latest) != 1 || latest[0].DeviceEUI != "A" {
		t.Fatalf("unexpected latest for user %+v %v", latest, err)
	}
	if other, _ := repo.LatestForUser(ctx, "u2"); len(other) != 0 {
		t.Fatalf("expected nothing for u2, got %+v", other)
	}

	if err := repo.Unsubscribe(ctx, "u1", "A"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := repo.Unsubscribe(ctx, "u1", "A"); err != nil {
		t.Fatalf("expected idempotent unsubscribe, got %v", err)
	}
	ids, err := repo.Subscriptions(ctx, "u1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no subscriptions, got %v %v", ids, err)
	}
}

func TestMapNodesBounds(t *testing.T) {
	repo := openTestRepo(t)
	record(t, repo, "in", base, 44.56, -123.26)
	record(t, repo, "out", base, 0, 0)

	rows, err := repo.MapNodes(context.Background(), MapQuery{MinLat: f(44), MaxLat: f(45), MinLon: f(-124), MaxLon: f(-123)})
	if err != nil || len(rows) != 1 || rows[0].DeviceEUI != "in" {
		t.Fatalf("unexpected map rows %+v %v", rows, err)
	}
	rows, _ = repo.MapNodes(context.Background(), MapQuery{MinLat: f(44)})
	if len(rows) != 2 {
		t.Fatalf("expected half-open bounds ignored, got %d rows", len(rows))
	}
}

func TestPruneTelemetry(t *testing.T) {
	repo := openTestRepo(t)
	record(t, repo, "A", base, 1, 1)
	record(t, repo, "A", base.Add(time.Hour), 1, 1)

	n, err := repo.PruneTelemetry(context.Background(), base.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned row, got %d %v", n, err)
	}
	if rows, _ := repo.Summary(context.Background()); len(rows) != 1 {
		t.Fatalf("expected latest row kept")
	}
}
