package nodeapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/PetoAdam/lorawatch/internal/middleware"
	"github.com/PetoAdam/lorawatch/internal/store"
)

type fixture struct {
	repo *store.Repo
	key  *rsa.PrivateKey
	srv  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:nodeapi_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	r := chi.NewRouter()
	NewServer(repo, &key.PublicKey, "").RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{repo: repo, key: key, srv: srv}
}

func ptr(v float64) *float64 { return &v }

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func (f *fixture) record(t *testing.T, eui string, at time.Time, temp float64) {
	t.Helper()
	err := f.repo.RecordReading(context.Background(), &store.Telemetry{
		DeviceEUI: eui,
		Reading: store.Reading{
			GatewayID:    "gw-1",
			ReceivedAt:   at,
			Latitude:     ptr(44.5),
			Longitude:    ptr(-123.2),
			TemperatureC: ptr(temp),
			BatteryLevel: ptr(80),
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func (f *fixture) token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return res.StatusCode
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)
	f.record(t, "A", base, 20)
	f.record(t, "A", base.Add(time.Minute), 21)
	f.record(t, "B", base, 30)

	var nodes []store.Node
	if code := f.do(t, http.MethodGet, "/nodes", "", nil, &nodes); code != http.StatusOK || len(nodes) != 2 {
		t.Fatalf("nodes: %d %+v", code, nodes)
	}

	var latest store.Telemetry
	if code := f.do(t, http.MethodGet, "/nodes/A/latest", "", nil, &latest); code != http.StatusOK || *latest.TemperatureC != 21 {
		t.Fatalf("latest: %d %+v", code, latest)
	}
	if code := f.do(t, http.MethodGet, "/nodes/missing/latest", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", code)
	}

	var hist []store.Telemetry
	if code := f.do(t, http.MethodGet, "/telemetry?node_id=A&newest_first=false", "", nil, &hist); code != http.StatusOK || len(hist) != 2 {
		t.Fatalf("telemetry: %d %+v", code, hist)
	}
	if *hist[0].TemperatureC != 20 {
		t.Fatalf("expected oldest first, got %+v", hist)
	}
	if code := f.do(t, http.MethodGet, "/telemetry?limit=0", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/telemetry?t_from=yesterday", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad t_from, got %d", code)
	}

	var summary []store.LatestTelemetry
	if code := f.do(t, http.MethodGet, "/summary", "", nil, &summary); code != http.StatusOK || len(summary) != 2 {
		t.Fatalf("summary: %d %+v", code, summary)
	}

	var inBox []store.LatestTelemetry
	f.do(t, http.MethodGet, "/map/nodes?min_lat=0&max_lat=10", "", nil, &inBox)
	if len(inBox) != 0 {
		t.Fatalf("expected no nodes in box, got %+v", inBox)
	}
	if code := f.do(t, http.MethodGet, "/map/nodes?min_lat=x", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad min_lat, got %d", code)
	}

	var health map[string]string
	if code := f.do(t, http.MethodGet, "/health", "", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health: %d %+v", code, health)
	}
}

func TestSubscriptionFlow(t *testing.T) {
	f := newFixture(t)
	f.record(t, "A", base, 20)
	f.record(t, "B", base, 30)
	tok := f.token(t, "u1")

	if code := f.do(t, http.MethodGet, "/subscriptions", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := f.do(t, http.MethodPost, "/subscriptions/subscribe", tok, deviceRequest{DeviceEUI: "A"}, nil); code != http.StatusOK {
		t.Fatalf("subscribe: %d", code)
	}
	var apiErr struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	if code := f.do(t, http.MethodPost, "/subscriptions/subscribe", tok, deviceRequest{DeviceEUI: "A"}, &apiErr); code != http.StatusBadRequest || apiErr.Code != http.StatusBadRequest {
		t.Fatalf("expected duplicate rejected, got %d %+v", code, apiErr)
	}
	if code := f.do(t, http.MethodPost, "/subscriptions/subscribe", tok, deviceRequest{DeviceEUI: "Z"}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", code)
	}
	if code := f.do(t, http.MethodPost, "/subscriptions/subscribe", tok, map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing device, got %d", code)
	}

	var ids []string
	f.do(t, http.MethodGet, "/subscriptions", tok, nil, &ids)
	if len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("expected [A], got %v", ids)
	}
	var latest []store.LatestTelemetry
	f.do(t, http.MethodGet, "/latest", tok, nil, &latest)
	if len(latest) != 1 || latest[0].DeviceEUI != "A" {
		t.Fatalf("expected latest for A only, got %+v", latest)
	}

	var other []string
	f.do(t, http.MethodGet, "/subscriptions", f.token(t, "u2"), nil, &other)
	if len(other) != 0 {
		t.Fatalf("expected subscriptions scoped per user, got %v", other)
	}

	if code := f.do(t, http.MethodPost, "/subscriptions/unsubscribe", tok, deviceRequest{DeviceEUI: "A"}, nil); code != http.StatusOK {
		t.Fatalf("unsubscribe: %d", code)
	}
	f.do(t, http.MethodGet, "/subscriptions", tok, nil, &ids)
	if len(ids) != 0 {
		t.Fatalf("expected no subscriptions, got %v", ids)
	}
}

func TestPrunerDropsOldHistory(t *testing.T) {
	f := newFixture(t)
	f.record(t, "A", base.Add(-48*time.Hour), 19)
	f.record(t, "A", base, 20)

	p := &Pruner{Repo: f.repo, Retention: 24 * time.Hour, Now: func() time.Time { return base }}
	n, err := p.Run(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned row, got %d %v", n, err)
	}

	var latest store.Telemetry
	if code := f.do(t, http.MethodGet, "/nodes/A/latest", "", nil, &latest); code != http.StatusOK || *latest.TemperatureC != 20 {
		t.Fatalf("expected newest reading to survive, got %d %+v", code, latest)
	}
}

func TestPrunerScheduleRejectsBadSpec(t *testing.T) {
	p := &Pruner{Retention: time.Hour}
	if _, err := p.Schedule(context.Background(), "not a cron"); err == nil {
		t.Fatalf("expected invalid cron spec to fail")
	}
}
