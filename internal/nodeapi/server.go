// Package nodeapi serves node snapshots, history and subscriptions from the
// telemetry store.
package nodeapi

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/lorawatch/internal/middleware"
	"github.com/PetoAdam/lorawatch/internal/store"
)

type Server struct {
	repo   *store.Repo
	pubKey *rsa.PublicKey
	issuer string
}

func NewServer(repo *store.Repo, pubKey *rsa.PublicKey, issuer string) *Server {
	return &Server{repo: repo, pubKey: pubKey, issuer: issuer}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/nodes", s.handleNodes)
	r.Get("/nodes/{device_eui}/latest", s.handleNodeLatest)
	r.Get("/telemetry", s.handleTelemetry)
	r.Get("/summary", s.handleSummary)
	r.Get("/map/nodes", s.handleMapNodes)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuthMiddlewareRS256(s.pubKey, s.issuer))
		r.Get("/latest", s.handleLatest)
		r.Get("/subscriptions", s.handleSubscriptions)
		r.Post("/subscriptions/subscribe", s.handleSubscribe)
		r.Post("/subscriptions/unsubscribe", s.handleUnsubscribe)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.repo.ListNodes(r.Context())
	if err != nil {
		s.internal(w, "list nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleNodeLatest(w http.ResponseWriter, r *http.Request) {
	row, err := s.repo.NodeLatest(r.Context(), chi.URLParam(r, "device_eui"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no telemetry for this device")
		return
	}
	if err != nil {
		s.internal(w, "node latest", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tq := store.TelemetryQuery{
		DeviceEUI:   firstNonEmpty(q.Get("device_eui"), q.Get("node_id")),
		Limit:       store.DefaultTelemetryLimit,
		NewestFirst: true,
	}
	var err error
	if tq.From, err = parseTime(q.Get("t_from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid t_from")
		return
	}
	if tq.To, err = parseTime(q.Get("t_to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid t_to")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxTelemetryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 5000")
			return
		}
		tq.Limit = n
	}
	if v := q.Get("newest_first"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid newest_first")
			return
		}
		tq.NewestFirst = b
	}
	rows, err := s.repo.ListTelemetry(r.Context(), tq)
	if err != nil {
		s.internal(w, "list telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.LatestForUser(r.Context(), middleware.PrincipalID(r))
	if err != nil {
		s.internal(w, "latest", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.Summary(r.Context())
	if err != nil {
		s.internal(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleMapNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var mq store.MapQuery
	for key, dst := range map[string]**float64{
		"min_lat": &mq.MinLat, "max_lat": &mq.MaxLat,
		"min_lon": &mq.MinLon, "max_lon": &mq.MaxLon,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = &f
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxMapLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		mq.Limit = n
	}
	rows, err := s.repo.MapNodes(r.Context(), mq)
	if err != nil {
		s.internal(w, "map nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.repo.Subscriptions(r.Context(), middleware.PrincipalID(r))
	if err != nil {
		s.internal(w, "subscriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

type deviceRequest struct {
	DeviceEUI string `json:"device_eui"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	eui, ok := decodeDevice(w, r)
	if !ok {
		return
	}
	err := s.repo.Subscribe(r.Context(), middleware.PrincipalID(r), eui)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Node not found")
	case errors.Is(err, store.ErrAlreadySubscribed):
		writeError(w, http.StatusBadRequest, "Already subscribed")
	case err != nil:
		s.internal(w, "subscribe", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Subscribed to " + eui})
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	eui, ok := decodeDevice(w, r)
	if !ok {
		return
	}
	if err := s.repo.Unsubscribe(r.Context(), middleware.PrincipalID(r), eui); err != nil {
		s.internal(w, "unsubscribe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Unsubscribed from " + eui})
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	slog.Error("nodeapi "+op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.DeviceEUI) == "" {
		writeError(w, http.StatusBadRequest, "device_eui is required")
		return "", false
	}
	return strings.TrimSpace(req.DeviceEUI), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
