// Package httpapi exposes the dashboard view to UI collaborators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/PetoAdam/lorawatch/internal/backend"
	"github.com/PetoAdam/lorawatch/internal/dashboard"
	"github.com/PetoAdam/lorawatch/internal/filter"
	"github.com/PetoAdam/lorawatch/internal/model"
	"github.com/PetoAdam/lorawatch/internal/observability"
	"github.com/PetoAdam/lorawatch/internal/realtime"
	"github.com/PetoAdam/lorawatch/internal/viewport"
)

// Catalog lists every known node, subscribed or not.
type Catalog interface {
	ListNodes(ctx context.Context) ([]model.NodeInfo, error)
}

type Server struct {
	dash    *dashboard.Dashboard
	catalog Catalog
	hub     *realtime.Hub
}

func NewServer(dash *dashboard.Dashboard, catalog Catalog, hub *realtime.Hub) *Server {
	s := &Server{dash: dash, catalog: catalog, hub: hub}
	if hub != nil {
		dash.OnChange(func(kind string, v *dashboard.View) { hub.Notify(kind, v.Seq) })
	}
	return s
}

type RouterOptions struct {
	ServiceName    string
	AllowedOrigins []string
	Metrics        http.Handler
	Tracer         oteltrace.Tracer
	// Backend, when set, is checked by /health.
	Backend func(ctx context.Context) error
}

// Router builds the full handler with middleware, health, metrics and the
// websocket endpoint.
func (s *Server) Router(o RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if o.Tracer != nil {
		r.Use(observability.MetricsAndTracingMiddleware(o.Tracer, o.ServiceName))
	}
	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if o.Backend != nil {
			if err := o.Backend(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "backend": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if o.Metrics != nil {
		r.Handle("/metrics", o.Metrics)
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}
	r.Route("/api", s.RegisterRoutes)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/view", s.handleView)
	r.Get("/nodes", s.handleNodes)
	r.Get("/map", s.handleMap)
	r.Put("/filter", s.handleSetFilter)
	r.Put("/viewport", s.handleViewport)

	r.Route("/selection", func(r chi.Router) {
		r.Get("/", s.handleSelection)
		r.Post("/list/{device_eui}", s.handleToggleList)
		r.Post("/map/{device_eui}", s.handleToggleMap)
	})
	r.Get("/detail", s.handleDetail)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", s.handleSubscriptions)
		r.Put("/", s.handleReplaceSubscriptions)
		r.Post("/{device_eui}", s.handleSubscribe)
		r.Delete("/{device_eui}", s.handleUnsubscribe)
	})
	r.Get("/catalog", s.handleCatalog)
	r.Post("/refresh", s.handleRefresh)
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.View())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	if g := r.URL.Query().Get("grouped"); g == "1" || g == "true" {
		writeJSON(w, http.StatusOK, v.Grouped())
		return
	}
	writeJSON(w, http.StatusOK, v.List)
}

func (s *Server) handleMap(w http.ResponseWriter, _ *http.Request) {
	v := s.dash.View()
	writeJSON(w, http.StatusOK, map[string]any{
		"markers": v.Map,
		"focus":   v.Focus,
		"bounds":  v.Bounds,
	})
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var cfg filter.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}
	writeJSON(w, http.StatusOK, s.dash.SetFilter(cfg))
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var ev viewport.Event
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid viewport event")
		return
	}
	switch ev.Kind {
	case "":
		ev.Kind = viewport.MoveEnd
	case viewport.MoveEnd, viewport.ZoomEnd, viewport.Move:
	default:
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if ev.Bounds != nil && !ev.Bounds.Valid() {
		writeError(w, http.StatusBadRequest, "invalid bounds")
		return
	}
	writeJSON(w, http.StatusOK, s.dash.HandleViewport(ev))
}

func (s *Server) handleSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.View().Selection)
}

func (s *Server) handleToggleList(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.dash.ToggleFromList(id).Selection)
}

func (s *Server) handleToggleMap(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.dash.ToggleFromMap(id).Selection)
}

func (s *Server) handleDetail(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Detail())
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Subscriptions().IDs())
}

type replaceRequest struct {
	DeviceIDs []string `json:"device_euis"`
}

func (s *Server) handleReplaceSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscriptions")
		return
	}
	set, err := s.dash.ReplaceSubscriptions(r.Context(), model.NewSubscriptionSet(req.DeviceIDs...))
	if err != nil {
		writeBackendError(w, err, set)
		return
	}
	writeJSON(w, http.StatusOK, set.IDs())
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	set, err := s.dash.Subscribe(r.Context(), id)
	if err != nil {
		writeBackendError(w, err, set)
		return
	}
	writeJSON(w, http.StatusOK, set.IDs())
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceParam(w, r)
	if !ok {
		return
	}
	set, err := s.dash.Unsubscribe(r.Context(), id)
	if err != nil {
		writeBackendError(w, err, set)
		return
	}
	writeJSON(w, http.StatusOK, set.IDs())
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotImplemented, "catalog unavailable")
		return
	}
	nodes, err := s.catalog.ListNodes(r.Context())
	if err != nil {
		writeBackendError(w, err, nil)
		return
	}
	subs := s.dash.Subscriptions()
	type entry struct {
		model.NodeInfo
		Subscribed bool `json:"subscribed"`
	}
	out := make([]entry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, entry{NodeInfo: n, Subscribed: subs.Has(n.DeviceID)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Refresh(r.Context()))
}

type jsonErr struct {
	Error         string   `json:"error"`
	Code          int      `json:"code"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}

// writeBackendError passes client errors from the node API through and
// maps everything else to 502. The confirmed set, when known, is included.
func writeBackendError(w http.ResponseWriter, err error, set model.SubscriptionSet) {
	status := http.StatusBadGateway
	msg := err.Error()
	var se *backend.StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		status = se.Status
		if se.Body != "" {
			msg = se.Body
		}
	}
	body := jsonErr{Error: msg, Code: status}
	if set != nil {
		body.Subscriptions = set.IDs()
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func deviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "device_eui"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing device_eui")
		return "", false
	}
	return id, true
}
