package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/engine/watcher"
	"github.com/relaywatch/relaywatch/module/health"
	"github.com/relaywatch/relaywatch/module/power"
)

// adminEngine is the part of the engine the admin API exposes.
type adminEngine interface {
	Diagnostics() watcher.Diagnostics
	RefreshConnections() health.Report
	SyncFrom(ctx context.Context) error
}

// AdminHandler serves the admin API of a running engine.
type AdminHandler struct {
	log      zerolog.Logger
	engine   adminEngine
	policy   *power.Policy
	gatherer prometheus.Gatherer
}

func NewAdminHandler(log zerolog.Logger, engine adminEngine, policy *power.Policy, gatherer prometheus.Gatherer) *AdminHandler {
	return &AdminHandler{
		log:      log.With().Str("component", "admin_api").Logger(),
		engine:   engine,
		policy:   policy,
		gatherer: gatherer,
	}
}

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

func (h *AdminHandler) routes() []route {
	return []route{
		{Name: "Diagnostics", Method: http.MethodGet, Pattern: "/diagnostics", HandlerFunc: h.Diagnostics},
		{Name: "Refresh", Method: http.MethodPost, Pattern: "/refresh", HandlerFunc: h.Refresh},
		{Name: "Reload", Method: http.MethodPost, Pattern: "/reload", HandlerFunc: h.Reload},
		{Name: "PowerMode", Method: http.MethodPut, Pattern: "/power/{mode}", HandlerFunc: h.SetPowerMode},
		{Name: "Metrics", Method: http.MethodGet, Pattern: "/metrics", HandlerFunc: promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP},
	}
}

// Router returns the mux router of the admin API. Routes are matched on the path only; a known
// path requested with another method is answered with 405 and an Allow header.
func (h *AdminHandler) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(h.logRequests)

	var patterns []string
	names := make(map[string]string)
	byPattern := make(map[string]map[string]http.Handler)
	for _, r := range h.routes() {
		if _, ok := byPattern[r.Pattern]; !ok {
			patterns = append(patterns, r.Pattern)
			names[r.Pattern] = r.Name
			byPattern[r.Pattern] = make(map[string]http.Handler)
		}
		byPattern[r.Pattern][r.Method] = r.HandlerFunc
	}
	for _, pattern := range patterns {
		router.
			Path(pattern).
			Name(names[pattern]).
			Handler(methodHandler(byPattern[pattern]))
	}
	return router
}

// methodHandler dispatches on the request method.
func methodHandler(handlers map[string]http.Handler) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handler, ok := handlers[req.Method]
		if !ok {
			w.Header().Set("Allow", allow)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, req)
	})
}

// NewAdminServer returns an HTTP server initialized with the admin API handler
func NewAdminServer(handler *AdminHandler, listenAddress string) *http.Server {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodOptions,
			http.MethodHead},
	})

	return &http.Server{
		Addr:         listenAddress,
		Handler:      c.Handler(handler.Router()),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}
}

const headerRequestID = "X-Request-ID"

// logRequests tags every request with an id, echoed in the response, and logs it once served.
func (h *AdminHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(headerRequestID, requestID)

		start := time.Now()
		next.ServeHTTP(w, req)
		h.log.Debug().
			Str("request_id", requestID).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("admin request served")
	})
}

func (h *AdminHandler) Diagnostics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Diagnostics())
}

type refreshResponse struct {
	CheckedAt time.Time      `json:"checked_at"`
	Relays    []relayVerdict `json:"relays"`
}

type relayVerdict struct {
	URL        string `json:"url"`
	State      string `json:"state"`
	Verdict    string `json:"verdict"`
	Recovering bool   `json:"recovering"`
	Requested  int    `json:"requested"`
}

func (h *AdminHandler) Refresh(w http.ResponseWriter, _ *http.Request) {
	report := h.engine.RefreshConnections()
	resp := refreshResponse{
		CheckedAt: report.CheckedAt,
		Relays:    make([]relayVerdict, 0, len(report.Relays)),
	}
	for _, r := range report.Relays {
		resp.Relays = append(resp.Relays, relayVerdict{
			URL:        r.URL,
			State:      r.State.String(),
			Verdict:    r.Verdict.String(),
			Recovering: r.Recovering,
			Requested:  r.Requested,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Reload re-reads the subscription configs and applies them. Invalid configs are reported, the
// valid ones are applied regardless.
func (h *AdminHandler) Reload(w http.ResponseWriter, req *http.Request) {
	err := h.engine.SyncFrom(req.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if watcher.IsInvalidConfigError(err) {
			status = http.StatusUnprocessableEntity
		}
		h.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Diagnostics())
}

func (h *AdminHandler) SetPowerMode(w http.ResponseWriter, req *http.Request) {
	mode, err := power.ParseMode(mux.Vars(req)["mode"])
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if h.policy.SetMode(mode) {
		h.log.Info().Str("mode", mode.String()).Msg("power mode changed")
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"mode": h.policy.Mode().String()})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("could not write response")
	}
}
