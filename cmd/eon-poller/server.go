package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/lejer/eon-client/pkg/health"
	"github.com/lejer/eon-client/pkg/metrics"
	"github.com/lejer/eon-client/pkg/poller"
	"github.com/lejer/eon-client/pkg/readings"
	"github.com/lejer/eon-client/pkg/values"
)

// healthSource reports per-resource upstream health.
type healthSource interface {
	All(ctx context.Context) ([]*health.State, error)
}

// historySource lists submitted meter readings.
type historySource interface {
	List(ctx context.Context, accountContract string, limit int) ([]readings.Submission, error)
	Last(ctx context.Context, accountContract string) (*readings.Submission, error)
}

// publishStatus reports when a contract's values last reached the broker.
type publishStatus interface {
	LastPublished(accountContract string) (time.Time, bool)
}

type server struct {
	poller    *poller.Poller
	health    healthSource
	history   historySource
	publisher publishStatus
	logger    zerolog.Logger

	// staleAfter marks a resource stale when its last success is older.
	// Zero disables the check.
	staleAfter time.Duration
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// routes builds the HTTP surface. An empty origin list allows every origin.
func (s *server) routes(corsOrigins []string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	router.Get("/health", s.getHealth)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Get("/wallet", s.getWallet)
	router.Post("/refresh", s.refresh)

	router.Route("/contracts", func(r chi.Router) {
		r.Get("/", s.listContracts)
		r.Get("/{ac}", s.getContract)
		r.Get("/{ac}/raw", s.listResources)
		r.Get("/{ac}/raw/{resource}", s.getRaw)
		r.Get("/{ac}/readings", s.listReadings)
		r.Get("/{ac}/readings/last", s.lastReading)
		r.Post("/{ac}/readings", s.submitReading)
	})

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(router)
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

type healthResponse struct {
	Status        health.Status        `json:"status"`
	LastCycle     *poller.State        `json:"last_cycle,omitempty"`
	Resources     []*health.State      `json:"resources"`
	Stale         []string             `json:"stale,omitempty"`
	MQTTPublished map[string]time.Time `json:"mqtt_published,omitempty"`
	HealthError   string               `json:"health_error,omitempty"`
}

func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: health.StatusHealthy, Resources: []*health.State{}}

	if s.health != nil {
		states, err := s.health.All(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read resource health")
			resp.HealthError = err.Error()
		} else {
			resp.Resources = states
			resp.Status = health.Worst(states)
			resp.Stale = s.staleResources(states)
			if len(resp.Stale) > 0 && resp.Status == health.StatusHealthy {
				resp.Status = health.StatusDegraded
			}
		}
	}

	state, err := s.poller.State()
	if err != nil {
		resp.Status = health.StatusDown
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.LastCycle = state

	if s.publisher != nil {
		resp.MQTTPublished = make(map[string]time.Time, len(state.AccountContracts))
		for _, ac := range state.AccountContracts {
			if at, ok := s.publisher.LastPublished(ac); ok {
				resp.MQTTPublished[ac] = at
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// staleResources names every resource, as health keys, whose last success
// is older than staleAfter.
func (s *server) staleResources(states []*health.State) []string {
	if s.staleAfter <= 0 {
		return nil
	}
	var stale []string
	for _, st := range states {
		if st.IsStale(s.staleAfter) {
			stale = append(stale, strings.TrimPrefix(health.Key(st.AccountContract, st.Resource), health.RedisKeyPrefix))
		}
	}
	return stale
}

func (s *server) getWallet(w http.ResponseWriter, r *http.Request) {
	state, err := s.poller.State()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no_data", err.Error())
		return
	}

	wallet, err := values.WalletBalance(state.Wallet)
	if err != nil {
		writeError(w, http.StatusNotFound, "no_wallet", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *server) refresh(w http.ResponseWriter, _ *http.Request) {
	s.poller.RefreshNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (s *server) listContracts(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.poller.State(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "no_data", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.poller.AllValues())
}

func (s *server) getContract(w http.ResponseWriter, r *http.Request) {
	ac := strings.TrimSpace(chi.URLParam(r, "ac"))

	v, ok := s.poller.Values(ac)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_contract", "account contract not found: "+ac)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) listResources(w http.ResponseWriter, r *http.Request) {
	ac := strings.TrimSpace(chi.URLParam(r, "ac"))

	if _, ok := s.poller.Values(ac); !ok {
		writeError(w, http.StatusNotFound, "unknown_contract", "account contract not found: "+ac)
		return
	}
	writeJSON(w, http.StatusOK, s.poller.Resources(ac))
}

func (s *server) getRaw(w http.ResponseWriter, r *http.Request) {
	ac := strings.TrimSpace(chi.URLParam(r, "ac"))
	resource := strings.TrimSpace(chi.URLParam(r, "resource"))

	raw, ok := s.poller.Raw(ac, resource)
	if !ok {
		writeError(w, http.StatusNotFound, "no_data", "no data for "+resource+" of "+ac)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *server) listReadings(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "no_history", "reading history is not configured")
		return
	}

	ac := strings.TrimSpace(chi.URLParam(r, "ac"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.history.List(r.Context(), ac, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("account_contract", ac).Msg("Failed to list meter readings")
		writeError(w, http.StatusInternalServerError, "history_failed", "failed to list meter readings")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) lastReading(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "no_history", "reading history is not configured")
		return
	}

	ac := strings.TrimSpace(chi.URLParam(r, "ac"))
	last, err := s.history.Last(r.Context(), ac)
	if err != nil {
		s.logger.Error().Err(err).Str("account_contract", ac).Msg("Failed to read last meter reading")
		writeError(w, http.StatusInternalServerError, "history_failed", "failed to read last meter reading")
		return
	}
	if last == nil {
		writeError(w, http.StatusNotFound, "no_reading", "no accepted meter reading for "+ac)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

type submitReadingRequest struct {
	Value   *values.Number `json:"value"`
	MeterID string         `json:"meter_id"`
}

func (s *server) submitReading(w http.ResponseWriter, r *http.Request) {
	ac := strings.TrimSpace(chi.URLParam(r, "ac"))

	var req submitReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON like {\"value\": 1234}")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "missing_value", "value is required")
		return
	}
	if f := req.Value.Float(); math.IsNaN(f) || f < 0 || f > poller.MaxReading {
		writeError(w, http.StatusBadRequest, "invalid_value", poller.ErrInvalidReading.Error())
		return
	}

	sub, err := s.poller.SubmitReading(r.Context(), ac, strings.TrimSpace(req.MeterID), req.Value.Int())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sub)
	case errors.Is(err, poller.ErrInvalidReading):
		writeError(w, http.StatusBadRequest, "invalid_value", err.Error())
	case errors.Is(err, poller.ErrUnknownContract):
		writeError(w, http.StatusNotFound, "unknown_contract", err.Error())
	case errors.Is(err, poller.ErrNoCycle):
		writeError(w, http.StatusServiceUnavailable, "no_data", err.Error())
	case errors.Is(err, values.ErrNoMeterID), errors.Is(err, values.ErrNoData), errors.Is(err, values.ErrUnexpectedShape):
		writeError(w, http.StatusConflict, "no_meter_id", "internal meter ID (ablbelnr) not found, pass meter_id")
	case errors.Is(err, poller.ErrReadingRejected):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"code":       "rejected",
			"message":    err.Error(),
			"submission": sub,
		})
	default:
		s.logger.Error().Err(err).Str("account_contract", ac).Msg("Failed to submit meter reading")
		writeError(w, http.StatusInternalServerError, "submit_failed", err.Error())
	}
}
