package pagination

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	eonPagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eon_pages_fetched_total",
		Help: "Total number of list pages fetched successfully",
	})

	eonPaginationAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_pagination_aborts_total",
		Help: "Total number of page walks that stopped before hasNext=false, by reason",
	}, []string{"reason"})
)

// MaxPages caps a single walk in case the upstream keeps reporting hasNext.
const MaxPages = 500

// Session is the part of the API client a page walk needs.
type Session interface {
	// EnsureToken logs in when no token is held.
	EnsureToken(ctx context.Context) bool

	// Login performs a fresh login.
	Login(ctx context.Context) bool

	// GetPage issues one authenticated GET and returns the JSON payload and
	// status (0 when no response was received).
	GetPage(ctx context.Context, url string) (json.RawMessage, int)
}

// URLBuilder returns the URL of a 1-based page.
type URLBuilder func(page int) string

// Page is the envelope of a paged response.
type Page struct {
	List    []json.RawMessage `json:"list"`
	HasNext bool              `json:"hasNext"`
}

// FetchAllPages collects the list entries of every page in page order.
func FetchAllPages(ctx context.Context, s Session, build URLBuilder) []json.RawMessage {
	logger := log.With().Str("component", "pagination").Logger()

	if !s.EnsureToken(ctx) {
		eonPaginationAbortsTotal.WithLabelValues("auth").Inc()
		return []json.RawMessage{}
	}

	results := []json.RawMessage{}
	for page := 1; page <= MaxPages; page++ {
		url := build(page)

		data, status := s.GetPage(ctx, url)
		if status == http.StatusUnauthorized {
			logger.Debug().Int("page", page).Msg("Page rejected with 401, re-authenticating")
			if !s.Login(ctx) {
				eonPaginationAbortsTotal.WithLabelValues("auth").Inc()
				return results
			}
			data, status = s.GetPage(ctx, url)
		}

		if status != http.StatusOK || len(data) == 0 {
			logger.Warn().
				Int("page", page).
				Int("status", status).
				Int("records", len(results)).
				Msg("Page fetch failed - returning partial results")
			eonPaginationAbortsTotal.WithLabelValues("status").Inc()
			return results
		}

		var p Page
		if err := json.Unmarshal(data, &p); err != nil {
			logger.Warn().
				Err(err).
				Int("page", page).
				Int("records", len(results)).
				Msg("Unexpected page envelope - returning partial results")
			eonPaginationAbortsTotal.WithLabelValues("decode").Inc()
			return results
		}

		eonPagesFetchedTotal.Inc()
		results = append(results, p.List...)

		if !p.HasNext {
			logger.Debug().
				Int("pages", page).
				Int("records", len(results)).
				Msg("Fetch complete")
			return results
		}
	}

	logger.Warn().Int("max_pages", MaxPages).Msg("Page limit reached")
	eonPaginationAbortsTotal.WithLabelValues("limit").Inc()
	return results
}
