package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0xideahub/OpenStock/internal/domain"
	"github.com/0xideahub/OpenStock/internal/services"
)

// batchConcurrency caps parallel upstream fetches for one batch request.
const batchConcurrency = 4

// maxBatchSymbols caps how many symbols one batch request may ask for.
const maxBatchSymbols = 25

// FundamentalsFetcher is what handlers need from the orchestration layer.
type FundamentalsFetcher interface {
	FetchWithFallback(ctx context.Context, symbol string, opts services.FetchOptions) (*domain.NormalizedFundamentals, error)
}

// Handlers holds the API endpoint handlers.
type Handlers struct {
	fundamentals FundamentalsFetcher
	log          zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(fundamentals FundamentalsFetcher, log zerolog.Logger) *Handlers {
	return &Handlers{
		fundamentals: fundamentals,
		log:          log.With().Str("component", "handlers").Logger(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type batchRequest struct {
	Symbols []string `json:"symbols"`
}

type batchResponse struct {
	Results map[string]*domain.NormalizedFundamentals `json:"results"`
	Errors  map[string]string                         `json:"errors,omitempty"`
}

// HandleHealth responds to liveness probes.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleFundamentals serves GET /api/fundamentals/{symbol}.
// ?refresh=true bypasses the cache.
func (h *Handlers) HandleFundamentals(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	snapshot, err := h.fundamentals.FetchWithFallback(r.Context(), symbol, services.FetchOptions{
		ForceRefresh: forceRefresh,
	})
	if err != nil {
		h.writeFetchError(w, symbol, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleBatchFundamentals serves POST /api/fundamentals/batch. Symbols are
// fetched concurrently; per-symbol failures land in the errors map instead of
// failing the whole request.
func (h *Handlers) HandleBatchFundamentals(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	symbols := dedupeSymbols(req.Symbols)
	if len(symbols) == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no symbols provided"})
		return
	}
	if len(symbols) > maxBatchSymbols {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "too many symbols in one batch"})
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"

	type result struct {
		symbol   string
		snapshot *domain.NormalizedFundamentals
		err      error
	}

	results := make([]result, len(symbols))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchConcurrency)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			snapshot, err := h.fundamentals.FetchWithFallback(ctx, symbol, services.FetchOptions{
				ForceRefresh: forceRefresh,
			})
			results[i] = result{symbol: symbol, snapshot: snapshot, err: err}
			return nil
		})
	}
	// Goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	resp := batchResponse{
		Results: make(map[string]*domain.NormalizedFundamentals, len(symbols)),
		Errors:  make(map[string]string),
	}
	for _, res := range results {
		if res.err != nil {
			resp.Errors[res.symbol] = res.err.Error()
			continue
		}
		resp.Results[res.symbol] = res.snapshot
	}
	if len(resp.Errors) == 0 {
		resp.Errors = nil
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// writeFetchError maps domain errors to HTTP status codes.
func (h *Handlers) writeFetchError(w http.ResponseWriter, symbol string, err error) {
	var (
		invalidSymbol domain.ErrInvalidSymbol
		missingKey    domain.ErrMissingAPIKey
		aggregate     domain.ErrAggregateFetch
	)

	switch {
	case errors.As(err, &invalidSymbol):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &missingKey):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &aggregate):
		h.log.Error().Err(err).Str("symbol", symbol).Msg("All providers failed")
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Fundamentals fetch failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// dedupeSymbols uppercases, trims and deduplicates while preserving order.
func dedupeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
