// Package services contains the orchestration layer: provider fallback,
// supplementation and stale-cache rescue.
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/domain"
)

// fundamentalsProvider is what the orchestrator needs from a client.
type fundamentalsProvider interface {
	FetchFundamentals(ctx context.Context, symbol string, forceRefresh bool) (*domain.NormalizedFundamentals, error)
}

// FetchOptions controls a single orchestrated fetch.
type FetchOptions struct {
	ForceRefresh bool
}

// FundamentalsService fetches fundamentals with SimFin as the primary source
// and Yahoo as supplement and fallback.
type FundamentalsService struct {
	simfin fundamentalsProvider
	yahoo  fundamentalsProvider
	cache  *cache.Layered
	log    zerolog.Logger
}

// NewFundamentalsService creates the orchestrator.
func NewFundamentalsService(simfin, yahoo fundamentalsProvider, cacheLayer *cache.Layered, log zerolog.Logger) *FundamentalsService {
	return &FundamentalsService{
		simfin: simfin,
		yahoo:  yahoo,
		cache:  cacheLayer,
		log:    log.With().Str("service", "fundamentals").Logger(),
	}
}

// FetchWithFallback returns the best snapshot available for the symbol.
//
// SimFin answers first. When its dividend data has gaps, Yahoo fills a fixed
// allow-list of metrics (never overwriting present non-zero values) and the
// snapshot keeps Source=simfin. When SimFin fails entirely, Yahoo serves the
// snapshot alone. When both fail, an expired cached snapshot is better than
// nothing; only with no stale copy does the aggregate error surface.
func (s *FundamentalsService) FetchWithFallback(ctx context.Context, symbol string, opts FetchOptions) (*domain.NormalizedFundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol{}
	}

	log := s.log.With().
		Str("symbol", symbol).
		Str("fetch_id", uuid.NewString()).
		Logger()

	primary, simfinErr := s.simfin.FetchFundamentals(ctx, symbol, opts.ForceRefresh)
	if simfinErr == nil {
		if needsSupplement(primary) {
			s.supplement(ctx, log, primary, opts)
		}
		return primary, nil
	}
	log.Warn().Err(simfinErr).Msg("Primary provider failed, falling back")

	fallback, yahooErr := s.yahoo.FetchFundamentals(ctx, symbol, opts.ForceRefresh)
	if yahooErr == nil {
		return fallback, nil
	}
	log.Error().Err(yahooErr).Msg("Fallback provider failed")

	if stale := s.staleSnapshot(symbol); stale != nil {
		log.Warn().Str("source", stale.Source).Msg("Serving stale cached snapshot")
		stale.Warnings = append(stale.Warnings, "stale cached data: all providers failed")
		return stale, nil
	}

	return nil, domain.ErrAggregateFetch{Symbol: symbol, SimFin: simfinErr, Yahoo: yahooErr}
}

// needsSupplement reports whether the primary snapshot is missing the
// dividend data that triggers supplementation.
func needsSupplement(snapshot *domain.NormalizedFundamentals) bool {
	return domain.IsZeroOrNil(snapshot.Metrics.DividendYield) ||
		domain.IsZeroOrNil(snapshot.Metrics.PayoutRatio)
}

// supplement merges Yahoo metrics into the primary snapshot. Failures are
// logged and swallowed; a working primary result never degrades because the
// supplement was unavailable.
func (s *FundamentalsService) supplement(ctx context.Context, log zerolog.Logger, primary *domain.NormalizedFundamentals, opts FetchOptions) {
	extra, err := s.yahoo.FetchFundamentals(ctx, primary.Symbol, opts.ForceRefresh)
	if err != nil {
		log.Warn().Err(err).Msg("Supplement fetch failed, keeping primary snapshot as-is")
		return
	}

	mergeMetrics(&primary.Metrics, &extra.Metrics)
	primary.Warnings = append(primary.Warnings, extra.Warnings...)
	log.Debug().Msg("Supplemented primary snapshot")
}

// mergeMetrics copies the allow-listed metrics from src into dst, filling
// only slots that are nil or zero. Present non-zero values always win.
func mergeMetrics(dst, src *domain.FundamentalMetrics) {
	fill := func(d **float64, s *float64) {
		if domain.IsZeroOrNil(*d) && s != nil {
			*d = s
		}
	}

	fill(&dst.DividendYield, src.DividendYield)
	fill(&dst.PayoutRatio, src.PayoutRatio)
	fill(&dst.ForwardPE, src.ForwardPE)
	fill(&dst.EarningsGrowth, src.EarningsGrowth)
	fill(&dst.ROEActual, src.ROEActual)
	fill(&dst.RevenueCagr3Y, src.RevenueCagr3Y)
	fill(&dst.EarningsCagr3Y, src.EarningsCagr3Y)
	fill(&dst.DebtToEquityActual, src.DebtToEquityActual)
	fill(&dst.FreeCashflowPayoutRatio, src.FreeCashflowPayoutRatio)

	if len(dst.RevenueGrowthHistory) == 0 {
		dst.RevenueGrowthHistory = src.RevenueGrowthHistory
	}
	if len(dst.EarningsGrowthHistory) == 0 {
		dst.EarningsGrowthHistory = src.EarningsGrowthHistory
	}
}

// staleSnapshot digs an expired snapshot out of the cache, primary provider
// first.
func (s *FundamentalsService) staleSnapshot(symbol string) *domain.NormalizedFundamentals {
	if s.cache == nil || !s.cache.Enabled() {
		return nil
	}

	for _, table := range []string{clientdata.TableSimFinFundamentals, clientdata.TableYahooFundamentals} {
		var snapshot domain.NormalizedFundamentals
		found, err := s.cache.GetStale(table, symbol, &snapshot)
		if err != nil {
			s.log.Warn().Err(err).Str("table", table).Msg("Stale cache read failed")
			continue
		}
		if found {
			return &snapshot
		}
	}
	return nil
}
