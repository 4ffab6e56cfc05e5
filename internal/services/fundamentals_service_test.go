package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/domain"
)

type stubProvider struct {
	result    *domain.NormalizedFundamentals
	err       error
	calls     int
	lastForce bool
}

func (s *stubProvider) FetchFundamentals(_ context.Context, _ string, forceRefresh bool) (*domain.NormalizedFundamentals, error) {
	s.calls++
	s.lastForce = forceRefresh
	if s.err != nil {
		return nil, s.err
	}
	// Hand out a copy so merge mutations don't leak between calls.
	cp := *s.result
	return &cp, nil
}

func f64(v float64) *float64 { return &v }

func simfinSnapshot() *domain.NormalizedFundamentals {
	return &domain.NormalizedFundamentals{
		Symbol:    "AAPL",
		Source:    domain.SourceSimFin,
		FetchedAt: time.Now().UTC(),
		Metrics: domain.FundamentalMetrics{
			Price:         f64(183.1),
			DividendYield: f64(0.0055),
			PayoutRatio:   f64(0.155),
		},
		Warnings: []string{"returnOnEquity approximate (derived from daily ratios, not statements)"},
	}
}

func yahooSnapshot() *domain.NormalizedFundamentals {
	return &domain.NormalizedFundamentals{
		Symbol:    "AAPL",
		Source:    domain.SourceYahoo,
		FetchedAt: time.Now().UTC(),
		Metrics: domain.FundamentalMetrics{
			Price:          f64(190.5),
			DividendYield:  f64(0.03),
			PayoutRatio:    f64(0.2),
			ForwardPE:      f64(25.0),
			ROEActual:      f64(1.6),
			RevenueCagr3Y:  f64(0.08),
			EarningsGrowth: f64(0.11),
			RevenueGrowthHistory: []domain.GrowthPoint{
				{Period: "2023", Growth: 0.07},
			},
		},
		Warnings: []string{"from yahoo"},
	}
}

func newService(simfin, yahoo *stubProvider, cacheLayer *cache.Layered) *FundamentalsService {
	return NewFundamentalsService(simfin, yahoo, cacheLayer, zerolog.Nop())
}

func newTestCache(t *testing.T) *cache.Layered {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := clientdata.NewRepository(db)
	require.NoError(t, err)

	return cache.New(repo, true, zerolog.Nop())
}

func TestFetchWithFallbackEmptySymbol(t *testing.T) {
	svc := newService(&stubProvider{}, &stubProvider{}, nil)

	_, err := svc.FetchWithFallback(context.Background(), "  ", FetchOptions{})

	var invalidErr domain.ErrInvalidSymbol
	require.ErrorAs(t, err, &invalidErr)
}

func TestPrimarySucceedsWithoutGaps(t *testing.T) {
	simfin := &stubProvider{result: simfinSnapshot()}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "aapl", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceSimFin, result.Source)
	assert.Equal(t, 0, yahoo.calls, "complete dividend data must not trigger a supplement")
	assert.Equal(t, 0.0055, *result.Metrics.DividendYield)
}

func TestSupplementFillsNilSlots(t *testing.T) {
	primary := simfinSnapshot()
	primary.Metrics.DividendYield = nil // gap triggers supplement
	primary.Metrics.ForwardPE = nil

	simfin := &stubProvider{result: primary}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, yahoo.calls)
	assert.Equal(t, domain.SourceSimFin, result.Source, "source stays with the primary provider")

	require.NotNil(t, result.Metrics.DividendYield)
	assert.Equal(t, 0.03, *result.Metrics.DividendYield)
	require.NotNil(t, result.Metrics.ForwardPE)
	assert.Equal(t, 25.0, *result.Metrics.ForwardPE)
	require.NotNil(t, result.Metrics.ROEActual)
	assert.Equal(t, 1.6, *result.Metrics.ROEActual)
	require.Len(t, result.Metrics.RevenueGrowthHistory, 1)

	// Warnings from both providers are carried.
	assert.Contains(t, result.Warnings, "from yahoo")
	assert.Contains(t, result.Warnings[0], "approximate")
}

func TestSupplementFillsZeroSlots(t *testing.T) {
	primary := simfinSnapshot()
	primary.Metrics.DividendYield = f64(0) // zero counts as a gap

	simfin := &stubProvider{result: primary}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	require.NotNil(t, result.Metrics.DividendYield)
	assert.Equal(t, 0.03, *result.Metrics.DividendYield)
}

func TestSupplementNeverOverwritesNonZeroValues(t *testing.T) {
	primary := simfinSnapshot()
	primary.Metrics.DividendYield = f64(0.02)
	primary.Metrics.PayoutRatio = nil // still triggers supplement

	simfin := &stubProvider{result: primary}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0.02, *result.Metrics.DividendYield, "present non-zero value must win")
	assert.Equal(t, 0.2, *result.Metrics.PayoutRatio, "nil slot is filled")
}

func TestSupplementDoesNotTouchNonAllowlistedFields(t *testing.T) {
	primary := simfinSnapshot()
	primary.Metrics.DividendYield = nil
	primary.Metrics.Price = nil // not on the allow-list, must stay nil

	simfin := &stubProvider{result: primary}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Nil(t, result.Metrics.Price)
}

func TestSupplementFailureIsSwallowed(t *testing.T) {
	primary := simfinSnapshot()
	primary.Metrics.DividendYield = nil

	simfin := &stubProvider{result: primary}
	yahoo := &stubProvider{err: domain.ErrSessionAcquisition{Reason: "crumb fetch"}}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceSimFin, result.Source)
	assert.Nil(t, result.Metrics.DividendYield)
}

func TestPrimaryFailureFallsBackToYahoo(t *testing.T) {
	simfin := &stubProvider{err: domain.ErrMissingAPIKey{Provider: "simfin"}}
	yahoo := &stubProvider{result: yahooSnapshot()}
	svc := newService(simfin, yahoo, nil)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceYahoo, result.Source)
	assert.Equal(t, 190.5, *result.Metrics.Price)
}

func TestBothFailReturnsAggregateError(t *testing.T) {
	simfinErr := domain.ErrUpstreamHTTP{Provider: "simfin", Status: 500}
	yahooErr := domain.ErrInvalidSession{Detail: "invalid crumb"}

	svc := newService(&stubProvider{err: simfinErr}, &stubProvider{err: yahooErr}, nil)

	_, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})

	var aggErr domain.ErrAggregateFetch
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "AAPL", aggErr.Symbol)

	var httpErr domain.ErrUpstreamHTTP
	assert.True(t, errors.As(aggErr.SimFin, &httpErr))
	var sessionErr domain.ErrInvalidSession
	assert.True(t, errors.As(aggErr.Yahoo, &sessionErr))
	assert.Contains(t, err.Error(), "simfin")
	assert.Contains(t, err.Error(), "yahoo")
}

func TestBothFailServesStaleCache(t *testing.T) {
	cacheLayer := newTestCache(t)

	// Seed an expired snapshot the way a previous successful fetch would
	// have, then let it expire.
	cacheLayer.Set(clientdata.TableSimFinFundamentals, "AAPL", simfinSnapshot(), -time.Hour)

	svc := newService(
		&stubProvider{err: domain.ErrUpstreamHTTP{Provider: "simfin", Status: 503}},
		&stubProvider{err: domain.ErrSessionAcquisition{Reason: "cookie bootstrap"}},
		cacheLayer,
	)

	result, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceSimFin, result.Source)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "stale cached data")
}

func TestForceRefreshPropagates(t *testing.T) {
	simfin := &stubProvider{result: simfinSnapshot()}
	svc := newService(simfin, &stubProvider{}, nil)

	_, err := svc.FetchWithFallback(context.Background(), "AAPL", FetchOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.True(t, simfin.lastForce)
}

func TestMergeMetricsTable(t *testing.T) {
	dst := domain.FundamentalMetrics{
		DividendYield:  f64(0),
		PayoutRatio:    f64(0.155),
		RevenueCagr3Y:  nil,
		EarningsCagr3Y: f64(0.09),
	}
	src := domain.FundamentalMetrics{
		DividendYield:  f64(0.03),
		PayoutRatio:    f64(0.9),
		RevenueCagr3Y:  f64(0.12),
		EarningsCagr3Y: f64(0.5),
	}

	mergeMetrics(&dst, &src)

	assert.Equal(t, 0.03, *dst.DividendYield, "zero slot filled")
	assert.Equal(t, 0.155, *dst.PayoutRatio, "non-zero preserved")
	assert.Equal(t, 0.12, *dst.RevenueCagr3Y, "nil slot filled")
	assert.Equal(t, 0.09, *dst.EarningsCagr3Y, "non-zero preserved")
}
