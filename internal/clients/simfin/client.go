// Package simfin fetches fundamentals from the SimFin REST API. Statement
// history is not part of the subscribed endpoints, so the statement-style
// metrics it reports are approximations derived from daily valuation ratios
// and are flagged as such in the snapshot warnings.
package simfin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/domain"
)

const (
	metaTimeout    = 10 * time.Second
	derivedTimeout = 15 * time.Second

	approximateNote = "approximate (derived from daily ratios, not statements)"
)

// Client is the commercial-provider client.
type Client struct {
	resty  *resty.Client
	apiKey string
	cache  *cache.Layered
	log    zerolog.Logger
}

// NewClient creates a SimFin client. The API key may be empty; every fetch
// then fails fast without burning quota.
func NewClient(baseURL, apiKey string, cacheLayer *cache.Layered, log zerolog.Logger) *Client {
	r := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json")

	return &Client{
		resty:  r,
		apiKey: apiKey,
		cache:  cacheLayer,
		log:    log.With().Str("client", "simfin").Logger(),
	}
}

// FetchFundamentals returns a normalized snapshot for the symbol. Results are
// cached for 6 hours; forceRefresh bypasses the cache.
func (c *Client) FetchFundamentals(ctx context.Context, symbol string, forceRefresh bool) (*domain.NormalizedFundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol{}
	}
	if c.apiKey == "" {
		return nil, domain.ErrMissingAPIKey{Provider: "simfin"}
	}

	if !forceRefresh && c.cache != nil {
		var cached domain.NormalizedFundamentals
		found, err := c.cache.Get(clientdata.TableSimFinFundamentals, symbol, &cached)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
		}
		if found {
			c.log.Debug().Str("symbol", symbol).Msg("Cache hit")
			return &cached, nil
		}
	}

	general, err := c.fetchGeneral(ctx, symbol)
	if err != nil {
		return nil, err
	}

	prices, err := c.fetchPrices(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, domain.ErrDataIncomplete{Provider: "simfin", Missing: "price series"}
	}

	derived, err := c.fetchDerived(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return nil, domain.ErrDataIncomplete{Provider: "simfin", Missing: "derived ratio series"}
	}

	result := c.normalize(symbol, general, prices, derived)

	if c.cache != nil {
		c.cache.Set(clientdata.TableSimFinFundamentals, symbol, result, clientdata.TTLSimFinFundamentals)
	}

	return result, nil
}

func (c *Client) fetchGeneral(ctx context.Context, symbol string) (*generalInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()

	var rows []generalInfo
	if err := c.get(ctx, "/companies/general", symbol, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) fetchPrices(ctx context.Context, symbol string) ([]pricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()

	var rows []pricePoint
	if err := c.get(ctx, "/companies/prices", symbol, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) fetchDerived(ctx context.Context, symbol string) ([]derivedPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, derivedTimeout)
	defer cancel()

	var rows []derivedPoint
	if err := c.get(ctx, "/companies/derived", symbol, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// get performs one authenticated GET. The token travels as a query parameter,
// which is how the SimFin backend expects it.
func (c *Client) get(ctx context.Context, path, symbol string, out interface{}) error {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ticker":  symbol,
			"api-key": c.apiKey,
		}).
		SetResult(out).
		Get(path)
	if err != nil {
		return domain.WrapTimeout("simfin", fmt.Errorf("request to %s failed: %w", path, err))
	}

	if resp.IsError() {
		return domain.ErrUpstreamHTTP{Provider: "simfin", Status: resp.StatusCode()}
	}

	return nil
}

// normalize builds the snapshot from the three series.
func (c *Client) normalize(symbol string, general *generalInfo, prices []pricePoint, derived []derivedPoint) *domain.NormalizedFundamentals {
	out := &domain.NormalizedFundamentals{
		Symbol:    symbol,
		Source:    domain.SourceSimFin,
		FetchedAt: time.Now().UTC(),
	}

	if general != nil {
		out.CompanyName = general.Name
		out.Currency = general.Currency
		out.Exchange = general.Market
		out.Description = general.Description
	}

	price := latestPrice(prices)
	out.Metrics.Price = price.Close
	out.Metrics.MarketCap = price.MarketCap

	d := latestDerived(derived)
	out.Metrics.TrailingPE = d.PriceToEarnings
	out.Metrics.PriceToBook = d.PriceToBook
	out.Metrics.PriceToSales = d.PriceToSales
	out.Metrics.PegRatio = d.PegRatio
	out.Metrics.EnterpriseValue = d.EnterpriseValue
	out.Metrics.EvToEbitda = d.EvToEbitda
	out.Metrics.DividendYield = d.DividendYield
	out.Metrics.PayoutRatio = d.PayoutRatio
	out.Metrics.GrossMargin = d.GrossMargin
	out.Metrics.OperatingMargin = d.OperatingMargin
	out.Metrics.ProfitMargin = d.NetProfitMargin
	out.Metrics.ReturnOnAssets = d.ReturnOnAssets
	out.Metrics.CurrentRatio = d.CurrentRatio
	out.Metrics.FreeCashflow = d.FreeCashFlow

	c.applyApproximations(out, d)

	return out
}

// applyApproximations fills the statement-style metrics from daily ratios.
// Each value is clamped to a sane range and flagged with a warning so
// downstream scoring can tell it apart from statement-derived figures.
func (c *Client) applyApproximations(out *domain.NormalizedFundamentals, d derivedPoint) {
	pe := finitePositive(d.PriceToEarnings)
	pb := finitePositive(d.PriceToBook)
	peg := finitePositive(d.PegRatio)

	if pe == nil || pb == nil {
		out.Warnings = append(out.Warnings,
			"trailing P/E or price-to-book undetermined; approximate ROE unavailable")
	} else {
		roe := *pb / *pe
		out.Metrics.ReturnOnEquity = domain.Float(clamp(roe, 0, 100))
		out.Warnings = append(out.Warnings, "returnOnEquity "+approximateNote)
	}

	if pe != nil && peg != nil {
		growth := *pe / *peg
		out.Metrics.EarningsGrowth = domain.Float(clamp(growth, -50, 100))
		out.Warnings = append(out.Warnings, "earningsGrowth "+approximateNote)
	}

	if ev := finitePositive(d.EnterpriseValue); ev != nil {
		if mc := finitePositive(out.Metrics.MarketCap); mc != nil {
			leverage := (*ev - *mc) / *mc
			out.Metrics.DebtToEquity = domain.Float(clamp(leverage, 0, 5))
			out.Warnings = append(out.Warnings, "debtToEquity "+approximateNote)
		}
	}
}

// latestPrice picks the newest point; ISO dates sort lexically.
func latestPrice(prices []pricePoint) pricePoint {
	latest := prices[0]
	for _, p := range prices[1:] {
		if p.Date > latest.Date {
			latest = p
		}
	}
	return latest
}

func latestDerived(derived []derivedPoint) derivedPoint {
	sorted := make([]derivedPoint, len(derived))
	copy(sorted, derived)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
	return sorted[0]
}

// finitePositive unwraps an optional that must be finite and > 0 to be
// usable as a ratio component.
func finitePositive(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := domain.Float(*v)
	if f == nil || *f <= 0 {
		return nil
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
