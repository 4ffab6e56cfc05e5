// Package yahoo fetches fundamentals from the Yahoo Finance quoteSummary
// endpoint. Access requires a bootstrapped cookie+crumb session, managed by
// SessionManager; a rejected session is refreshed and the fetch retried
// exactly once.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/domain"
	"github.com/0xideahub/OpenStock/internal/statements"
)

const fetchTimeout = 15 * time.Second

// responseKind classifies an upstream quoteSummary response.
type responseKind int

const (
	responseOK responseKind = iota
	responseSessionRejected
	responseNotFound
	responseOther
)

// Client is the scraped-provider client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sessions   *SessionManager
	cache      *cache.Layered
	log        zerolog.Logger
}

// NewClient creates a Yahoo fundamentals client.
func NewClient(baseURL string, sessions *SessionManager, cacheLayer *cache.Layered, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: fetchTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sessions:   sessions,
		cache:      cacheLayer,
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// FetchFundamentals returns a normalized snapshot for the symbol. Results are
// cached for 12 hours; forceRefresh bypasses the cache. A session rejection
// triggers one forced session refresh and one retry.
func (c *Client) FetchFundamentals(ctx context.Context, symbol string, forceRefresh bool) (*domain.NormalizedFundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol{}
	}

	if !forceRefresh && c.cache != nil {
		var cached domain.NormalizedFundamentals
		found, err := c.cache.Get(clientdata.TableYahooFundamentals, symbol, &cached)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
		}
		if found {
			c.log.Debug().Str("symbol", symbol).Msg("Cache hit")
			return &cached, nil
		}
	}

	result, err := c.fetch(ctx, symbol, false)
	if err != nil {
		var sessionErr domain.ErrInvalidSession
		if !errors.As(err, &sessionErr) {
			return nil, err
		}
		c.log.Warn().Str("symbol", symbol).Str("detail", sessionErr.Detail).
			Msg("Session rejected, refreshing and retrying once")
		c.sessions.Invalidate()
		result, err = c.fetch(ctx, symbol, true)
		if err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		c.cache.Set(clientdata.TableYahooFundamentals, symbol, result, clientdata.TTLYahooFundamentals)
	}

	return result, nil
}

// fetch performs one quoteSummary round trip.
func (c *Client) fetch(ctx context.Context, symbol string, forceSession bool) (*domain.NormalizedFundamentals, error) {
	session, err := c.sessions.Acquire(ctx, forceSession)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	// Yahoo uses hyphens where most sources use dots (BRK.B -> BRK-B). The
	// returned snapshot keeps the caller's dotted form.
	pathSymbol := strings.ReplaceAll(symbol, ".", "-")

	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s", c.baseURL, url.PathEscape(pathSymbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quoteSummary request: %w", err)
	}

	q := req.URL.Query()
	q.Set("modules", quoteSummaryModules)
	q.Set("crumb", session.Crumb)
	req.URL.RawQuery = q.Encode()

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", session.CookieHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapTimeout("yahoo", fmt.Errorf("quoteSummary request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapTimeout("yahoo", fmt.Errorf("failed to read quoteSummary response: %w", err))
	}

	var parsed quoteSummaryResponse
	// Tolerate unparseable bodies during classification; non-2xx statuses
	// carry meaning on their own.
	_ = json.Unmarshal(body, &parsed)

	switch classifyResponse(resp.StatusCode, parsed.QuoteSummary.Error) {
	case responseSessionRejected:
		detail := ""
		if parsed.QuoteSummary.Error != nil {
			detail = parsed.QuoteSummary.Error.Description
		}
		return nil, domain.ErrInvalidSession{Detail: detail}
	case responseNotFound:
		return nil, domain.ErrUpstreamHTTP{Provider: "yahoo", Status: http.StatusNotFound}
	case responseOther:
		return nil, domain.ErrUpstreamHTTP{Provider: "yahoo", Status: resp.StatusCode}
	}

	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, domain.ErrDataIncomplete{Provider: "yahoo", Missing: "quoteSummary result"}
	}

	return c.normalize(symbol, parsed.QuoteSummary.Result[0]), nil
}

// classifyResponse decides how to treat an upstream answer. Session problems
// show up either as 401/403 or as a 200 with an error description naming the
// crumb or cookie.
func classifyResponse(status int, apiErr *apiError) responseKind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return responseSessionRejected
	}

	if apiErr != nil {
		desc := strings.ToLower(apiErr.Description)
		if strings.Contains(desc, "invalid crumb") || strings.Contains(desc, "invalid cookie") {
			return responseSessionRejected
		}
	}

	if status == http.StatusNotFound {
		return responseNotFound
	}
	if status < 200 || status > 299 {
		return responseOther
	}
	if apiErr != nil && apiErr.Description != "" {
		return responseOther
	}
	return responseOK
}

// normalize maps a quoteSummary result onto the provider-independent shape.
func (c *Client) normalize(symbol string, r quoteSummaryResult) *domain.NormalizedFundamentals {
	out := &domain.NormalizedFundamentals{
		Symbol:    symbol,
		Source:    domain.SourceYahoo,
		FetchedAt: time.Now().UTC(),
	}

	if p := r.Price; p != nil {
		out.CompanyName = p.LongName
		if out.CompanyName == "" {
			out.CompanyName = p.ShortName
		}
		out.Currency = p.Currency
		out.Exchange = p.ExchangeName
		out.Metrics.Price = p.RegularMarketPrice.Val()
		out.Metrics.MarketCap = p.MarketCap.Val()
	}

	if a := r.AssetProfile; a != nil {
		out.Description = a.LongBusinessSummary
	}

	if s := r.SummaryDetail; s != nil {
		out.Metrics.TrailingPE = s.TrailingPE.Val()
		out.Metrics.ForwardPE = s.ForwardPE.Val()
		out.Metrics.PriceToSales = s.PriceToSalesTrailing12Months.Val()
		out.Metrics.DividendRate = s.DividendRate.Val()
		out.Metrics.DividendYield = s.DividendYield.Val()
		out.Metrics.PayoutRatio = s.PayoutRatio.Val()
		if s.ExDividendDate != nil && s.ExDividendDate.Raw != nil {
			out.Metrics.ExDividendDate = s.ExDividendDate.Raw
		}
	}

	if f := r.FinancialData; f != nil {
		out.Metrics.CurrentRatio = f.CurrentRatio.Val()
		out.Metrics.QuickRatio = f.QuickRatio.Val()
		out.Metrics.DebtToEquity = f.DebtToEquity.Val()
		out.Metrics.ReturnOnAssets = f.ReturnOnAssets.Val()
		out.Metrics.ReturnOnEquity = f.ReturnOnEquity.Val()
		out.Metrics.TotalCash = f.TotalCash.Val()
		out.Metrics.TotalDebt = f.TotalDebt.Val()
		out.Metrics.OperatingCashflow = f.OperatingCashflow.Val()
		out.Metrics.FreeCashflow = f.FreeCashflow.Val()
		out.Metrics.ProfitMargin = f.ProfitMargins.Val()
		out.Metrics.OperatingMargin = f.OperatingMargins.Val()
		out.Metrics.GrossMargin = f.GrossMargins.Val()
		out.Metrics.RevenueGrowth = f.RevenueGrowth.Val()
		out.Metrics.EarningsGrowth = f.EarningsGrowth.Val()
	}

	if k := r.DefaultKeyStatistics; k != nil {
		out.Metrics.EnterpriseValue = k.EnterpriseValue.Val()
		if out.Metrics.ForwardPE == nil {
			out.Metrics.ForwardPE = k.ForwardPE.Val()
		}
		out.Metrics.PegRatio = k.PegRatio.Val()
		out.Metrics.PriceToBook = k.PriceToBook.Val()
		out.Metrics.EvToEbitda = k.EnterpriseToEbitda.Val()
	}

	derived := statements.Derive(buildHistory(r))
	out.Metrics.ROEActual = derived.ROEActual
	out.Metrics.RevenueCagr3Y = derived.RevenueCagr3Y
	out.Metrics.EarningsCagr3Y = derived.EarningsCagr3Y
	out.Metrics.DebtToEquityActual = derived.DebtToEquityActual
	out.Metrics.FreeCashflowPayoutRatio = derived.FreeCashflowPayoutRatio
	out.Metrics.RevenueGrowthHistory = derived.RevenueGrowthHistory
	out.Metrics.EarningsGrowthHistory = derived.EarningsGrowthHistory

	return out
}

// buildHistory converts the three statement modules into engine input.
func buildHistory(r quoteSummaryResult) statements.History {
	var h statements.History

	if r.IncomeStatementHistory != nil {
		for _, s := range r.IncomeStatementHistory.Statements {
			if s.EndDate == nil || s.EndDate.Raw == nil {
				continue
			}
			h.Income = append(h.Income, statements.Entry{
				EndDate:      s.EndDate.Raw,
				TotalRevenue: s.TotalRevenue.Val(),
				NetIncome:    s.NetIncome.Val(),
			})
		}
	}

	if r.BalanceSheetHistory != nil {
		for _, s := range r.BalanceSheetHistory.Statements {
			if s.EndDate == nil || s.EndDate.Raw == nil {
				continue
			}
			h.BalanceSheet = append(h.BalanceSheet, statements.Entry{
				EndDate:                s.EndDate.Raw,
				TotalStockholderEquity: s.TotalStockholderEquity.Val(),
				TotalLiabilities:       s.TotalLiab.Val(),
			})
		}
	}

	if r.CashflowStatementHistory != nil {
		for _, s := range r.CashflowStatementHistory.Statements {
			if s.EndDate == nil || s.EndDate.Raw == nil {
				continue
			}
			h.CashFlow = append(h.CashFlow, statements.Entry{
				EndDate:       s.EndDate.Raw,
				FreeCashFlow:  freeCashFlow(s),
				DividendsPaid: s.DividendsPaid.Val(),
			})
		}
	}

	return h
}

// freeCashFlow is operating cash flow plus capital expenditures (capex is
// reported negative). Defined only when both components are present.
func freeCashFlow(s cashflowStatement) *float64 {
	op := s.TotalCashFromOperatingActivities.Val()
	capex := s.CapitalExpenditures.Val()
	if op == nil || capex == nil {
		return nil
	}
	return domain.Float(*op + *capex)
}
