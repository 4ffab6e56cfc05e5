package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/domain"
)

const quoteSummaryBody = `{
	"quoteSummary": {
		"result": [{
			"assetProfile": {"longBusinessSummary": "Designs consumer electronics."},
			"price": {
				"longName": "Apple Inc.",
				"currency": "USD",
				"exchangeName": "NasdaqGS",
				"regularMarketPrice": {"raw": 190.5, "fmt": "190.50"},
				"marketCap": {"raw": 2950000000000, "fmt": "2.95T"}
			},
			"summaryDetail": {
				"trailingPE": {"raw": 31.2},
				"dividendYield": {"raw": 0.0055},
				"payoutRatio": {"raw": 0.155},
				"exDividendDate": {"raw": 1715299200}
			},
			"financialData": {
				"returnOnEquity": {"raw": 1.47},
				"freeCashflow": {"raw": 99000000000},
				"debtToEquity": {"raw": 145.8}
			},
			"defaultKeyStatistics": {
				"enterpriseValue": {"raw": 3000000000000},
				"priceToBook": {"raw": 45.6},
				"pegRatio": {"raw": 2.1}
			},
			"incomeStatementHistory": {
				"incomeStatementHistory": [
					{"endDate": {"raw": 1695859200}, "totalRevenue": {"raw": 383000000000}, "netIncome": {"raw": 97000000000}},
					{"endDate": {"raw": 1664236800}, "totalRevenue": {"raw": 394000000000}, "netIncome": {"raw": 99800000000}}
				]
			},
			"balanceSheetHistory": {
				"balanceSheetStatements": [
					{"endDate": {"raw": 1695859200}, "totalStockholderEquity": {"raw": 62000000000}, "totalLiab": {"raw": 290000000000}},
					{"endDate": {"raw": 1664236800}, "totalStockholderEquity": {"raw": 50700000000}}
				]
			},
			"cashflowStatementHistory": {
				"cashflowStatements": [
					{"endDate": {"raw": 1695859200}, "totalCashFromOperatingActivities": {"raw": 110500000000}, "capitalExpenditures": {"raw": -10900000000}, "dividendsPaid": {"raw": -15000000000}}
				]
			}
		}],
		"error": null
	}
}`

type clientFixture struct {
	client     *Client
	quoteCalls *int32
	sessions   *sessionFixture
}

// newClientFixture wires a Client whose quoteSummary endpoint is served by
// the given handler. Session traffic goes to its own fake upstreams.
func newClientFixture(t *testing.T, cacheLayer *cache.Layered, quote http.HandlerFunc) *clientFixture {
	t.Helper()

	var quoteCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v10/finance/quoteSummary/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&quoteCalls, 1)
		quote(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sessions := newSessionFixture(t, cacheLayer)

	return &clientFixture{
		client:     NewClient(server.URL, sessions.manager, cacheLayer, zerolog.Nop()),
		quoteCalls: &quoteCalls,
		sessions:   sessions,
	}
}

func serveQuoteSummary(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(quoteSummaryBody))
}

func TestFetchFundamentalsParsesSnapshot(t *testing.T) {
	f := newClientFixture(t, nil, serveQuoteSummary)

	result, err := f.client.FetchFundamentals(context.Background(), "aapl", false)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.Symbol)
	assert.Equal(t, "Apple Inc.", result.CompanyName)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "NasdaqGS", result.Exchange)
	assert.Equal(t, domain.SourceYahoo, result.Source)
	assert.WithinDuration(t, time.Now(), result.FetchedAt, 5*time.Second)

	m := result.Metrics
	require.NotNil(t, m.Price)
	assert.Equal(t, 190.5, *m.Price)
	require.NotNil(t, m.DividendYield)
	assert.Equal(t, 0.0055, *m.DividendYield)
	require.NotNil(t, m.ReturnOnEquity)
	assert.Equal(t, 1.47, *m.ReturnOnEquity)
	require.NotNil(t, m.EnterpriseValue)

	// Statement-derived metrics.
	require.NotNil(t, m.ROEActual)
	assert.InDelta(t, 97000000000.0/56350000000.0, *m.ROEActual, 1e-9)
	require.NotNil(t, m.DebtToEquityActual)
	assert.InDelta(t, 290000000000.0/62000000000.0, *m.DebtToEquityActual, 1e-9)
	require.NotNil(t, m.FreeCashflowPayoutRatio)
	assert.InDelta(t, 15000000000.0/99600000000.0, *m.FreeCashflowPayoutRatio, 1e-9)
}

func TestFetchFundamentalsDotSymbolUsesHyphenPath(t *testing.T) {
	var requestedPath string
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		serveQuoteSummary(w, r)
	})

	result, err := f.client.FetchFundamentals(context.Background(), "brk.b", false)
	require.NoError(t, err)

	assert.Equal(t, "/v10/finance/quoteSummary/BRK-B", requestedPath)
	assert.Equal(t, "BRK.B", result.Symbol, "returned symbol keeps the dotted form")
}

func TestFetchFundamentalsSendsCrumbAndCookie(t *testing.T) {
	var gotCrumb, gotCookie, gotModules string
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		gotCrumb = r.URL.Query().Get("crumb")
		gotModules = r.URL.Query().Get("modules")
		gotCookie = r.Header.Get("Cookie")
		serveQuoteSummary(w, r)
	})

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)
	require.NoError(t, err)

	assert.Equal(t, "test-crumb", gotCrumb)
	assert.Equal(t, "A1=abc; A3=def", gotCookie)
	assert.Contains(t, gotModules, "incomeStatementHistory")
	assert.Contains(t, gotModules, "price")
}

func TestFetchFundamentalsEmptySymbol(t *testing.T) {
	f := newClientFixture(t, nil, serveQuoteSummary)

	_, err := f.client.FetchFundamentals(context.Background(), "   ", false)

	var invalidErr domain.ErrInvalidSymbol
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.quoteCalls))
}

func TestFetchFundamentalsInvalidCrumbRetriesOnce(t *testing.T) {
	var calls int32
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"quoteSummary":{"result":null,"error":{"code":"Unauthorized","description":"Invalid Crumb"}}}`))
			return
		}
		serveQuoteSummary(w, r)
	})

	result, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", result.Symbol)

	assert.Equal(t, int32(2), atomic.LoadInt32(f.quoteCalls))
	// The retry forces a fresh session: one bootstrap for the initial
	// acquire, one for the refresh.
	assert.Equal(t, int32(2), atomic.LoadInt32(f.sessions.bootstrapCalls))
}

func TestFetchFundamentalsPersistentRejectionFails(t *testing.T) {
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)

	var sessionErr domain.ErrInvalidSession
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(f.quoteCalls), "exactly one retry")
}

func TestFetchFundamentalsNotFound(t *testing.T) {
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"quoteSummary":{"result":null,"error":{"code":"Not Found","description":"Quote not found for ticker symbol: NOPE"}}}`))
	})

	_, err := f.client.FetchFundamentals(context.Background(), "NOPE", false)

	var httpErr domain.ErrUpstreamHTTP
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.quoteCalls), "not-found must not retry")
}

func TestFetchFundamentalsServerError(t *testing.T) {
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)

	var httpErr domain.ErrUpstreamHTTP
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
}

func TestFetchFundamentalsEmptyResult(t *testing.T) {
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[],"error":null}}`))
	})

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)

	var incompleteErr domain.ErrDataIncomplete
	require.ErrorAs(t, err, &incompleteErr)
}

func TestFetchFundamentalsUsesCache(t *testing.T) {
	cacheLayer := newTestCache(t)
	f := newClientFixture(t, cacheLayer, serveQuoteSummary)

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)
	require.NoError(t, err)

	result, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", result.CompanyName)

	assert.Equal(t, int32(1), atomic.LoadInt32(f.quoteCalls), "second fetch must come from cache")
}

func TestFetchFundamentalsForceRefreshBypassesCache(t *testing.T) {
	cacheLayer := newTestCache(t)
	f := newClientFixture(t, cacheLayer, serveQuoteSummary)

	_, err := f.client.FetchFundamentals(context.Background(), "AAPL", false)
	require.NoError(t, err)

	_, err = f.client.FetchFundamentals(context.Background(), "AAPL", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(f.quoteCalls))
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		apiErr   *apiError
		expected responseKind
	}{
		{"ok", 200, nil, responseOK},
		{"unauthorized", 401, nil, responseSessionRejected},
		{"forbidden", 403, nil, responseSessionRejected},
		{"invalid crumb in body", 200, &apiError{Description: "Invalid Crumb"}, responseSessionRejected},
		{"invalid cookie in body", 200, &apiError{Description: "invalid cookie"}, responseSessionRejected},
		{"not found", 404, nil, responseNotFound},
		{"server error", 500, nil, responseOther},
		{"api error body", 200, &apiError{Description: "something else"}, responseOther},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyResponse(tc.status, tc.apiErr))
		})
	}
}

func TestFetchFundamentalsTimeout(t *testing.T) {
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		serveQuoteSummary(w, r)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.client.FetchFundamentals(ctx, "AAPL", false)
	require.Error(t, err)
}

func TestFreeCashFlowRequiresBothComponents(t *testing.T) {
	op := 100.0
	capex := -20.0

	fcf := freeCashFlow(cashflowStatement{
		TotalCashFromOperatingActivities: &yfValue{Raw: &op},
		CapitalExpenditures:              &yfValue{Raw: &capex},
	})
	require.NotNil(t, fcf)
	assert.Equal(t, 80.0, *fcf)

	assert.Nil(t, freeCashFlow(cashflowStatement{
		TotalCashFromOperatingActivities: &yfValue{Raw: &op},
	}))
}

func TestQuoteSummaryPathEscaping(t *testing.T) {
	var path string
	f := newClientFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		serveQuoteSummary(w, r)
	})

	_, err := f.client.FetchFundamentals(context.Background(), "VOW3.DE", false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "/VOW3-DE"), fmt.Sprintf("unexpected path %s", path))
}
