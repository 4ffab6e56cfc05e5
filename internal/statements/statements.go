// Package statements derives financial-health metrics from raw statement
// history. Everything here is pure: no I/O, no clocks, deterministic output
// for a given input.
package statements

import (
	"math"
	"sort"
	"time"

	"github.com/0xideahub/OpenStock/internal/domain"
)

const secondsPerYear = 365.25 * 24 * 3600

// Entry is one reporting period from an income statement, balance sheet or
// cash flow statement. Fields are nil when the filing omits them; some
// upstreams also ship NaN sentinels, which are treated as absent.
type Entry struct {
	EndDate     *int64  // unix seconds, period end
	PeriodLabel *string // e.g. "2023" for annual filings

	TotalRevenue           *float64
	NetIncome              *float64
	TotalStockholderEquity *float64
	TotalLiabilities       *float64
	FreeCashFlow           *float64
	DividendsPaid          *float64
}

// History holds the three statement series for one company.
type History struct {
	Income       []Entry
	BalanceSheet []Entry
	CashFlow     []Entry
}

// Derived is the output of the engine. Every field is nil when its inputs are
// missing or would produce a meaningless value.
type Derived struct {
	ROEActual               *float64
	RevenueCagr3Y           *float64
	EarningsCagr3Y          *float64
	DebtToEquityActual      *float64
	FreeCashflowPayoutRatio *float64

	RevenueGrowthHistory  []domain.GrowthPoint
	EarningsGrowthHistory []domain.GrowthPoint
}

// Derive computes every statement-based metric from the history.
func Derive(h History) Derived {
	income := normalize(h.Income)
	balance := normalize(h.BalanceSheet)
	cashflow := normalize(h.CashFlow)

	return Derived{
		ROEActual:               roe(income, balance),
		RevenueCagr3Y:           cagr(income, func(e Entry) *float64 { return e.TotalRevenue }, false),
		EarningsCagr3Y:          cagr(income, func(e Entry) *float64 { return e.NetIncome }, true),
		DebtToEquityActual:      debtToEquity(balance),
		FreeCashflowPayoutRatio: fcfPayout(cashflow),
		RevenueGrowthHistory:    growthHistory(income, func(e Entry) *float64 { return e.TotalRevenue }),
		EarningsGrowthHistory:   growthHistory(income, func(e Entry) *float64 { return e.NetIncome }),
	}
}

// normalize drops entries without an end date and sorts newest first.
func normalize(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.EndDate != nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].EndDate > *out[j].EndDate
	})
	return out
}

// value unwraps an optional, treating NaN/Inf sentinels as absent.
func value(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// roe is latest net income over the average of the two most recent equity
// positions. A single balance sheet period falls back to that period alone.
func roe(income, balance []Entry) *float64 {
	if len(income) == 0 || len(balance) == 0 {
		return nil
	}

	netIncome, ok := value(income[0].NetIncome)
	if !ok {
		return nil
	}

	latestEquity, ok := value(balance[0].TotalStockholderEquity)
	if !ok {
		return nil
	}

	avgEquity := latestEquity
	if len(balance) > 1 {
		if prevEquity, ok := value(balance[1].TotalStockholderEquity); ok {
			avgEquity = (latestEquity + prevEquity) / 2
		}
	}

	if avgEquity <= 0 {
		return nil
	}
	return domain.Float(netIncome / avgEquity)
}

// cagr computes compound annual growth between the latest period and the
// period at index min(len-1, 3). Elapsed years are floored at 1 so two
// filings less than a year apart do not explode the exponent. With useAbs
// both endpoints are taken as absolute values (net income can be negative in
// either period while the trend is still meaningful).
func cagr(entries []Entry, extract func(Entry) *float64, useAbs bool) *float64 {
	if len(entries) < 2 {
		return nil
	}

	olderIdx := len(entries) - 1
	if olderIdx > 3 {
		olderIdx = 3
	}

	latest, ok := value(extract(entries[0]))
	if !ok {
		return nil
	}
	older, ok := value(extract(entries[olderIdx]))
	if !ok {
		return nil
	}

	if useAbs {
		latest = math.Abs(latest)
		older = math.Abs(older)
	}
	if latest <= 0 || older <= 0 {
		return nil
	}

	years := float64(*entries[0].EndDate-*entries[olderIdx].EndDate) / secondsPerYear
	if years < 1 {
		years = 1
	}

	return domain.Float(math.Pow(latest/older, 1/years) - 1)
}

// debtToEquity is latest total liabilities over latest equity.
func debtToEquity(balance []Entry) *float64 {
	if len(balance) == 0 {
		return nil
	}

	liabilities, ok := value(balance[0].TotalLiabilities)
	if !ok {
		return nil
	}
	equity, ok := value(balance[0].TotalStockholderEquity)
	if !ok || equity <= 0 {
		return nil
	}

	return domain.Float(liabilities / equity)
}

// fcfPayout is dividends paid over free cash flow, defined only when free
// cash flow is positive. Dividends are reported as outflows (negative), so
// the absolute value is taken.
func fcfPayout(cashflow []Entry) *float64 {
	if len(cashflow) == 0 {
		return nil
	}

	fcf, ok := value(cashflow[0].FreeCashFlow)
	if !ok || fcf <= 0 {
		return nil
	}
	dividends, ok := value(cashflow[0].DividendsPaid)
	if !ok {
		return nil
	}

	return domain.Float(math.Abs(dividends) / fcf)
}

// growthHistory computes year-over-year growth across the four most recent
// periods, oldest first. Pairs with an absent or zero base are skipped.
func growthHistory(entries []Entry, extract func(Entry) *float64) []domain.GrowthPoint {
	n := len(entries)
	if n > 4 {
		n = 4
	}
	if n < 2 {
		return nil
	}

	// Oldest first within the window.
	window := make([]Entry, n)
	for i := 0; i < n; i++ {
		window[i] = entries[n-1-i]
	}

	var points []domain.GrowthPoint
	for i := 1; i < len(window); i++ {
		prev, ok := value(extract(window[i-1]))
		if !ok || prev == 0 {
			continue
		}
		cur, ok := value(extract(window[i]))
		if !ok {
			continue
		}

		growth := (cur - prev) / math.Abs(prev)
		if g := domain.Float(growth); g != nil {
			points = append(points, domain.GrowthPoint{
				Period: periodLabel(window[i]),
				Growth: *g,
			})
		}
	}
	return points
}

func periodLabel(e Entry) string {
	if e.PeriodLabel != nil && *e.PeriodLabel != "" {
		return *e.PeriodLabel
	}
	return time.Unix(*e.EndDate, 0).UTC().Format("2006-01-02")
}
