// Package domain contains the core data types shared across providers and
// services: normalized fundamentals snapshots and the error taxonomy.
package domain

import (
	"math"
	"time"
)

// Source identifies which upstream provider produced a snapshot.
const (
	SourceSimFin = "simfin"
	SourceYahoo  = "yahoo"
)

// GrowthPoint is one period of year-over-year growth, oldest first.
type GrowthPoint struct {
	Period string  `json:"period"` // e.g. "2023" or "2023-12-31"
	Growth float64 `json:"growth"` // fractional, 0.21 = 21%
}

// FundamentalMetrics holds every metric a provider can report. All fields are
// pointers: nil means the provider did not report the value, which is never
// the same as zero.
type FundamentalMetrics struct {
	// Valuation
	Price           *float64 `json:"price,omitempty"`
	MarketCap       *float64 `json:"marketCap,omitempty"`
	EnterpriseValue *float64 `json:"enterpriseValue,omitempty"`
	TrailingPE      *float64 `json:"trailingPe,omitempty"`
	ForwardPE       *float64 `json:"forwardPe,omitempty"`
	PegRatio        *float64 `json:"pegRatio,omitempty"`
	PriceToBook     *float64 `json:"priceToBook,omitempty"`
	PriceToSales    *float64 `json:"priceToSales,omitempty"`
	EvToEbitda      *float64 `json:"evToEbitda,omitempty"`

	// Profitability
	ProfitMargin    *float64 `json:"profitMargin,omitempty"`
	OperatingMargin *float64 `json:"operatingMargin,omitempty"`
	GrossMargin     *float64 `json:"grossMargin,omitempty"`
	ReturnOnAssets  *float64 `json:"returnOnAssets,omitempty"`
	ReturnOnEquity  *float64 `json:"returnOnEquity,omitempty"`

	// Financial health
	CurrentRatio *float64 `json:"currentRatio,omitempty"`
	QuickRatio   *float64 `json:"quickRatio,omitempty"`
	DebtToEquity *float64 `json:"debtToEquity,omitempty"`
	TotalCash    *float64 `json:"totalCash,omitempty"`
	TotalDebt    *float64 `json:"totalDebt,omitempty"`

	// Cash flow
	OperatingCashflow *float64 `json:"operatingCashflow,omitempty"`
	FreeCashflow      *float64 `json:"freeCashflow,omitempty"`

	// Dividends
	DividendRate   *float64 `json:"dividendRate,omitempty"`
	DividendYield  *float64 `json:"dividendYield,omitempty"`
	PayoutRatio    *float64 `json:"payoutRatio,omitempty"`
	ExDividendDate *int64   `json:"exDividendDate,omitempty"`

	// Growth
	RevenueGrowth  *float64 `json:"revenueGrowth,omitempty"`
	EarningsGrowth *float64 `json:"earningsGrowth,omitempty"`

	// Statement-derived (actuals, not approximations)
	ROEActual               *float64 `json:"roeActual,omitempty"`
	RevenueCagr3Y           *float64 `json:"revenueCagr3y,omitempty"`
	EarningsCagr3Y          *float64 `json:"earningsCagr3y,omitempty"`
	DebtToEquityActual      *float64 `json:"debtToEquityActual,omitempty"`
	FreeCashflowPayoutRatio *float64 `json:"freeCashflowPayoutRatio,omitempty"`

	RevenueGrowthHistory  []GrowthPoint `json:"revenueGrowthHistory,omitempty"`
	EarningsGrowthHistory []GrowthPoint `json:"earningsGrowthHistory,omitempty"`
}

// NormalizedFundamentals is the provider-independent snapshot returned to
// callers. Immutable after construction.
type NormalizedFundamentals struct {
	Symbol      string             `json:"symbol"`
	CompanyName string             `json:"companyName,omitempty"`
	Currency    string             `json:"currency,omitempty"`
	Exchange    string             `json:"exchange,omitempty"`
	Description string             `json:"description,omitempty"`
	Source      string             `json:"source"`
	FetchedAt   time.Time          `json:"fetchedAt"`
	Metrics     FundamentalMetrics `json:"metrics"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Float returns a pointer to v, or nil when v is NaN or infinite. Non-finite
// values must never escape into a snapshot.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// IsZeroOrNil reports whether an optional metric is absent or exactly zero.
// Merge logic fills these slots and only these slots.
func IsZeroOrNil(v *float64) bool {
	return v == nil || *v == 0
}
