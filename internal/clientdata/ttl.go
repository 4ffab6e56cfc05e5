package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Yahoo quoteSummary snapshots. Statement data updates quarterly, the
	// surrounding price fields daily; 12 hours keeps us well under Yahoo's
	// tolerance for repeat scraping.
	TTLYahooFundamentals = 12 * time.Hour

	// SimFin daily series. Refreshed upstream once per trading day; 6 hours
	// balances freshness against the account quota.
	TTLSimFinFundamentals = 6 * time.Hour

	// Yahoo cookie+crumb sessions expire server-side well before an hour.
	TTLYahooSession = 15 * time.Minute
)
