package simfin

// generalInfo is one row from /companies/general.
type generalInfo struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	ISIN        string `json:"isin"`
	Currency    string `json:"currency"`
	Market      string `json:"market"`
	Description string `json:"companyDescription"`
	SectorName  string `json:"sectorName"`
}

// pricePoint is one day from /companies/prices.
type pricePoint struct {
	Date      string   `json:"Date"`
	Close     *float64 `json:"Adjusted Closing Price"`
	MarketCap *float64 `json:"Market-Cap"`
}

// derivedPoint is one day from /companies/derived: valuation ratios computed
// upstream from the latest close.
type derivedPoint struct {
	Date            string   `json:"Date"`
	PriceToEarnings *float64 `json:"Price to Earnings Ratio (ttm)"`
	PriceToBook     *float64 `json:"Price to Book Value"`
	PriceToSales    *float64 `json:"Price to Sales Ratio (ttm)"`
	PegRatio        *float64 `json:"PEG Ratio"`
	EnterpriseValue *float64 `json:"Enterprise Value"`
	EvToEbitda      *float64 `json:"EV/EBITDA"`
	DividendYield   *float64 `json:"Dividend Yield"`
	GrossMargin     *float64 `json:"Gross Profit Margin"`
	OperatingMargin *float64 `json:"Operating Margin"`
	NetProfitMargin *float64 `json:"Net Profit Margin"`
	ReturnOnAssets  *float64 `json:"Return on Assets"`
	CurrentRatio    *float64 `json:"Current Ratio"`
	PayoutRatio     *float64 `json:"Dividend Payout Ratio"`
	FreeCashFlow    *float64 `json:"Free Cash Flow"`
}
