package yahoo

import "github.com/0xideahub/OpenStock/internal/domain"

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/118.0"

// quoteSummaryModules is the fixed module list requested on every fetch.
const quoteSummaryModules = "assetProfile,price,summaryDetail,financialData," +
	"defaultKeyStatistics,incomeStatementHistory,balanceSheetHistory," +
	"cashflowStatementHistory"

// yfValue is Yahoo's number envelope: a raw value plus a display string.
// Only the raw value matters here.
type yfValue struct {
	Raw *float64 `json:"raw"`
	Fmt string   `json:"fmt"`
}

// Val unwraps the raw value, coercing NaN/Inf sentinels to nil.
func (v *yfValue) Val() *float64 {
	if v == nil || v.Raw == nil {
		return nil
	}
	return domain.Float(*v.Raw)
}

// yfDate is Yahoo's timestamp envelope (unix seconds).
type yfDate struct {
	Raw *int64 `json:"raw"`
	Fmt string `json:"fmt"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []quoteSummaryResult `json:"result"`
		Error  *apiError            `json:"error"`
	} `json:"quoteSummary"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteSummaryResult struct {
	AssetProfile         *assetProfile         `json:"assetProfile"`
	Price                *priceModule          `json:"price"`
	SummaryDetail        *summaryDetail        `json:"summaryDetail"`
	FinancialData        *financialData        `json:"financialData"`
	DefaultKeyStatistics *defaultKeyStatistics `json:"defaultKeyStatistics"`

	IncomeStatementHistory *struct {
		Statements []incomeStatement `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistory"`
	BalanceSheetHistory *struct {
		Statements []balanceSheetStatement `json:"balanceSheetStatements"`
	} `json:"balanceSheetHistory"`
	CashflowStatementHistory *struct {
		Statements []cashflowStatement `json:"cashflowStatements"`
	} `json:"cashflowStatementHistory"`
}

type assetProfile struct {
	LongBusinessSummary string `json:"longBusinessSummary"`
	Sector              string `json:"sector"`
	Industry            string `json:"industry"`
}

type priceModule struct {
	ShortName          string   `json:"shortName"`
	LongName           string   `json:"longName"`
	Currency           string   `json:"currency"`
	ExchangeName       string   `json:"exchangeName"`
	RegularMarketPrice *yfValue `json:"regularMarketPrice"`
	MarketCap          *yfValue `json:"marketCap"`
}

type summaryDetail struct {
	TrailingPE                   *yfValue `json:"trailingPE"`
	ForwardPE                    *yfValue `json:"forwardPE"`
	PriceToSalesTrailing12Months *yfValue `json:"priceToSalesTrailing12Months"`
	DividendRate                 *yfValue `json:"dividendRate"`
	DividendYield                *yfValue `json:"dividendYield"`
	PayoutRatio                  *yfValue `json:"payoutRatio"`
	ExDividendDate               *yfDate  `json:"exDividendDate"`
}

type financialData struct {
	CurrentRatio      *yfValue `json:"currentRatio"`
	QuickRatio        *yfValue `json:"quickRatio"`
	DebtToEquity      *yfValue `json:"debtToEquity"`
	ReturnOnAssets    *yfValue `json:"returnOnAssets"`
	ReturnOnEquity    *yfValue `json:"returnOnEquity"`
	TotalCash         *yfValue `json:"totalCash"`
	TotalDebt         *yfValue `json:"totalDebt"`
	OperatingCashflow *yfValue `json:"operatingCashflow"`
	FreeCashflow      *yfValue `json:"freeCashflow"`
	ProfitMargins     *yfValue `json:"profitMargins"`
	OperatingMargins  *yfValue `json:"operatingMargins"`
	GrossMargins      *yfValue `json:"grossMargins"`
	RevenueGrowth     *yfValue `json:"revenueGrowth"`
	EarningsGrowth    *yfValue `json:"earningsGrowth"`
}

type defaultKeyStatistics struct {
	EnterpriseValue    *yfValue `json:"enterpriseValue"`
	ForwardPE          *yfValue `json:"forwardPE"`
	PegRatio           *yfValue `json:"pegRatio"`
	PriceToBook        *yfValue `json:"priceToBook"`
	EnterpriseToEbitda *yfValue `json:"enterpriseToEbitda"`
}

type incomeStatement struct {
	EndDate      *yfDate  `json:"endDate"`
	TotalRevenue *yfValue `json:"totalRevenue"`
	NetIncome    *yfValue `json:"netIncome"`
}

type balanceSheetStatement struct {
	EndDate                *yfDate  `json:"endDate"`
	TotalStockholderEquity *yfValue `json:"totalStockholderEquity"`
	TotalLiab              *yfValue `json:"totalLiab"`
}

type cashflowStatement struct {
	EndDate                          *yfDate  `json:"endDate"`
	TotalCashFromOperatingActivities *yfValue `json:"totalCashFromOperatingActivities"`
	CapitalExpenditures              *yfValue `json:"capitalExpenditures"`
	DividendsPaid                    *yfValue `json:"dividendsPaid"`
}
