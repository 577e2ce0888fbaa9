package routing

// 默认的方法目录：类别、类别下的方法以及每个方法的供应商注册顺序

const (
	CategoryCoreStock    Category = "core_stock_apis"
	CategoryIndicators   Category = "technical_indicators"
	CategoryFundamentals Category = "fundamental_data"
	CategoryNews         Category = "news_data"
)

const (
	MethodStockData           Method = "get_stock_data"
	MethodIndicators          Method = "get_indicators"
	MethodFundamentals        Method = "get_fundamentals"
	MethodBalanceSheet        Method = "get_balance_sheet"
	MethodCashflow            Method = "get_cashflow"
	MethodIncomeStatement     Method = "get_income_statement"
	MethodNews                Method = "get_news"
	MethodGlobalNews          Method = "get_global_news"
	MethodInsiderSentiment    Method = "get_insider_sentiment"
	MethodInsiderTransactions Method = "get_insider_transactions"
)

const (
	ProviderAlphaVantage ProviderID = "alpha_vantage"
	ProviderYFinance     ProviderID = "yfinance"
	ProviderOpenAI       ProviderID = "openai"
	ProviderGoogle       ProviderID = "google"
	ProviderFinnhub      ProviderID = "finnhub"
)

// CategoryDef 目录中的一个类别
type CategoryDef struct {
	Name        Category
	Description string
	Methods     []Method
}

// DefaultCategories 返回默认类别表
func DefaultCategories() []CategoryDef {
	return []CategoryDef{
		{
			Name:        CategoryCoreStock,
			Description: "OHLCV stock price data",
			Methods:     []Method{MethodStockData},
		},
		{
			Name:        CategoryIndicators,
			Description: "Technical analysis indicators",
			Methods:     []Method{MethodIndicators},
		},
		{
			Name:        CategoryFundamentals,
			Description: "Company fundamentals",
			Methods:     []Method{MethodFundamentals, MethodBalanceSheet, MethodCashflow, MethodIncomeStatement},
		},
		{
			Name:        CategoryNews,
			Description: "News (public/insiders, original/processed)",
			Methods:     []Method{MethodNews, MethodGlobalNews, MethodInsiderSentiment, MethodInsiderTransactions},
		},
	}
}

// DefaultProviderOrder 返回每个方法的供应商注册顺序，回退时按此顺序尝试剩余供应商
func DefaultProviderOrder() map[Method][]ProviderID {
	return map[Method][]ProviderID{
		MethodStockData:           {ProviderAlphaVantage, ProviderYFinance, LocalProvider},
		MethodIndicators:          {ProviderAlphaVantage, ProviderYFinance},
		MethodFundamentals:        {ProviderYFinance, ProviderAlphaVantage, ProviderOpenAI},
		MethodBalanceSheet:        {ProviderAlphaVantage, ProviderYFinance, LocalProvider},
		MethodCashflow:            {ProviderAlphaVantage, ProviderYFinance, LocalProvider},
		MethodIncomeStatement:     {ProviderAlphaVantage, ProviderYFinance, LocalProvider},
		MethodNews:                {ProviderAlphaVantage, ProviderFinnhub, ProviderOpenAI, ProviderGoogle, LocalProvider},
		MethodGlobalNews:          {ProviderOpenAI, ProviderGoogle, LocalProvider},
		MethodInsiderSentiment:    {ProviderFinnhub},
		MethodInsiderTransactions: {ProviderFinnhub, ProviderAlphaVantage, ProviderYFinance},
	}
}

// BindingSource 为 (方法, 供应商) 提供实现，没有实现时返回 false
type BindingSource interface {
	BindingFor(method Method, provider ProviderID) (Binding, bool)
}

// BindingSourceFunc 函数形式的 BindingSource
type BindingSourceFunc func(method Method, provider ProviderID) (Binding, bool)

// BindingFor 实现 BindingSource
func (f BindingSourceFunc) BindingFor(method Method, provider ProviderID) (Binding, bool) {
	return f(method, provider)
}

// BuildCatalog 按默认目录构建注册表
// 每个 (方法, 供应商) 依次询问 sources，第一个给出实现的来源胜出；
// 没有任何实现的方法不会登记，调用时返回 UNKNOWN_METHOD
func BuildCatalog(sources ...BindingSource) (*Registry, error) {
	order := DefaultProviderOrder()
	b := NewRegistryBuilder()

	for _, def := range DefaultCategories() {
		bound := make([]Method, 0, len(def.Methods))
		for _, method := range def.Methods {
			hasBinding := false
			for _, provider := range order[method] {
				for _, src := range sources {
					if binding, ok := src.BindingFor(method, provider); ok && len(binding) > 0 {
						b.Bind(method, provider, binding...)
						hasBinding = true
						break
					}
				}
			}
			if hasBinding {
				bound = append(bound, method)
			}
		}
		b.Category(def.Name, def.Description, bound...)
	}
	return b.Build()
}
