package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	apperr "marketroute/pkg/error"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider 记录调用次数的测试实现
type stubProvider struct {
	calls int32
	text  any
	err   error
}

func (s *stubProvider) fn() Func {
	return func(ctx context.Context, args Args) (any, error) {
		atomic.AddInt32(&s.calls, 1)
		if s.err != nil {
			return nil, s.err
		}
		if text, ok := s.text.(string); ok {
			ticker, _ := args.String(0)
			return strings.ReplaceAll(text, "{ticker}", ticker), nil
		}
		return s.text, nil
	}
}

func (s *stubProvider) count() int {
	return int(atomic.LoadInt32(&s.calls))
}

func succeed(text string) *stubProvider { return &stubProvider{text: text} }

func failing(msg string) *stubProvider {
	return &stubProvider{err: apperr.NewError(apperr.CodeProviderCallFailed, msg)}
}

func limited(p ProviderID) *stubProvider {
	return &stubProvider{err: RateLimited(p, errors.New("429 Too Many Requests"))}
}

type execFixture struct {
	executor *Executor
	recorder *Recorder
}

func newFixture(t *testing.T, method Method, category Category, settings Settings, bindings []struct {
	provider ProviderID
	stubs    []*stubProvider
}) *execFixture {
	t.Helper()
	b := NewRegistryBuilder().Category(category, "", method)
	for _, bd := range bindings {
		for i, s := range bd.stubs {
			b.BindFunc(method, bd.provider, fmt.Sprintf("%s#%d", bd.provider, i), s.fn())
		}
	}
	reg, err := b.Build()
	require.NoError(t, err)

	rec := &Recorder{}
	return &execFixture{
		executor: NewExecutor(reg, NewResolver(reg, settings), rec),
		recorder: rec,
	}
}

type bindingList = []struct {
	provider ProviderID
	stubs    []*stubProvider
}

func TestExecutorAttemptOrder(t *testing.T) {
	fx := newFixture(t, MethodNews, CategoryNews, Settings{}, bindingList{
		{ProviderAlphaVantage, []*stubProvider{succeed("av")}},
		{ProviderFinnhub, []*stubProvider{succeed("fh")}},
		{ProviderGoogle, []*stubProvider{succeed("g")}},
		{LocalProvider, []*stubProvider{succeed("local")}},
	})

	tests := []struct {
		name string
		res  Resolution
		want []ProviderID
	}{
		{
			name: "首选在前其余按注册顺序",
			res:  Resolution{Method: MethodNews, Preferred: []ProviderID{ProviderGoogle}},
			want: []ProviderID{ProviderGoogle, ProviderAlphaVantage, ProviderFinnhub, LocalProvider},
		},
		{
			name: "禁用本地数据源时两部分都去掉local",
			res:  Resolution{Method: MethodNews, Preferred: []ProviderID{LocalProvider, ProviderFinnhub}, DisableLocal: true},
			want: []ProviderID{ProviderFinnhub, ProviderAlphaVantage, ProviderGoogle},
		},
		{
			name: "未注册的首选保留在顺序中",
			res:  Resolution{Method: MethodNews, Preferred: []ProviderID{ProviderOpenAI, ProviderGoogle}},
			want: []ProviderID{ProviderOpenAI, ProviderGoogle, ProviderAlphaVantage, ProviderFinnhub, LocalProvider},
		},
		{
			name: "空首选",
			res:  Resolution{Method: MethodNews},
			want: []ProviderID{ProviderAlphaVantage, ProviderFinnhub, ProviderGoogle, LocalProvider},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fx.executor.AttemptOrder(tt.res))
		})
	}
}

func TestExecutorMultiPrimaryNews(t *testing.T) {
	av, google, local := succeed("av news for {ticker}"), succeed("google news for {ticker}"), succeed("local news")
	fx := newFixture(t, MethodNews, CategoryNews, Settings{
		CategoryDefaults: map[Category]string{CategoryNews: "alpha_vantage,google"},
		DisableLocal:     boolPtr(true),
	}, bindingList{
		{ProviderAlphaVantage, []*stubProvider{av}},
		{ProviderGoogle, []*stubProvider{google}},
		{LocalProvider, []*stubProvider{local}},
	})

	text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA", "2024-01-01", "2024-01-07")
	require.NoError(t, err)
	assert.Equal(t, "av news for TSLA\ngoogle news for TSLA", text)
	assert.Equal(t, 0, local.count(), "禁用时不调用本地数据源")
	assert.Equal(t, []ProviderID{ProviderAlphaVantage, ProviderGoogle}, fx.recorder.Providers(StatusSuccess))
}

func TestExecutorSinglePrimaryFallback(t *testing.T) {
	yf, av, oa := failing("yfinance down"), succeed("av fundamentals"), succeed("openai fundamentals")
	fx := newFixture(t, MethodFundamentals, CategoryFundamentals, Settings{
		CategoryDefaults: map[Category]string{CategoryFundamentals: "yfinance"},
	}, bindingList{
		{ProviderYFinance, []*stubProvider{yf}},
		{ProviderOpenAI, []*stubProvider{oa}},
		{ProviderAlphaVantage, []*stubProvider{av}},
	})

	report, err := fx.executor.ExecuteArgs(context.Background(), MethodFundamentals, NewArgs("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "openai fundamentals", report.Text)
	assert.Equal(t, 1, yf.count())
	assert.Equal(t, 1, oa.count())
	assert.Equal(t, 0, av.count(), "单一首选时第一个成功的回退之后停止")

	require.Len(t, report.Attempts, 2)
	assert.Equal(t, RolePrimary, report.Attempts[0].Role)
	assert.Equal(t, StatusFailed, report.Attempts[0].Status)
	assert.Equal(t, RoleFallback, report.Attempts[1].Role)
	assert.Equal(t, StatusSuccess, report.Attempts[1].Status)
}

func TestExecutorSinglePrimaryStops(t *testing.T) {
	yf, oa := succeed("yf"), succeed("oa")
	fx := newFixture(t, MethodFundamentals, CategoryFundamentals, Settings{
		MethodOverrides: map[Method]string{MethodFundamentals: "yfinance"},
	}, bindingList{
		{ProviderYFinance, []*stubProvider{yf}},
		{ProviderOpenAI, []*stubProvider{oa}},
	})

	text, err := fx.executor.Execute(context.Background(), MethodFundamentals, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "yf", text)
	assert.Equal(t, 0, oa.count())
}

func TestExecutorMultiPrimaryAllFail(t *testing.T) {
	av, google := failing("av"), limited(ProviderGoogle)
	fh, oa := succeed("finnhub"), succeed("openai")
	fx := newFixture(t, MethodNews, CategoryNews, Settings{
		CategoryDefaults: map[Category]string{CategoryNews: "alpha_vantage,google"},
	}, bindingList{
		{ProviderAlphaVantage, []*stubProvider{av}},
		{ProviderFinnhub, []*stubProvider{fh}},
		{ProviderOpenAI, []*stubProvider{oa}},
		{ProviderGoogle, []*stubProvider{google}},
	})

	text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "finnhub\nopenai", text, "所有首选失败时累积每个回退供应商")
	assert.Equal(t, []ProviderID{ProviderGoogle}, fx.recorder.Providers(StatusRateLimited))
}

func TestExecutorMultiPrimarySkipsFallbacks(t *testing.T) {
	av, google, fh := failing("av"), succeed("google"), succeed("finnhub")
	fx := newFixture(t, MethodNews, CategoryNews, Settings{
		CategoryDefaults: map[Category]string{CategoryNews: "alpha_vantage,google"},
	}, bindingList{
		{ProviderAlphaVantage, []*stubProvider{av}},
		{ProviderGoogle, []*stubProvider{google}},
		{ProviderFinnhub, []*stubProvider{fh}},
	})

	text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "google", text)
	assert.Equal(t, 0, fh.count())
}

func TestExecutorLocalOnly(t *testing.T) {
	build := func(disable bool) (*Executor, *stubProvider) {
		local := succeed("local prices")
		fx := newFixture(t, MethodStockData, CategoryCoreStock, Settings{
			CategoryDefaults: map[Category]string{CategoryCoreStock: "local"},
			DisableLocal:     boolPtr(disable),
		}, bindingList{
			{LocalProvider, []*stubProvider{local}},
		})
		return fx.executor, local
	}

	t.Run("禁用时所有供应商失败", func(t *testing.T) {
		ex, local := build(true)
		_, err := ex.Execute(context.Background(), MethodStockData, "AAPL")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAllVendorsFailed))
		assert.Equal(t, 0, local.count())
	})

	t.Run("启用时返回本地结果", func(t *testing.T) {
		ex, local := build(false)
		text, err := ex.Execute(context.Background(), MethodStockData, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "local prices", text)
		assert.Equal(t, 1, local.count())
	})
}

func TestExecutorSiblings(t *testing.T) {
	t.Run("兄弟实现独立执行", func(t *testing.T) {
		a, b, c := succeed("feed-a"), failing("feed-b"), succeed("feed-c")
		fx := newFixture(t, MethodNews, CategoryNews, Settings{
			CategoryDefaults: map[Category]string{CategoryNews: "finnhub"},
		}, bindingList{
			{ProviderFinnhub, []*stubProvider{a, b, c}},
		})

		text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA")
		require.NoError(t, err)
		assert.Equal(t, "feed-a\nfeed-c", text)
		assert.Equal(t, 1, b.count())
	})

	t.Run("限流结束该供应商本轮", func(t *testing.T) {
		a, b, c := succeed("feed-a"), limited(ProviderFinnhub), succeed("feed-c")
		fallback := succeed("openai")
		fx := newFixture(t, MethodNews, CategoryNews, Settings{
			CategoryDefaults: map[Category]string{CategoryNews: "finnhub"},
		}, bindingList{
			{ProviderFinnhub, []*stubProvider{a, b, c}},
			{ProviderOpenAI, []*stubProvider{fallback}},
		})

		report, err := fx.executor.ExecuteArgs(context.Background(), MethodNews, NewArgs("TSLA"))
		require.NoError(t, err)
		assert.Equal(t, "feed-a", report.Text, "已获得的兄弟结果保留，首选成功后停止")
		assert.Equal(t, 0, c.count())
		assert.Equal(t, 0, fallback.count())

		statuses := make([]AttemptStatus, 0, len(report.Attempts))
		for _, a := range report.Attempts {
			statuses = append(statuses, a.Status)
		}
		assert.Equal(t, []AttemptStatus{StatusSuccess, StatusRateLimited, StatusSkipped}, statuses)
	})

	t.Run("首个实现被限流时转向下一个供应商", func(t *testing.T) {
		a, b := limited(ProviderFinnhub), succeed("feed-b")
		fallback := succeed("openai")
		fx := newFixture(t, MethodNews, CategoryNews, Settings{
			CategoryDefaults: map[Category]string{CategoryNews: "finnhub"},
		}, bindingList{
			{ProviderFinnhub, []*stubProvider{a, b}},
			{ProviderOpenAI, []*stubProvider{fallback}},
		})

		text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA")
		require.NoError(t, err)
		assert.Equal(t, "openai", text)
		assert.Equal(t, 1, a.count(), "同一供应商不重试")
		assert.Equal(t, 0, b.count())
	})
}

func TestExecutorResults(t *testing.T) {
	t.Run("空字符串是有效结果", func(t *testing.T) {
		empty, fallback := succeed(""), succeed("fallback")
		fx := newFixture(t, MethodNews, CategoryNews, Settings{
			CategoryDefaults: map[Category]string{CategoryNews: "finnhub"},
		}, bindingList{
			{ProviderFinnhub, []*stubProvider{empty}},
			{ProviderOpenAI, []*stubProvider{fallback}},
		})

		text, err := fx.executor.Execute(context.Background(), MethodNews, "TSLA")
		require.NoError(t, err)
		assert.Equal(t, "", text)
		assert.Equal(t, 0, fallback.count())
	})

	t.Run("非字符串结果转为文本", func(t *testing.T) {
		fx := newFixture(t, MethodNews, CategoryNews, Settings{}, bindingList{
			{ProviderFinnhub, []*stubProvider{{text: 42}}},
		})
		text, err := fx.executor.Execute(context.Background(), MethodNews)
		require.NoError(t, err)
		assert.Equal(t, "42", text)
	})

	t.Run("未注册方法", func(t *testing.T) {
		fx := newFixture(t, MethodNews, CategoryNews, Settings{}, bindingList{
			{ProviderFinnhub, []*stubProvider{succeed("x")}},
		})
		_, err := fx.executor.Execute(context.Background(), "get_weather")
		assert.True(t, errors.Is(err, ErrUnknownMethod))
	})

	t.Run("全部失败", func(t *testing.T) {
		fx := newFixture(t, MethodNews, CategoryNews, Settings{
			CategoryDefaults: map[Category]string{CategoryNews: "google"},
		}, bindingList{
			{ProviderFinnhub, []*stubProvider{failing("a")}},
			{ProviderOpenAI, []*stubProvider{limited(ProviderOpenAI)}},
		})
		report, err := fx.executor.ExecuteArgs(context.Background(), MethodNews, NewArgs("TSLA"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAllVendorsFailed))
		require.NotNil(t, report)
		assert.Equal(t, StatusNotApplicable, report.Attempts[0].Status, "google 没有实现")
		assert.Equal(t, ProviderGoogle, report.Attempts[0].Provider)
	})

	t.Run("panic 视为调用失败", func(t *testing.T) {
		b := NewRegistryBuilder().Category(CategoryNews, "", MethodNews).
			BindFunc(MethodNews, ProviderFinnhub, "boom", func(ctx context.Context, args Args) (any, error) {
				panic("boom")
			}).
			BindFunc(MethodNews, ProviderOpenAI, "", constFn("ok"))
		reg, err := b.Build()
		require.NoError(t, err)
		ex := NewExecutor(reg, NewResolver(reg, Settings{}), &Recorder{})

		report, err := ex.ExecuteArgs(context.Background(), MethodNews, Args{})
		require.NoError(t, err)
		assert.Equal(t, "ok", report.Text)
		assert.True(t, apperr.HasCode(report.Attempts[0].Err, apperr.CodeProviderCallFailed))
	})
}

func TestExecutorContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	second := succeed("second")
	b := NewRegistryBuilder().Category(CategoryNews, "", MethodNews).
		BindFunc(MethodNews, ProviderFinnhub, "cancel", func(_ context.Context, args Args) (any, error) {
			cancel()
			return nil, errors.New("failed")
		}).
		BindFunc(MethodNews, ProviderOpenAI, "", second.fn())
	reg, err := b.Build()
	require.NoError(t, err)
	ex := NewExecutor(reg, NewResolver(reg, Settings{}), &Recorder{})

	_, err = ex.Execute(ctx, MethodNews)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.count())
}

func TestExecutorConcurrent(t *testing.T) {
	fx := newFixture(t, MethodNews, CategoryNews, Settings{
		CategoryDefaults: map[Category]string{CategoryNews: "finnhub,openai"},
	}, bindingList{
		{ProviderFinnhub, []*stubProvider{succeed("fh {ticker}")}},
		{ProviderOpenAI, []*stubProvider{succeed("oa {ticker}")}},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticker := fmt.Sprintf("T%d", i)
			text, err := fx.executor.Execute(context.Background(), MethodNews, ticker)
			assert.NoError(t, err)
			assert.Equal(t, "fh "+ticker+"\noa "+ticker, text)
		}(i)
	}
	wg.Wait()
	assert.Len(t, fx.recorder.Records(), 40)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Outcome{Kind: OutcomeSuccess, Text: "x"}, Classify("x", nil))
	assert.Equal(t, OutcomeSuccess, Classify(nil, nil).Kind)
	assert.Equal(t, "", Classify(nil, nil).Text)
	assert.Equal(t, "raw", Classify([]byte("raw"), nil).Text)

	wrapped := fmt.Errorf("calling: %w", RateLimited(ProviderGoogle, nil))
	assert.Equal(t, OutcomeRateLimited, Classify(nil, wrapped).Kind)
	assert.Equal(t, OutcomeRateLimited, Classify(nil, ErrProviderRateLimited).Kind)
	assert.Equal(t, OutcomeFailed, Classify(nil, errors.New("rate limit")).Kind, "普通错误不按消息识别")

	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
}
