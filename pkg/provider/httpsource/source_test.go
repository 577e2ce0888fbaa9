package httpsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketroute/pkg/config"
	apperr "marketroute/pkg/error"
	"marketroute/pkg/limiter"
	"marketroute/pkg/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	t.Setenv("MARKETROUTE_TEST_KEY", "k e y")

	tests := []struct {
		name    string
		tpl     string
		args    routing.Args
		want    string
		wantErr bool
	}{
		{
			name: "位置参数",
			tpl:  "https://api.example.com/q?symbol={0}&from={1}",
			args: routing.NewArgs("AAPL", "2024-01-01"),
			want: "https://api.example.com/q?symbol=AAPL&from=2024-01-01",
		},
		{
			name: "环境变量与关键字参数",
			tpl:  "https://api.example.com/q?apikey=${MARKETROUTE_TEST_KEY}&limit={limit}",
			args: routing.Args{Named: map[string]any{"limit": 5}},
			want: "https://api.example.com/q?apikey=k+e+y&limit=5",
		},
		{
			name: "切片参数用逗号连接",
			tpl:  "https://api.example.com/ind?list={0}",
			args: routing.NewArgs([]string{"rsi", "macd"}),
			want: "https://api.example.com/ind?list=rsi%2Cmacd",
		},
		{
			name:    "缺少参数",
			tpl:     "https://api.example.com/q?symbol={0}&to={2}",
			args:    routing.NewArgs("AAPL"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.tpl, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newSource(srv *httptest.Server, markers ...string) *Source {
	return New(routing.ProviderAlphaVantage, config.SourceConfig{
		Enabled: true,
		Methods: map[string]string{
			"get_news": srv.URL + "/news?symbol={0}",
		},
		Headers:          map[string]string{"X-Api-Key": "secret"},
		RateLimitMarkers: markers,
		Timeout:          2 * time.Second,
	})
}

func TestSourceFetch(t *testing.T) {
	t.Run("返回响应文本", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			assert.Equal(t, "TSLA", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte("headline one"))
		})
		src := newSource(srv)

		text, err := src.Fetch(context.Background(), routing.MethodNews, routing.NewArgs("TSLA"))
		require.NoError(t, err)
		assert.Equal(t, "headline one", text)
	})

	t.Run("429视为供应商限流", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		})
		src := newSource(srv)

		_, err := src.Fetch(context.Background(), routing.MethodNews, routing.NewArgs("TSLA"))
		require.Error(t, err)
		assert.True(t, routing.IsRateLimited(err))

		var te *limiter.ThrottleError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 30*time.Second, te.RetryAfter)
	})

	t.Run("响应体中的限流标记", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"Note": "Our standard API call frequency is 5 calls per minute"}`))
		})
		src := newSource(srv, "API call frequency")

		_, err := src.Fetch(context.Background(), routing.MethodNews, routing.NewArgs("TSLA"))
		assert.True(t, routing.IsRateLimited(err))
	})

	t.Run("其他状态码视为调用失败", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		src := newSource(srv)

		_, err := src.Fetch(context.Background(), routing.MethodNews, routing.NewArgs("TSLA"))
		require.Error(t, err)
		assert.False(t, routing.IsRateLimited(err))
		assert.True(t, apperr.HasCode(err, apperr.CodeProviderCallFailed))
	})

	t.Run("空响应是有效结果", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		src := newSource(srv)

		text, err := src.Fetch(context.Background(), routing.MethodNews, routing.NewArgs("TSLA"))
		require.NoError(t, err)
		assert.Equal(t, "", text)
	})
}

func TestSourceBinding(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("av:" + r.URL.Query().Get("symbol")))
	})
	src := newSource(srv)

	_, ok := src.BindingFor(routing.MethodNews, routing.ProviderGoogle)
	assert.False(t, ok, "其他供应商")
	_, ok = src.BindingFor(routing.MethodStockData, routing.ProviderAlphaVantage)
	assert.False(t, ok, "未配置的方法")

	reg, err := routing.BuildCatalog(src)
	require.NoError(t, err)
	assert.Equal(t, []routing.Method{routing.MethodNews}, reg.Methods())

	ex := routing.NewExecutor(reg, routing.NewResolver(reg, routing.Settings{}), &routing.Recorder{})
	text, err := ex.Execute(context.Background(), routing.MethodNews, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "av:MSFT", text)
}

func TestFromConfig(t *testing.T) {
	sources := FromConfig(map[string]config.SourceConfig{
		"yfinance":      {Enabled: true},
		"alpha_vantage": {Enabled: true},
		"google":        {Enabled: false},
	})
	require.Len(t, sources, 2)
	assert.Equal(t, routing.ProviderAlphaVantage, sources[0].Provider())
	assert.Equal(t, routing.ProviderYFinance, sources[1].Provider())
}
