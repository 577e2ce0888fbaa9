package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Call 描述一次受限流保护的调用
// Name 标识被调用的函数，与参数一起决定缓存指纹
type Call struct {
	Name   string
	Args   []any
	Kwargs map[string]any
	Fn     func(ctx context.Context) (any, error)
}

// Option 单次调用的选项
type Option func(*callOptions)

type callOptions struct {
	estimatedTokens int
	cacheEnabled    bool
	maxRetries      int
}

func defaultCallOptions() callOptions {
	return callOptions{cacheEnabled: true}
}

// WithEstimatedTokens 指定本次调用的预估 token 数，不指定时按参数长度估算
func WithEstimatedTokens(n int) Option {
	return func(o *callOptions) {
		o.estimatedTokens = n
	}
}

// WithCache 开启或关闭本次调用的结果缓存，默认开启
func WithCache(enabled bool) Option {
	return func(o *callOptions) {
		o.cacheEnabled = enabled
	}
}

// WithMaxRetries 覆盖本次调用的最大尝试次数，1 表示限流时不重试
func WithMaxRetries(n int) Option {
	return func(o *callOptions) {
		o.maxRetries = n
	}
}

// Fingerprint 计算调用的缓存指纹，关键字参数与顺序无关
func Fingerprint(call Call) string {
	h := sha256.New()
	h.Write([]byte(call.Name))
	h.Write([]byte{0})
	h.Write(encodeArgs(call.Args))
	h.Write([]byte{0})

	keys := make([]string, 0, len(call.Kwargs))
	for k := range call.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(encodeArgs([]any{call.Kwargs[k]}))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// encodeArgs 优先使用 JSON 编码，无法编码的值退回到 %#v 表示
func encodeArgs(args []any) []byte {
	if b, err := json.Marshal(args); err == nil {
		return b
	}
	return []byte(fmt.Sprintf("%#v", args))
}

// EstimateTokens 估算调用消耗的 token 数
// 这是近似值：字符串参数以空格连接后的长度按每 4 个字符 1 个 token 计算，再加 10 个 token 余量；
// 连接结果为空（没有字符串参数或只有空字符串）时按 1000 计。关键字参数不参与估算。
func EstimateTokens(args []any) int {
	chars := 0
	strs := 0
	for _, a := range args {
		if s, ok := a.(string); ok {
			chars += len(s)
			strs++
		}
	}
	if strs > 1 {
		chars += strs - 1
	}
	if chars == 0 {
		return 1000
	}
	return chars/4 + 10
}
