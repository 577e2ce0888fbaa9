// Package local 从本地目录读取预先准备的数据文件，作为 "local" 供应商。
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperr "marketroute/pkg/error"
	"marketroute/pkg/routing"
)

// Source 本地文件数据源，文件路径为 <dir>/<method>/<第一个参数>.txt
type Source struct {
	dir string
}

// New 创建本地数据源
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Dir 返回数据目录
func (s *Source) Dir() string {
	return s.dir
}

// BindingFor 实现 routing.BindingSource，只为 local 供应商提供实现
func (s *Source) BindingFor(method routing.Method, provider routing.ProviderID) (routing.Binding, bool) {
	if provider != routing.LocalProvider || s.dir == "" {
		return nil, false
	}
	return routing.Binding{{
		Name: fmt.Sprintf("local.%s", method),
		Fn: func(ctx context.Context, args routing.Args) (any, error) {
			return s.Read(ctx, method, args)
		},
	}}, true
}

// Read 读取方法与首个参数对应的文件
func (s *Source) Read(ctx context.Context, method routing.Method, args routing.Args) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, ok := args.String(0)
	if !ok || key == "" {
		return "", apperr.Newf(apperr.CodeProviderCallFailed, "local %s requires a key argument", method)
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", apperr.Newf(apperr.CodeProviderCallFailed, "invalid local key %q", key)
	}

	path := filepath.Join(s.dir, string(method), key+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("read local data for %s failed", method)
		if errors.Is(err, fs.ErrNotExist) {
			msg = fmt.Sprintf("no local data for %s/%s", method, key)
		}
		return "", apperr.WrapError(apperr.CodeProviderCallFailed, msg, err).WithContext("path", path)
	}
	return string(data), nil
}
