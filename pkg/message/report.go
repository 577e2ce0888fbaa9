package message

import (
	"fmt"

	"marketroute/pkg/routing"
)

// FromReport 把一次执行报告转换为结果消息
func FromReport(producer, job string, report *routing.Report, args routing.Args) *RouteMessage {
	meta := MessageMetadata{
		Method: string(report.Method),
		Job:    job,
		Args:   stringArgs(args),
	}

	seen := make(map[routing.ProviderID]bool)
	for _, rec := range report.Attempts {
		summary := AttemptSummary{
			Provider:   string(rec.Provider),
			Role:       string(rec.Role),
			Status:     string(rec.Status),
			DurationMs: rec.Duration.Milliseconds(),
		}
		if rec.Err != nil {
			summary.Error = rec.Err.Error()
		}
		meta.Attempts = append(meta.Attempts, summary)

		if rec.Status == routing.StatusSuccess && !seen[rec.Provider] {
			seen[rec.Provider] = true
			meta.Providers = append(meta.Providers, string(rec.Provider))
		}
	}
	return NewRouteMessage(producer, meta, report.Text)
}

func stringArgs(args routing.Args) []string {
	if len(args.Positional) == 0 {
		return nil
	}
	out := make([]string, 0, len(args.Positional))
	for i := range args.Positional {
		s, _ := args.String(i)
		out = append(out, s)
	}
	return out
}

// Summary 返回便于日志输出的简短描述
func (m *RouteMessage) Summary() string {
	return fmt.Sprintf("%s providers=%v bytes=%d", m.Metadata.Method, m.Metadata.Providers, len(m.Payload))
}
