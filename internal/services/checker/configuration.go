package checker

import (
	"context"
	"fmt"
	"strings"

	"scuba-assessor/internal/adapters/gamrun"
	"scuba-assessor/internal/domain/model"
)

// configurationExecutor 通过 GAM 命令读取实际配置后与期望值比对。
type configurationExecutor struct {
	cfg    Config
	runner gamrun.Runner
}

func (e *configurationExecutor) Check(ctx context.Context, b model.Baseline) model.ComplianceResult {
	if b.GAMCommand == "" {
		out := newResult(b, model.StatusUnableToCheck)
		out.RiskLevel = model.CriticalityMedium
		out.Confidence = model.ConfidenceLow
		out.GapDescription = "no gam command defined for configuration check"
		out.CheckMethod = "error"
		out.EvidenceJSON = mustEvidence(map[string]any{
			"error": "missing gam_command",
		})
		return out
	}

	// 只对瞬时失败（超时/限流/网络抖动）重试，命令本身错误立即放弃。
	var last gamrun.Outcome
	attempts := 0
	for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
		attempts = attempt
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		last = e.runner.Execute(runCtx, b.GAMCommand)
		cancel()

		if last.OK || !gamrun.Transient(last) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !last.OK {
		out := newResult(b, model.StatusUnableToCheck)
		out.RiskLevel = model.CriticalityMedium
		out.Confidence = model.ConfidenceMedium
		out.GapDescription = truncateText("check command failed: "+last.ErrText, 500)
		out.CheckMethod = "gam_command"
		out.EvidenceJSON = mustEvidence(map[string]any{
			"error":     model.ErrExecutionFailure.Error(),
			"gam_error": last.ErrText,
			"command":   b.GAMCommand,
			"attempts":  attempts,
			"timed_out": last.TimedOut,
		})
		return out
	}

	actual := strings.TrimSpace(last.Stdout)
	out := newResult(b, model.StatusCompliant)
	out.CurrentValue = truncateText(actual, 500)
	out.Confidence = model.ConfidenceHigh
	out.CheckMethod = "gam_command"
	out.EvidenceJSON = mustEvidence(map[string]any{
		"command":  b.GAMCommand,
		"attempts": attempts,
	})

	// 期望值为空时空子串恒匹配，因此单独判为不合规。
	if b.Expected == "" || !containsFold(actual, b.Expected) {
		out.Status = model.StatusNonCompliant
		out.GapDescription = fmt.Sprintf(
			"expected %q, found %q",
			b.Expected, truncateText(actual, 100),
		)
	}
	return out
}
