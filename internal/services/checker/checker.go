package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/id"
)

// Config 是检查执行参数。零值字段回退到默认值。
type Config struct {
	Timeout time.Duration // 单条命令超时，默认 30s
	Retries int           // 瞬时失败的最大尝试次数，默认 3
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	return c
}

// ServiceToggle 查询服务启用开关。由 sqlite store 实现。
type ServiceToggle interface {
	IsServiceEnabled(ctx context.Context, service string) (bool, error)
}

// Executor 按检查方式执行单条基线判定。
// 实现必须自行消化内部错误，永远返回一条可落库的结果。
type Executor interface {
	Check(ctx context.Context, b model.Baseline) model.ComplianceResult
}

// Dispatcher 根据基线的检查方式路由到对应执行器。
type Dispatcher struct {
	cfg       Config
	toggles   ServiceToggle
	executors map[model.CheckType]Executor
}

// NewDispatcher 构造固定的执行器注册表。
// audit_log 与 api_check 当前落到人工复核占位执行器，未来替换为真实实现。
func NewDispatcher(cfg Config, toggles ServiceToggle, runner gamrun.Runner) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:     cfg,
		toggles: toggles,
		executors: map[model.CheckType]Executor{
			model.CheckConfiguration: &configurationExecutor{cfg: cfg, runner: runner},
			model.CheckAuditLog:      &deferredExecutor{method: "audit_log_analysis", note: "requires audit log analysis, review manually"},
			model.CheckAPI:           &deferredExecutor{method: "api_call", note: "requires admin api query, review manually"},
			model.CheckManual:        &manualExecutor{},
		},
	}
}

// Dispatch 执行一条基线检查并返回结果。
// 该方法对任何输入都返回结果而不是 error：异常路径也要留痕。
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, b model.Baseline) (out model.ComplianceResult) {
	defer func() {
		if rec := recover(); rec != nil {
			out = newResult(b, model.StatusUnableToCheck)
			out.Confidence = model.ConfidenceLow
			out.GapDescription = "internal error during check execution"
			out.CheckMethod = "error"
			out.EvidenceJSON = mustEvidence(map[string]any{
				"error": fmt.Sprintf("panic: %v", rec),
			})
		}
		out.SessionID = sessionID
		if out.ID == "" {
			out.ID = id.New("res")
		}
		if out.AssessedAt == 0 {
			out.AssessedAt = time.Now().Unix()
		}
	}()

	// 服务停用时直接判 not_applicable，不触发任何外部调用。
	enabled, err := d.toggles.IsServiceEnabled(ctx, string(b.ServiceName))
	if err == nil && !enabled {
		out = newResult(b, model.StatusNotApplicable)
		out.RiskLevel = model.CriticalityLow
		out.Confidence = model.ConfidenceHigh
		out.CheckMethod = "configuration_check"
		out.EvidenceJSON = mustEvidence(map[string]any{
			"note": fmt.Sprintf("service %s is disabled", b.ServiceName),
		})
		return out
	}
	// 开关查询失败按启用处理：宁可多查一条，也不能静默漏检。

	exec, ok := d.executors[b.CheckType]
	if !ok {
		out = newResult(b, model.StatusUnableToCheck)
		out.Confidence = model.ConfidenceLow
		out.GapDescription = fmt.Sprintf("unsupported check type: %s", b.CheckType)
		out.CheckMethod = "error"
		out.EvidenceJSON = mustEvidence(map[string]any{
			"error":      model.ErrUnsupportedCheckType.Error(),
			"check_type": string(b.CheckType),
		})
		return out
	}

	return exec.Check(ctx, b)
}

// newResult 填充所有执行路径共用的结果字段。
// 风险等级默认跟随基线重要程度，特殊路径再覆盖。
func newResult(b model.Baseline, status model.ComplianceStatus) model.ComplianceResult {
	return model.ComplianceResult{
		BaselineID:    b.BaselineID,
		ServiceName:   b.ServiceName,
		Status:        status,
		ExpectedValue: truncateText(b.Expected, 500),
		RiskLevel:     b.Criticality,
		AssessedAt:    time.Now().Unix(),
	}
}

func mustEvidence(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// truncateText 将超长文本截断到指定长度，保留提示后缀。
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// containsFold 判断 haystack 是否包含 needle（大小写无关，两侧去空白）。
func containsFold(haystack, needle string) bool {
	return strings.Contains(
		strings.ToLower(strings.TrimSpace(haystack)),
		strings.ToLower(strings.TrimSpace(needle)),
	)
}
