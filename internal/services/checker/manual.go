package checker

import (
	"context"

	"scuba-assessor/internal/domain/model"
)

// manualExecutor 处理只能人工核查的基线项。
type manualExecutor struct{}

func (e *manualExecutor) Check(ctx context.Context, b model.Baseline) model.ComplianceResult {
	out := newResult(b, model.StatusManualReview)
	out.Confidence = model.ConfidenceLow
	out.CheckMethod = "manual"
	out.GapDescription = "manual verification required by an administrator"
	out.EvidenceJSON = mustEvidence(map[string]any{
		"requirement": b.Requirement,
		"remediation": b.Remediation,
	})
	return out
}

// deferredExecutor 是 audit_log / api_check 的占位实现。
// 这两类检查是一等扩展点：接入真实分析前先统一归入人工复核，
// 保证结果集覆盖全部基线而不是静默丢项。
type deferredExecutor struct {
	method string
	note   string
}

func (e *deferredExecutor) Check(ctx context.Context, b model.Baseline) model.ComplianceResult {
	out := newResult(b, model.StatusManualReview)
	out.Confidence = model.ConfidenceMedium
	out.CheckMethod = e.method
	out.GapDescription = e.note
	out.EvidenceJSON = mustEvidence(map[string]any{
		"note":         e.note,
		"api_endpoint": b.APIEndpoint,
	})
	return out
}
