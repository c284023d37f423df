package model

import "encoding/json"

// ResultInfo 是给 UI/CLI 使用的检查结果明细结构。
type ResultInfo struct {
	ResultID       string `json:"result_id"`
	SessionID      string `json:"session_id"`
	BaselineID     string `json:"baseline_id"`
	Service        string `json:"service"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status"`
	CurrentValue   string `json:"current_value,omitempty"`
	ExpectedValue  string `json:"expected_value,omitempty"`
	GapDescription string `json:"gap_description,omitempty"`
	RiskLevel      string `json:"risk_level"`
	Confidence     string `json:"confidence"`
	CheckMethod    string `json:"check_method,omitempty"`
	EvidenceJSON   string `json:"evidence_json,omitempty"`
	AssessedAt     int64  `json:"assessed_at"`
}

// ResultFilter 约束结果查询的范围，零值表示不过滤。
type ResultFilter struct {
	SessionID string
	Service   string
	Status    string
	RiskLevel string
	SinceDays int
	Limit     int
}

// SessionOverview 是评估会话摘要，便于首页展示。
type SessionOverview struct {
	SessionID        string   `json:"session_id"`
	StartedAt        int64    `json:"started_at"`
	FinishedAt       int64    `json:"finished_at"`
	TotalAssessed    int      `json:"total_assessed"`
	Compliant        int      `json:"compliant"`
	NonCompliant     int      `json:"non_compliant"`
	NotApplicable    int      `json:"not_applicable"`
	UnableToCheck    int      `json:"unable_to_check"`
	ManualReview     int      `json:"manual_review"`
	CriticalIssues   int      `json:"critical_issues"`
	HighIssues       int      `json:"high_issues"`
	MediumIssues     int      `json:"medium_issues"`
	LowIssues        int      `json:"low_issues"`
	CompliancePct    float64  `json:"compliance_pct"`
	ServicesAssessed []string `json:"services_assessed,omitempty"`
	DurationSeconds  float64  `json:"duration_seconds"`
}

// ReportInfo 表示报告索引信息（reports 表）。
type ReportInfo struct {
	ReportID         string `json:"report_id"`
	SessionID        string `json:"session_id"`
	ReportType       string `json:"report_type"`
	FilePath         string `json:"file_path"`
	SHA256           string `json:"sha256"`
	GeneratedAt      int64  `json:"generated_at"`
	GeneratorVersion string `json:"generator_version"`
	Status           string `json:"status"`
}

// AuditLog 表示一条审计日志记录（audit_logs 表）。
type AuditLog struct {
	EventID       string          `json:"event_id"`
	SessionID     string          `json:"session_id"`
	EventType     string          `json:"event_type"`
	Action        string          `json:"action"`
	Status        string          `json:"status"`
	Actor         string          `json:"actor,omitempty"`
	Source        string          `json:"source,omitempty"`
	DetailJSON    json.RawMessage `json:"detail_json,omitempty"`
	OccurredAt    int64           `json:"occurred_at"`
	ChainPrevHash string          `json:"chain_prev_hash,omitempty"`
	ChainHash     string          `json:"chain_hash"`
}

// APISnapshot 表示一次环境安全状态快照（api_snapshots 表）。
type APISnapshot struct {
	SnapshotID  string          `json:"snapshot_id"`
	Source      string          `json:"source"`
	PayloadJSON json.RawMessage `json:"payload_json"`
	SHA256      string          `json:"sha256"`
	CollectedAt int64           `json:"collected_at"`
}
