package model

import "encoding/json"

// ComplianceStatus 表示单项检查的判定结果。
type ComplianceStatus string

const (
	// StatusCompliant 配置满足基线要求。
	StatusCompliant ComplianceStatus = "compliant"
	// StatusNonCompliant 配置不满足基线要求。
	StatusNonCompliant ComplianceStatus = "non_compliant"
	// StatusNotApplicable 服务未启用，本项不适用。
	StatusNotApplicable ComplianceStatus = "not_applicable"
	// StatusUnableToCheck 检查过程失败，无法给出判定。
	StatusUnableToCheck ComplianceStatus = "unable_to_check"
	// StatusManualReview 需要管理员人工核查。
	StatusManualReview ComplianceStatus = "manual_review"
)

// ConfidenceLevel 表示判定结果的可信程度。
type ConfidenceLevel string

const (
	// ConfidenceLow 低可信度（人工项、无法自动验证）。
	ConfidenceLow ConfidenceLevel = "low"
	// ConfidenceMedium 中可信度（部分自动化或检查失败）。
	ConfidenceMedium ConfidenceLevel = "medium"
	// ConfidenceHigh 高可信度（完整自动化比对）。
	ConfidenceHigh ConfidenceLevel = "high"
)

// ComplianceResult 表示一条只追加的检查结果（对应 compliance_results 表）。
type ComplianceResult struct {
	ID             string           // 结果 ID
	SessionID      string           // 所属评估会话
	BaselineID     string           // 关联基线
	ServiceName    ServiceName      // 冗余存储，便于过滤
	Status         ComplianceStatus // 判定结果
	CurrentValue   string           // 实际观测值（截断到 500 字符）
	ExpectedValue  string           // 期望值
	GapDescription string           // 差距说明，仅在不合规/异常时填写
	RiskLevel      CriticalityLevel // 风险等级
	Confidence     ConfidenceLevel  // 可信度
	CheckMethod    string           // 检查手段，例如 gam_command / manual
	EvidenceJSON   json.RawMessage  // 证据细节 JSON
	AssessedAt     int64            // 判定时间（Unix 秒）
	RecordHash     string           // 字段级留痕哈希
}

// AssessmentSummary 表示一次评估会话的汇总（对应 assessment_history 表）。
type AssessmentSummary struct {
	SessionID        string         // 会话 ID
	StartedAt        int64          // 开始时间（Unix 秒）
	FinishedAt       int64          // 结束时间（Unix 秒）
	TotalAssessed    int            // 实际完成检查的基线数
	StatusCounts     map[ComplianceStatus]int
	RiskCounts       map[CriticalityLevel]int
	CompliancePct    float64        // 合规率，0.0~100.0，保留一位小数
	ServicesAssessed []ServiceName  // 涉及的服务集合（有序去重）
	DurationSeconds  float64        // 运行时长
}

// NewStatusCounts 返回五个状态桶均为零的计数表。
func NewStatusCounts() map[ComplianceStatus]int {
	return map[ComplianceStatus]int{
		StatusCompliant:     0,
		StatusNonCompliant:  0,
		StatusNotApplicable: 0,
		StatusUnableToCheck: 0,
		StatusManualReview:  0,
	}
}

// NewRiskCounts 返回四个风险桶均为零的计数表。
func NewRiskCounts() map[CriticalityLevel]int {
	return map[CriticalityLevel]int{
		CriticalityLow:      0,
		CriticalityMedium:   0,
		CriticalityHigh:     0,
		CriticalityCritical: 0,
	}
}

// ServiceRisk 表示单个服务的风险评分。
type ServiceRisk struct {
	Service        ServiceName `json:"service"`
	NonCompliant   int         `json:"non_compliant"`
	CriticalIssues int         `json:"critical_issues"`
	Score          int         `json:"score"` // 0~100
}

// TrendPoint 是趋势曲线上的一个历史点。
type TrendPoint struct {
	SessionID     string  `json:"session_id"`
	FinishedAt    int64   `json:"finished_at"`
	CompliancePct float64 `json:"compliance_pct"`
	CriticalOpen  int     `json:"critical_open"`
}

// TrendReport 表示一个时间窗口内的趋势结论。
type TrendReport struct {
	WindowDays        int          `json:"window_days"`
	Points            []TrendPoint `json:"points"`
	Direction         string       `json:"direction"`          // improving / declining / stable
	ComplianceChange  float64      `json:"compliance_change"`  // 最新点减最早点
	CriticalDirection string       `json:"critical_direction"` // improving / worsening / stable
	CriticalChange    int          `json:"critical_change"`
}
