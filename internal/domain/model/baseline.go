package model

import "encoding/json"

// ServiceName 表示 Google Workspace 服务名。
type ServiceName string

const (
	// ServiceGmail 邮件服务。
	ServiceGmail ServiceName = "gmail"
	// ServiceCalendar 日历服务。
	ServiceCalendar ServiceName = "calendar"
	// ServiceDrive 云端硬盘与共享文档服务。
	ServiceDrive ServiceName = "drive"
	// ServiceGroups 群组服务。
	ServiceGroups ServiceName = "groups"
	// ServiceChat 即时消息服务。
	ServiceChat ServiceName = "chat"
	// ServiceMeet 视频会议服务。
	ServiceMeet ServiceName = "meet"
	// ServiceSites 站点服务。
	ServiceSites ServiceName = "sites"
	// ServiceClassroom 课堂服务。
	ServiceClassroom ServiceName = "classroom"
	// ServiceCommonControls 域级通用管控（2SV、管理员权限等）。
	ServiceCommonControls ServiceName = "common_controls"
)

// KnownServices 返回目前支持评估的服务列表（固定顺序，便于展示）。
func KnownServices() []ServiceName {
	return []ServiceName{
		ServiceGmail, ServiceCalendar, ServiceDrive, ServiceGroups,
		ServiceChat, ServiceMeet, ServiceSites, ServiceClassroom,
		ServiceCommonControls,
	}
}

// CriticalityLevel 表示基线项的重要程度，决定不合规时的风险等级。
type CriticalityLevel string

const (
	// CriticalityLow 低风险项。
	CriticalityLow CriticalityLevel = "low"
	// CriticalityMedium 中风险项。
	CriticalityMedium CriticalityLevel = "medium"
	// CriticalityHigh 高风险项。
	CriticalityHigh CriticalityLevel = "high"
	// CriticalityCritical 最高风险项，不合规时单独计入危急统计。
	CriticalityCritical CriticalityLevel = "critical"
)

// SeverityRank 返回重要程度的排序权重（critical 最大）。
// 未知取值返回 0，排在最后。
func (c CriticalityLevel) SeverityRank() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 0
	}
}

// Valid 判断重要程度取值是否在枚举范围内。
func (c CriticalityLevel) Valid() bool {
	return c.SeverityRank() > 0
}

// CheckType 表示基线项的检查方式，决定由哪个执行器处理。
type CheckType string

const (
	// CheckConfiguration 通过外部命令行工具读取配置后比对。
	CheckConfiguration CheckType = "configuration"
	// CheckAuditLog 通过审计日志分析判定（当前归入人工复核）。
	CheckAuditLog CheckType = "audit_log"
	// CheckAPI 通过管理 API 查询判定（当前归入人工复核）。
	CheckAPI CheckType = "api_check"
	// CheckManual 只能由管理员人工核查的项。
	CheckManual CheckType = "manual"
)

// Valid 判断检查方式取值是否在枚举范围内。
func (t CheckType) Valid() bool {
	switch t {
	case CheckConfiguration, CheckAuditLog, CheckAPI, CheckManual:
		return true
	}
	return false
}

// Baseline 表示一条合规基线定义（对应 baselines 表）。
type Baseline struct {
	BaselineID  string           // 基线编号，例如 GWS.GMAIL.1.1
	ServiceName ServiceName      // 所属服务
	Title       string           // 标题
	Description string           // 背景说明
	Requirement string           // 合规要求原文
	Remediation string           // 整改步骤
	References  []string         // 参考链接（有序）
	Criticality CriticalityLevel // 重要程度
	CheckType   CheckType        // 检查方式
	GAMCommand  string           // configuration 类型使用的 GAM 命令
	APIEndpoint string           // api_check 类型预留的接口标识
	Expected    string           // 期望值（子串比对基准）
	CheckLogic  json.RawMessage  // 结构化检查参数，执行器按需解读
	Enabled     bool             // 是否参与评估
}

// BaselineBundle 是基线目录 YAML 文件的顶层结构。
type BaselineBundle struct {
	Version     string          `yaml:"version"`
	BundleType  string          `yaml:"bundle_type"`
	Maintainer  string          `yaml:"maintainer"`
	Description string          `yaml:"description"`
	Meta        BaselineMeta    `yaml:"meta"`
	Baselines   []BaselineEntry `yaml:"baselines"`
}

// BaselineMeta 保存基线目录的全局元信息。
type BaselineMeta struct {
	Framework string   `yaml:"framework"`
	Revision  string   `yaml:"revision"`
	Notes     []string `yaml:"notes"`
}

// BaselineEntry 是 YAML 中的单条基线定义，导入时转换为 Baseline。
type BaselineEntry struct {
	ID          string         `yaml:"id"`
	Enabled     bool           `yaml:"enabled"`
	Service     string         `yaml:"service"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Requirement string         `yaml:"requirement"`
	Remediation string         `yaml:"remediation"`
	References  []string       `yaml:"references"`
	Criticality string         `yaml:"criticality"`
	CheckType   string         `yaml:"check_type"`
	GAMCommand  string         `yaml:"gam_command"`
	APIEndpoint string         `yaml:"api_endpoint"`
	Expected    string         `yaml:"expected_value"`
	CheckLogic  map[string]any `yaml:"check_logic"`
}
