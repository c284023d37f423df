package aggregate

import (
	"math"
	"sort"

	"scuba-assessor/internal/domain/model"
)

// Summarize 对一批检查结果做纯函数汇总，不读写任何外部状态。
// 会话 ID 和起止时间由调用方（编排器）补充。
func Summarize(results []model.ComplianceResult) model.AssessmentSummary {
	sum := model.AssessmentSummary{
		TotalAssessed: len(results),
		StatusCounts:  model.NewStatusCounts(),
		RiskCounts:    model.NewRiskCounts(),
	}

	serviceSet := make(map[model.ServiceName]struct{})
	for _, r := range results {
		if _, ok := sum.StatusCounts[r.Status]; ok {
			sum.StatusCounts[r.Status]++
		}
		// 枚举之外的风险取值直接忽略，不计入任何桶。
		if _, ok := sum.RiskCounts[r.RiskLevel]; ok {
			sum.RiskCounts[r.RiskLevel]++
		}
		if r.ServiceName != "" {
			serviceSet[r.ServiceName] = struct{}{}
		}
	}

	sum.CompliancePct = CompliancePercentage(
		sum.StatusCounts[model.StatusCompliant],
		sum.StatusCounts[model.StatusNonCompliant],
	)

	services := make([]model.ServiceName, 0, len(serviceSet))
	for svc := range serviceSet {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	sum.ServicesAssessed = services

	return sum
}

// CompliancePercentage 计算合规率：仅 compliant 与 non_compliant 进入分母，
// manual_review / unable_to_check / not_applicable 不参与。
// 分母为零时定义为 0.0，结果保留一位小数。
func CompliancePercentage(compliant, nonCompliant int) float64 {
	total := compliant + nonCompliant
	if total == 0 {
		return 0.0
	}
	pct := float64(compliant) / float64(total) * 100
	return math.Round(pct*10) / 10
}

// ServiceRiskScores 计算每个服务的风险评分。
// 评分模型刻意选用简单线性加权：不合规项每条 10 分，
// 其中危急项每条额外 25 分，上限 100。它只用于排序和提示，
// 不是统计意义上的校准分数。
func ServiceRiskScores(results []model.ComplianceResult) []model.ServiceRisk {
	type tally struct {
		nonCompliant int
		critical     int
	}
	byService := make(map[model.ServiceName]*tally)
	for _, r := range results {
		if r.Status != model.StatusNonCompliant {
			continue
		}
		t, ok := byService[r.ServiceName]
		if !ok {
			t = &tally{}
			byService[r.ServiceName] = t
		}
		t.nonCompliant++
		if r.RiskLevel == model.CriticalityCritical {
			t.critical++
		}
	}

	out := make([]model.ServiceRisk, 0, len(byService))
	for svc, t := range byService {
		out = append(out, model.ServiceRisk{
			Service:        svc,
			NonCompliant:   t.nonCompliant,
			CriticalIssues: t.critical,
			Score:          RiskScore(t.nonCompliant, t.critical),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Service < out[j].Service
	})
	return out
}

// RiskScore 是单服务风险评分公式：min(100, 不合规数*10 + 危急数*25)。
func RiskScore(nonCompliant, criticalIssues int) int {
	score := nonCompliant*10 + criticalIssues*25
	if score > 100 {
		score = 100
	}
	return score
}

// ComputeTrends 基于时间窗口内的历史点计算趋势方向。
// 历史点必须已按完成时间升序排列（store 层保证）。
//
// 注意判向规则：合规率只有“最新点严格大于最早点”才算 improving，
// 相等会被归为 declining。这是沿袭下来的行为，调用方已按此理解，
// 不要在这里“顺手修复”。
func ComputeTrends(windowDays int, points []model.TrendPoint) model.TrendReport {
	if windowDays <= 0 {
		windowDays = 30
	}
	report := model.TrendReport{
		WindowDays:        windowDays,
		Points:            points,
		Direction:         "stable",
		CriticalDirection: "stable",
	}
	if len(points) < 2 {
		return report
	}

	earliest := points[0]
	latest := points[len(points)-1]

	report.ComplianceChange = math.Round((latest.CompliancePct-earliest.CompliancePct)*10) / 10
	if latest.CompliancePct > earliest.CompliancePct {
		report.Direction = "improving"
	} else {
		report.Direction = "declining"
	}

	report.CriticalChange = latest.CriticalOpen - earliest.CriticalOpen
	if latest.CriticalOpen < earliest.CriticalOpen {
		report.CriticalDirection = "improving"
	} else {
		report.CriticalDirection = "worsening"
	}

	return report
}
