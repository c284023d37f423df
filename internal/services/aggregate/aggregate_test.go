package aggregate

import (
	"testing"

	"scuba-assessor/internal/domain/model"
)

func mkResult(svc model.ServiceName, status model.ComplianceStatus, risk model.CriticalityLevel) model.ComplianceResult {
	return model.ComplianceResult{
		BaselineID:  "GWS.TEST.1.1",
		ServiceName: svc,
		Status:      status,
		RiskLevel:   risk,
	}
}

func TestSummarize_CountsAndServices(t *testing.T) {
	var results []model.ComplianceResult
	for i := 0; i < 7; i++ {
		results = append(results, mkResult(model.ServiceGmail, model.StatusCompliant, model.CriticalityLow))
	}
	for i := 0; i < 3; i++ {
		results = append(results, mkResult(model.ServiceDrive, model.StatusNonCompliant, model.CriticalityCritical))
	}
	for i := 0; i < 5; i++ {
		results = append(results, mkResult(model.ServiceGmail, model.StatusManualReview, model.CriticalityMedium))
	}

	sum := Summarize(results)
	if sum.TotalAssessed != 15 {
		t.Fatalf("total assessed = %d, want 15", sum.TotalAssessed)
	}
	if got := sum.StatusCounts[model.StatusCompliant]; got != 7 {
		t.Fatalf("compliant = %d, want 7", got)
	}
	if got := sum.StatusCounts[model.StatusNonCompliant]; got != 3 {
		t.Fatalf("non_compliant = %d, want 3", got)
	}
	if got := sum.StatusCounts[model.StatusManualReview]; got != 5 {
		t.Fatalf("manual_review = %d, want 5", got)
	}
	if got := sum.RiskCounts[model.CriticalityCritical]; got != 3 {
		t.Fatalf("critical = %d, want 3", got)
	}
	// manual_review 不进分母：7/(7+3)=70.0
	if sum.CompliancePct != 70.0 {
		t.Fatalf("compliance pct = %v, want 70.0", sum.CompliancePct)
	}
	want := []model.ServiceName{model.ServiceDrive, model.ServiceGmail}
	if len(sum.ServicesAssessed) != len(want) {
		t.Fatalf("services = %v, want %v", sum.ServicesAssessed, want)
	}
	for i, svc := range want {
		if sum.ServicesAssessed[i] != svc {
			t.Fatalf("services = %v, want %v", sum.ServicesAssessed, want)
		}
	}
}

func TestCompliancePercentage(t *testing.T) {
	cases := []struct {
		compliant, nonCompliant int
		want                    float64
	}{
		{7, 3, 70.0},
		{0, 0, 0.0},
		{0, 5, 0.0},
		{5, 0, 100.0},
		{1, 2, 33.3},
		{2, 1, 66.7},
	}
	for _, c := range cases {
		if got := CompliancePercentage(c.compliant, c.nonCompliant); got != c.want {
			t.Fatalf("CompliancePercentage(%d, %d) = %v, want %v", c.compliant, c.nonCompliant, got, c.want)
		}
	}
}

func TestRiskScore(t *testing.T) {
	if got := RiskScore(4, 1); got != 65 {
		t.Fatalf("RiskScore(4,1) = %d, want 65", got)
	}
	if got := RiskScore(10, 0); got != 100 {
		t.Fatalf("RiskScore(10,0) = %d, want 100 (cap)", got)
	}
	if got := RiskScore(3, 4); got != 100 {
		t.Fatalf("RiskScore(3,4) = %d, want 100 (cap)", got)
	}
	if got := RiskScore(0, 0); got != 0 {
		t.Fatalf("RiskScore(0,0) = %d, want 0", got)
	}
}

func TestServiceRiskScores_OnlyNonCompliantCount(t *testing.T) {
	results := []model.ComplianceResult{
		mkResult(model.ServiceGmail, model.StatusNonCompliant, model.CriticalityCritical),
		mkResult(model.ServiceGmail, model.StatusNonCompliant, model.CriticalityHigh),
		mkResult(model.ServiceGmail, model.StatusCompliant, model.CriticalityCritical),
		mkResult(model.ServiceDrive, model.StatusNonCompliant, model.CriticalityLow),
		mkResult(model.ServiceChat, model.StatusManualReview, model.CriticalityCritical),
	}

	scores := ServiceRiskScores(results)
	if len(scores) != 2 {
		t.Fatalf("expected 2 services with risk, got %d: %+v", len(scores), scores)
	}
	// gmail: 2*10 + 1*25 = 45，排第一
	if scores[0].Service != model.ServiceGmail || scores[0].Score != 45 {
		t.Fatalf("top risk = %+v, want gmail/45", scores[0])
	}
	if scores[0].NonCompliant != 2 || scores[0].CriticalIssues != 1 {
		t.Fatalf("gmail tally = %+v", scores[0])
	}
	if scores[1].Service != model.ServiceDrive || scores[1].Score != 10 {
		t.Fatalf("second risk = %+v, want drive/10", scores[1])
	}
}

func TestComputeTrends_Improving(t *testing.T) {
	report := ComputeTrends(30, []model.TrendPoint{
		{CompliancePct: 60.0, CriticalOpen: 3},
		{CompliancePct: 68.5, CriticalOpen: 2},
		{CompliancePct: 75.0, CriticalOpen: 1},
	})
	if report.Direction != "improving" {
		t.Fatalf("direction = %s, want improving", report.Direction)
	}
	if report.ComplianceChange != 15.0 {
		t.Fatalf("compliance change = %v, want 15.0", report.ComplianceChange)
	}
	if report.CriticalDirection != "improving" {
		t.Fatalf("critical direction = %s, want improving", report.CriticalDirection)
	}
	if report.CriticalChange != -2 {
		t.Fatalf("critical change = %d, want -2", report.CriticalChange)
	}
}

func TestComputeTrends_EqualPctIsDeclining(t *testing.T) {
	// 合规率持平按 declining 处理，调用方依赖这个判向。
	report := ComputeTrends(30, []model.TrendPoint{
		{CompliancePct: 80.0, CriticalOpen: 2},
		{CompliancePct: 80.0, CriticalOpen: 2},
	})
	if report.Direction != "declining" {
		t.Fatalf("direction = %s, want declining", report.Direction)
	}
	if report.CriticalDirection != "worsening" {
		t.Fatalf("critical direction = %s, want worsening", report.CriticalDirection)
	}
	if report.ComplianceChange != 0.0 {
		t.Fatalf("compliance change = %v, want 0.0", report.ComplianceChange)
	}
}

func TestComputeTrends_TooFewPointsIsStable(t *testing.T) {
	report := ComputeTrends(0, []model.TrendPoint{{CompliancePct: 50.0}})
	if report.Direction != "stable" || report.CriticalDirection != "stable" {
		t.Fatalf("expected stable/stable, got %s/%s", report.Direction, report.CriticalDirection)
	}
	if report.WindowDays != 30 {
		t.Fatalf("window days default = %d, want 30", report.WindowDays)
	}
}
