package summaryview

import (
	"context"
	"database/sql"
	"fmt"

	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/services/aggregate"

	_ "modernc.org/sqlite"
)

// SummaryView 是评估汇总查询结果。
type SummaryView struct {
	Overview   *model.SessionOverview `json:"overview,omitempty"`
	RiskScores []model.ServiceRisk    `json:"risk_scores,omitempty"`
}

// ResultsView 是检查结果明细查询结果。
type ResultsView struct {
	Overview *model.SessionOverview `json:"overview,omitempty"`
	Results  []model.ResultInfo     `json:"results"`
}

// GetSummaryView 查询指定会话（为空时取最新）的评估汇总和服务风险评分。
// 还没有任何评估历史时 Overview 为空，不视为错误。
func GetSummaryView(ctx context.Context, dbPath, sessionID string) (*SummaryView, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	var overview *model.SessionOverview
	if sessionID != "" {
		overview, err = store.GetSessionOverview(ctx, sessionID)
	} else {
		overview, err = store.GetLatestSessionOverview(ctx)
	}
	if err != nil {
		return nil, err
	}
	if overview == nil {
		return &SummaryView{}, nil
	}

	results, err := store.ListResults(ctx, model.ResultFilter{SessionID: overview.SessionID})
	if err != nil {
		return nil, err
	}
	batch := resultInfosToResults(results)

	return &SummaryView{
		Overview:   overview,
		RiskScores: aggregate.ServiceRiskScores(batch),
	}, nil
}

// GetResultsView 按过滤条件查询检查结果明细。
// filter.SessionID 为空时默认限定到最新会话，避免跨会话混排。
func GetResultsView(ctx context.Context, dbPath string, filter model.ResultFilter) (*ResultsView, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	var overview *model.SessionOverview
	if filter.SessionID != "" {
		overview, err = store.GetSessionOverview(ctx, filter.SessionID)
	} else {
		overview, err = store.GetLatestSessionOverview(ctx)
		if err == nil && overview != nil && filter.SinceDays <= 0 {
			filter.SessionID = overview.SessionID
		}
	}
	if err != nil {
		return nil, err
	}

	results, err := store.ListResults(ctx, filter)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.ResultInfo{}
	}

	return &ResultsView{
		Overview: overview,
		Results:  results,
	}, nil
}

// GetTrendReport 查询时间窗口内的趋势结论。
func GetTrendReport(ctx context.Context, dbPath string, windowDays int) (*model.TrendReport, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	points, err := store.ListTrendPoints(ctx, windowDays)
	if err != nil {
		return nil, err
	}

	report := aggregate.ComputeTrends(windowDays, points)
	return &report, nil
}

// resultInfosToResults 把查询行还原为风险评分计算需要的最小结果结构。
func resultInfosToResults(rows []model.ResultInfo) []model.ComplianceResult {
	out := make([]model.ComplianceResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.ComplianceResult{
			BaselineID:  row.BaselineID,
			ServiceName: model.ServiceName(row.Service),
			Status:      model.ComplianceStatus(row.Status),
			RiskLevel:   model.CriticalityLevel(row.RiskLevel),
		})
	}
	return out
}
