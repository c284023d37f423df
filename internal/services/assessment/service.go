package assessment

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/app"
	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/id"
	"scuba-assessor/internal/services/aggregate"
	"scuba-assessor/internal/services/checker"

	_ "modernc.org/sqlite"
)

// Options 定义一次合规评估的输入参数。
type Options struct {
	DBPath       string
	Services     []string // 为空评估全部服务
	Parallel     bool     // 并发执行开关；关闭时单 worker 顺序执行
	Workers      int
	CheckTimeout time.Duration
	CheckRetries int
	GAMBinary    string
	Operator     string

	// Runner 可注入假实现用于测试，为空时使用本机 gam。
	Runner gamrun.Runner
}

// FailedCheck 记录一条未能得出有效判定的基线。
type FailedCheck struct {
	BaselineID string `json:"baseline_id"`
	Reason     string `json:"reason"`
}

// Result 定义一次评估的摘要输出。
type Result struct {
	SessionID     string                  `json:"session_id"`
	TotalIntended int                     `json:"total_intended"`
	TotalAssessed int                     `json:"total_assessed"`
	Summary       model.AssessmentSummary `json:"-"`
	CompliancePct float64                 `json:"compliance_pct"`
	RiskScores    []model.ServiceRisk     `json:"risk_scores,omitempty"`
	Failed        []FailedCheck           `json:"failed,omitempty"`
	Warnings      []string                `json:"warnings,omitempty"`
	ReportID      string                  `json:"report_id,omitempty"`
	ReportPath    string                  `json:"report_path,omitempty"`
	StartedAt     int64                   `json:"started_at"`
	FinishedAt    int64                   `json:"finished_at"`
}

// Run 执行评估主流程：
// 1) 准备数据库并迁移建表
// 2) 加载启用基线（确定性排序）
// 3) 有界并发分发检查，结果即查即存
// 4) 汇总计算并写入历史行
// 5) 生成内部报告与审计日志
func Run(ctx context.Context, opts Options) (*Result, error) {
	defaults := app.DefaultConfig()
	if opts.DBPath == "" {
		opts.DBPath = defaults.DBPath
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = defaults.CheckTimeout
	}
	if opts.CheckRetries <= 0 {
		opts.CheckRetries = defaults.CheckRetries
	}
	if opts.Runner == nil {
		opts.Runner = gamrun.NewCLIRunner(opts.GAMBinary)
	}
	workers := opts.Workers
	if !opts.Parallel {
		workers = 1
	}

	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	// 内部单机工具优先稳定性：SQLite 用单连接 + busy_timeout 减少“database is locked”。
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrator := sqliteadapter.NewMigrator(db)
	if err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	sessionID := id.New("session")
	started := time.Now()

	// 基线目录不可读是整次评估的硬错误：没有目录就没有可信的评估范围。
	baselines, err := store.LoadBaselines(ctx, opts.Services)
	if err != nil {
		_ = store.AppendAudit(ctx, sessionID, "assessment", "load_catalog", "failed", opts.Operator, "assessment.Run", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}

	_ = store.AppendAudit(ctx, sessionID, "assessment", "run_start", "started", opts.Operator, "assessment.Run", map[string]any{
		"baselines": len(baselines),
		"services":  opts.Services,
		"parallel":  opts.Parallel,
		"workers":   workers,
	})

	warnings := []string{}
	var skipped []FailedCheck
	if len(baselines) == 0 {
		warnings = append(warnings, "no baselines assessed: catalog returned an empty set")
	}

	// 取消语义：停止分发新基线，但允许在途检查完成并落库。
	// 因此检查与落库使用脱离取消信号的 context，分发循环单独观察 ctx。
	detached := context.WithoutCancel(ctx)

	dispatcher := checker.NewDispatcher(checker.Config{
		Timeout: opts.CheckTimeout,
		Retries: opts.CheckRetries,
	}, store, opts.Runner)

	jobs := make(chan model.Baseline)
	resultsCh := make(chan model.ComplianceResult)
	skippedCh := make(chan []FailedCheck, 1)

	go func() {
		defer close(jobs)
		var missed []FailedCheck
		for i, b := range baselines {
			select {
			case jobs <- b:
			case <-ctx.Done():
				for _, rest := range baselines[i:] {
					missed = append(missed, FailedCheck{
						BaselineID: rest.BaselineID,
						Reason:     "run cancelled before dispatch",
					})
				}
				skippedCh <- missed
				return
			}
		}
		skippedCh <- missed
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				resultsCh <- dispatcher.Dispatch(detached, sessionID, b)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	// 单收集协程串行落库：既满足单连接纪律，也保证“边出边存”。
	// 单条写失败只告警不终止，剩余基线的数据可用性优先于整体原子性。
	var batch []model.ComplianceResult
	for r := range resultsCh {
		if err := store.InsertResult(detached, r); err != nil {
			warnings = append(warnings, fmt.Sprintf("%v: %s: %v", model.ErrPersistenceWriteFailure, r.BaselineID, err))
			_ = store.AppendAudit(detached, sessionID, "assessment", "persist_result", "failed", opts.Operator, "assessment.Run", map[string]any{
				"baseline_id": r.BaselineID,
				"error":       err.Error(),
			})
		}
		batch = append(batch, r)
	}
	skipped = <-skippedCh

	finished := time.Now()
	summary := aggregate.Summarize(batch)
	summary.SessionID = sessionID
	summary.StartedAt = started.Unix()
	summary.FinishedAt = finished.Unix()
	summary.DurationSeconds = finished.Sub(started).Seconds()

	// 历史行承载趋势数据，写失败先重试一次，仍失败则升级为运行级警告。
	if err := store.InsertSummary(detached, summary); err != nil {
		if retryErr := store.InsertSummary(detached, summary); retryErr != nil {
			warnings = append(warnings, fmt.Sprintf("%v: summary: %v", model.ErrPersistenceWriteFailure, retryErr))
			_ = store.AppendAudit(detached, sessionID, "assessment", "persist_summary", "failed", opts.Operator, "assessment.Run", map[string]any{"error": retryErr.Error()})
		}
	}

	failed := append([]FailedCheck{}, skipped...)
	for _, r := range batch {
		if r.Status == model.StatusUnableToCheck {
			failed = append(failed, FailedCheck{
				BaselineID: r.BaselineID,
				Reason:     r.GapDescription,
			})
		}
	}

	riskScores := aggregate.ServiceRiskScores(batch)

	out := &Result{
		SessionID:     sessionID,
		TotalIntended: len(baselines),
		TotalAssessed: summary.TotalAssessed,
		Summary:       summary,
		CompliancePct: summary.CompliancePct,
		RiskScores:    riskScores,
		Failed:        failed,
		Warnings:      warnings,
		StartedAt:     started.Unix(),
		FinishedAt:    finished.Unix(),
	}

	// 内部报告（JSON + HTML），失败不阻断评估结果。
	jsonPath, jsonHash, jsonErr := writeInternalJSONReport(opts.DBPath, out, batch)
	if jsonErr == nil {
		out.ReportPath = jsonPath
		out.ReportID, _ = store.SaveReport(detached, sessionID, "internal_json", jsonPath, jsonHash, "assessment-"+app.Version, "ready")
	} else {
		out.Warnings = append(out.Warnings, "write internal_json report failed: "+jsonErr.Error())
	}
	htmlPath, htmlHash, htmlErr := writeInternalHTMLReport(opts.DBPath, out, batch)
	if htmlErr == nil {
		_, _ = store.SaveReport(detached, sessionID, "internal_html", htmlPath, htmlHash, "assessment-"+app.Version, "ready")
	} else {
		out.Warnings = append(out.Warnings, "write internal_html report failed: "+htmlErr.Error())
	}

	status := "success"
	if len(out.Warnings) > 0 || len(skipped) > 0 {
		status = "partial"
	}
	_ = store.AppendAudit(detached, sessionID, "assessment", "run_finish", status, opts.Operator, "assessment.Run", map[string]any{
		"total_intended": out.TotalIntended,
		"total_assessed": out.TotalAssessed,
		"compliance_pct": out.CompliancePct,
		"failed":         len(out.Failed),
		"warnings":       len(out.Warnings),
	})

	return out, nil
}
