package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"scuba-assessor/internal/adapters/catalog"
	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/app"
	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/services/assessment"
	"scuba-assessor/internal/services/catalogimport"
	"scuba-assessor/internal/services/reportpdf"
	"scuba-assessor/internal/services/snapshot"
	"scuba-assessor/internal/services/summaryview"
	"scuba-assessor/internal/services/webapp"

	_ "modernc.org/sqlite"
)

// CLI 入口。所有子命令错误都统一输出到 stderr 并返回非 0 状态码。
func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run 是一级命令路由：migrate / catalog / assess / query / export / verify / snapshot / serve。
func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runMigrate(ctx, args[1:])
	case "catalog":
		return runCatalog(ctx, args[1:])
	case "assess":
		return runAssess(ctx, args[1:])
	case "query":
		return runQuery(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "verify":
		return runVerify(ctx, args[1:])
	case "snapshot":
		return runSnapshot(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// runMigrate 执行 SQLite 迁移，确保数据库结构完整。
func runMigrate(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}

	m := sqliteadapter.NewMigrator(db)
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	fmt.Printf("migrations applied successfully: db=%s\n", *dbPath)
	return nil
}

// runCatalog 是二级命令路由：catalog validate / catalog import。
func runCatalog(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printCatalogUsage()
		return nil
	}

	switch args[0] {
	case "validate":
		return runCatalogValidate(ctx, args[1:])
	case "import":
		return runCatalogImport(ctx, args[1:])
	default:
		printCatalogUsage()
		return fmt.Errorf("unknown catalog command: %s", args[0])
	}
}

// runCatalogValidate 用于基线目录合法性检查，输出版本与哈希摘要。
func runCatalogValidate(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("catalog validate", flag.ContinueOnError)
	catalogPath := fs.String("catalog", cfg.CatalogPath, "baseline catalog file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := catalog.NewLoader(*catalogPath)
	loaded, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	enabled := 0
	perService := map[string]int{}
	for _, b := range loaded.Bundle.Baselines {
		if b.Enabled {
			enabled++
		}
		perService[b.Service]++
	}

	fmt.Println("catalog validation passed")
	fmt.Printf("catalog: version=%s framework=%s total=%d enabled=%d sha256=%s\n",
		loaded.Bundle.Version,
		loaded.Bundle.Meta.Framework,
		len(loaded.Bundle.Baselines),
		enabled,
		loaded.SHA256,
	)
	for svc, n := range perService {
		fmt.Printf("  service=%s baselines=%d\n", svc, n)
	}
	return nil
}

// runCatalogImport 将 YAML 基线目录导入数据库（同 ID 覆盖）。
func runCatalogImport(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("catalog import", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	catalogPath := fs.String("catalog", cfg.CatalogPath, "baseline catalog file")
	operator := fs.String("operator", "system", "operator id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := catalogimport.Run(ctx, catalogimport.Options{
		DBPath:      *dbPath,
		CatalogPath: *catalogPath,
		Operator:    *operator,
	})
	if err != nil {
		return err
	}

	fmt.Println("catalog import completed")
	fmt.Printf("catalog=%s version=%s imported=%d\n", res.CatalogPath, res.Version, res.Imported)
	fmt.Printf("catalog_sha256=%s\n", res.CatalogSHA256)
	return nil
}

// runAssess 执行一次合规评估全流程（加载基线 -> 执行检查 -> 落库 -> 汇总 -> 报告）。
func runAssess(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("assess", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	services := fs.String("services", "", "comma separated services to assess (default: all)")
	parallel := fs.Bool("parallel", true, "run checks concurrently")
	workers := fs.Int("workers", cfg.Workers, "max concurrent checks")
	timeout := fs.Duration("timeout", cfg.CheckTimeout, "per-check command timeout")
	retries := fs.Int("retries", cfg.CheckRetries, "per-check retries on transient failures")
	gamBinary := fs.String("gam", "", "gam binary path (default: gam in PATH)")
	operator := fs.String("operator", "system", "operator id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var serviceList []string
	for _, svc := range strings.Split(*services, ",") {
		svc = strings.TrimSpace(svc)
		if svc != "" {
			serviceList = append(serviceList, svc)
		}
	}

	// 支持 Ctrl+C：停止分发新检查，在途检查完成并落库后正常收尾。
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := assessment.Run(sigCtx, assessment.Options{
		DBPath:       *dbPath,
		Services:     serviceList,
		Parallel:     *parallel,
		Workers:      *workers,
		CheckTimeout: *timeout,
		CheckRetries: *retries,
		GAMBinary:    *gamBinary,
		Operator:     *operator,
	})
	if err != nil {
		return err
	}

	fmt.Println("assessment completed")
	fmt.Printf("session_id=%s\n", result.SessionID)
	fmt.Printf("intended=%d assessed=%d compliance_pct=%.1f\n",
		result.TotalIntended, result.TotalAssessed, result.CompliancePct)
	fmt.Printf("compliant=%d non_compliant=%d manual_review=%d unable_to_check=%d not_applicable=%d\n",
		result.Summary.StatusCounts["compliant"],
		result.Summary.StatusCounts["non_compliant"],
		result.Summary.StatusCounts["manual_review"],
		result.Summary.StatusCounts["unable_to_check"],
		result.Summary.StatusCounts["not_applicable"],
	)
	for _, rs := range result.RiskScores {
		fmt.Printf("risk: service=%s score=%d non_compliant=%d critical=%d\n",
			rs.Service, rs.Score, rs.NonCompliant, rs.CriticalIssues)
	}
	if result.ReportPath != "" {
		fmt.Printf("report=%s\n", result.ReportPath)
	}
	if len(result.Failed) > 0 {
		fmt.Printf("failed=%d\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("  %s: %s\n", f.BaselineID, f.Reason)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Printf("warnings=%s\n", strings.Join(result.Warnings, " | "))
	}
	return nil
}

// runQuery 是查询命令路由（汇总/结果明细/趋势展示）。
func runQuery(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printQueryUsage()
		return nil
	}
	switch args[0] {
	case "summary":
		return runQuerySummary(ctx, args[1:])
	case "results":
		return runQueryResults(ctx, args[1:])
	case "trends":
		return runQueryTrends(ctx, args[1:])
	default:
		printQueryUsage()
		return fmt.Errorf("unknown query command: %s", args[0])
	}
}

// runQuerySummary 查询会话汇总与服务风险评分，适合 UI 概览页。
func runQuerySummary(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("query summary", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	sessionID := fs.String("session-id", "", "session id (default: latest)")
	asJSON := fs.Bool("json", true, "print as json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	view, err := summaryview.GetSummaryView(ctx, *dbPath, strings.TrimSpace(*sessionID))
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(view)
	}

	if view.Overview == nil {
		fmt.Println("no assessment session found")
		return nil
	}
	ov := view.Overview
	fmt.Printf("session_id=%s compliance_pct=%.1f assessed=%d\n", ov.SessionID, ov.CompliancePct, ov.TotalAssessed)
	fmt.Printf("compliant=%d non_compliant=%d manual_review=%d unable_to_check=%d not_applicable=%d\n",
		ov.Compliant, ov.NonCompliant, ov.ManualReview, ov.UnableToCheck, ov.NotApplicable)
	fmt.Printf("critical=%d high=%d medium=%d low=%d\n",
		ov.CriticalIssues, ov.HighIssues, ov.MediumIssues, ov.LowIssues)
	for _, rs := range view.RiskScores {
		fmt.Printf("risk: service=%s score=%d non_compliant=%d critical=%d\n",
			rs.Service, rs.Score, rs.NonCompliant, rs.CriticalIssues)
	}
	return nil
}

// runQueryResults 查询检查结果明细，支持服务/状态/风险过滤。
func runQueryResults(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("query results", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	sessionID := fs.String("session-id", "", "session id (default: latest)")
	service := fs.String("service", "", "optional service filter")
	status := fs.String("status", "", "optional status filter")
	riskLevel := fs.String("risk-level", "", "optional risk level filter")
	days := fs.Int("days", 0, "look back N days instead of a single session")
	limit := fs.Int("limit", 200, "max rows")
	asJSON := fs.Bool("json", true, "print as json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	view, err := summaryview.GetResultsView(ctx, *dbPath, model.ResultFilter{
		SessionID: strings.TrimSpace(*sessionID),
		Service:   strings.TrimSpace(*service),
		Status:    strings.TrimSpace(*status),
		RiskLevel: strings.TrimSpace(*riskLevel),
		SinceDays: *days,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(view)
	}

	fmt.Printf("results=%d\n", len(view.Results))
	for _, r := range view.Results {
		fmt.Printf("%s | %s | %s | risk=%s | %s\n",
			r.BaselineID, r.Service, r.Status, r.RiskLevel, r.GapDescription)
	}
	return nil
}

// runQueryTrends 查询时间窗口内的合规趋势。
func runQueryTrends(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("query trends", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	days := fs.Int("days", 30, "trend window in days")
	asJSON := fs.Bool("json", true, "print as json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := summaryview.GetTrendReport(ctx, *dbPath, *days)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}

	fmt.Printf("window_days=%d points=%d\n", report.WindowDays, len(report.Points))
	fmt.Printf("compliance: direction=%s change=%.1f\n", report.Direction, report.ComplianceChange)
	fmt.Printf("critical: direction=%s change=%d\n", report.CriticalDirection, report.CriticalChange)
	for _, p := range report.Points {
		fmt.Printf("  %s finished_at=%d compliance_pct=%.1f critical_open=%d\n",
			p.SessionID, p.FinishedAt, p.CompliancePct, p.CriticalOpen)
	}
	return nil
}

// runExport 是导出命令路由：用于生成评估报告产物。
func runExport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printExportUsage()
		return nil
	}
	switch args[0] {
	case "assessment-pdf":
		return runExportAssessmentPDF(ctx, args[1:])
	default:
		printExportUsage()
		return fmt.Errorf("unknown export command: %s", args[0])
	}
}

func runExportAssessmentPDF(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("export assessment-pdf", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	sessionID := fs.String("session-id", "", "session id (default: latest)")
	operator := fs.String("operator", "system", "operator id or name")
	note := fs.String("note", "", "export note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}

	migrator := sqliteadapter.NewMigrator(db)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	res, err := reportpdf.GenerateAssessmentPDF(ctx, store, reportpdf.Options{
		SessionID: strings.TrimSpace(*sessionID),
		DBPath:    *dbPath,
		Operator:  strings.TrimSpace(*operator),
		Note:      strings.TrimSpace(*note),
	})
	if err != nil {
		return err
	}

	fmt.Println("assessment pdf export completed")
	fmt.Printf("report_id=%s\n", res.ReportID)
	fmt.Printf("pdf=%s\n", res.PDFPath)
	fmt.Printf("pdf_sha256=%s\n", res.PDFSHA256)
	if len(res.Warnings) > 0 {
		fmt.Printf("warnings=%s\n", strings.Join(res.Warnings, " | "))
	}
	return nil
}

// runSnapshot 采集 Workspace 环境安全状态快照（域信息、两步验证覆盖率）。
func runSnapshot(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	gamBinary := fs.String("gam", "", "gam binary path (default: gam in PATH)")
	timeout := fs.Duration("timeout", cfg.CheckTimeout, "per-command timeout")
	operator := fs.String("operator", "system", "operator id or name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := snapshot.Run(ctx, snapshot.Options{
		DBPath:    *dbPath,
		GAMBinary: *gamBinary,
		Timeout:   *timeout,
		Operator:  *operator,
	})
	if err != nil {
		return err
	}

	fmt.Println("snapshot completed")
	fmt.Printf("snapshot_id=%s collected_at=%d\n", res.SnapshotID, res.CollectedAt)
	return printJSON(res.Snapshot)
}

// runServe 启动内置 Web UI + API，便于“安装即用”的内测体验。
func runServe(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	catalogPath := fs.String("catalog", cfg.CatalogPath, "baseline catalog file")
	gamBinary := fs.String("gam", "", "gam binary path (default: gam in PATH)")
	listen := fs.String("listen", "127.0.0.1:8787", "listen address")
	workers := fs.Int("workers", cfg.Workers, "max concurrent checks")
	timeout := fs.Duration("timeout", cfg.CheckTimeout, "per-check command timeout")
	retries := fs.Int("retries", cfg.CheckRetries, "per-check retries on transient failures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// 支持 Ctrl+C 优雅退出。
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return webapp.Run(sigCtx, webapp.Options{
		DBPath:       *dbPath,
		CatalogPath:  *catalogPath,
		GAMBinary:    *gamBinary,
		ListenAddr:   *listen,
		Workers:      *workers,
		CheckTimeout: *timeout,
		CheckRetries: *retries,
	})
}

// printUsage 输出一级命令帮助。
func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  assessor-cli migrate [--db data/assessor.db]")
	fmt.Println("  assessor-cli catalog validate [--catalog catalog/scuba_baselines.template.yaml]")
	fmt.Println("  assessor-cli catalog import [--catalog path] [--db data/assessor.db]")
	fmt.Println("  assessor-cli assess [--db data/assessor.db] [--services gmail,drive] [--parallel] [--workers 10] [--timeout 30s] [--retries 3] [--gam PATH]")
	fmt.Println("  assessor-cli query summary [--session-id SESSION_ID] [--db data/assessor.db]")
	fmt.Println("  assessor-cli query results [--session-id SESSION_ID] [--service gmail] [--status non_compliant] [--risk-level critical] [--days 7]")
	fmt.Println("  assessor-cli query trends [--days 30] [--db data/assessor.db]")
	fmt.Println("  assessor-cli export assessment-pdf [--session-id SESSION_ID] [--db data/assessor.db]")
	fmt.Println("  assessor-cli verify audits --session-id SESSION_ID [--db data/assessor.db] [--limit 5000]")
	fmt.Println("  assessor-cli verify results --session-id SESSION_ID [--db data/assessor.db]")
	fmt.Println("  assessor-cli snapshot [--db data/assessor.db] [--gam PATH]")
	fmt.Println("  assessor-cli serve [--listen 127.0.0.1:8787] [--db data/assessor.db]")
}

// printCatalogUsage 输出 catalog 子命令帮助。
func printCatalogUsage() {
	fmt.Println("Usage:")
	fmt.Println("  assessor-cli catalog validate [--catalog path]")
	fmt.Println("  assessor-cli catalog import [--catalog path] [--db path] [--operator name]")
}

// printQueryUsage 输出 query 子命令帮助。
func printQueryUsage() {
	fmt.Println("Usage:")
	fmt.Println("  assessor-cli query summary [--session-id id] [--db path] [--json=true]")
	fmt.Println("  assessor-cli query results [--session-id id] [--service name] [--status s] [--risk-level r] [--days n] [--limit n] [--db path] [--json=true]")
	fmt.Println("  assessor-cli query trends [--days 30] [--db path] [--json=true]")
}

func printExportUsage() {
	fmt.Println("Usage:")
	fmt.Println("  assessor-cli export assessment-pdf [--session-id id] [--db path] [--operator name] [--note text]")
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
