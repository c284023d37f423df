package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"strings"

	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/app"
	"scuba-assessor/internal/platform/hash"
	"scuba-assessor/internal/services/auditverify"

	_ "modernc.org/sqlite"
)

// runVerify 是 verify 子命令路由：
// - verify audits：复核审计链（prev_hash / chain_hash 连续性）
// - verify results：复算 compliance_results.record_hash（检测落库后被改动的结果行）
func runVerify(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printVerifyUsage()
		return nil
	}

	switch args[0] {
	case "audits":
		return runVerifyAudits(ctx, args[1:])
	case "results":
		return runVerifyResults(ctx, args[1:])
	default:
		printVerifyUsage()
		return fmt.Errorf("unknown verify command: %s", args[0])
	}
}

func printVerifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  assessor-cli verify audits --session-id SESSION_ID [--db data/assessor.db] [--limit 5000]")
	fmt.Println("  assessor-cli verify results --session-id SESSION_ID [--db data/assessor.db]")
}

func runVerifyAudits(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("verify audits", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	sessionID := fs.String("session-id", "", "session id (required)")
	limit := fs.Int("limit", 5000, "max audit logs to verify (default 5000)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*sessionID) == "" {
		return fmt.Errorf("--session-id is required")
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	_, _ = db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`)

	store := sqliteadapter.NewStore(db)
	logs, err := store.ListAuditLogs(ctx, strings.TrimSpace(*sessionID), *limit)
	if err != nil {
		return err
	}

	res := auditverify.VerifyAuditLogs(logs)
	fmt.Println("audit chain verify completed")
	fmt.Printf("session_id=%s total=%d failed=%d prev_hash_failed=%d chain_hash_failed=%d\n",
		*sessionID, res.Total, res.Failed, res.PrevHashFailed, res.ChainHashFailed)
	if !res.OK {
		for _, f := range res.Failures {
			fmt.Printf("FAIL index=%d event_id=%s message=%s expected_prev=%s actual_prev=%s expected_hash=%s actual_hash=%s\n",
				f.Index, f.EventID, f.Message, f.ExpectedPrevHash, f.ActualPrevHash, f.ExpectedChainHash, f.ActualChainHash,
			)
		}
		return fmt.Errorf("audit chain verify failed")
	}
	return nil
}

type resultVerifyItem struct {
	ResultID     string
	BaselineID   string
	ExpectedHash string
	ActualHash   string
	Status       string // ok|mismatch
}

// runVerifyResults 对会话的结果行做 record_hash 复算：
// - 按入库口径重算 hash（result_id/session_id/baseline_id/status/值/风险/证据/时间戳）
// - 对比 record_hash 字段
//
// 该命令用于内测阶段快速发现“结果被手工改库”的情况。
func runVerifyResults(ctx context.Context, args []string) error {
	cfg := app.DefaultConfig()

	fs := flag.NewFlagSet("verify results", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	sessionID := fs.String("session-id", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*sessionID) == "" {
		return fmt.Errorf("--session-id is required")
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	_, _ = db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`)

	store := sqliteadapter.NewStore(db)
	records, err := store.ListResultRecords(ctx, strings.TrimSpace(*sessionID))
	if err != nil {
		return err
	}

	items := make([]resultVerifyItem, 0, len(records))
	okCount := 0
	failCount := 0
	for _, r := range records {
		expected := hash.Text(
			r.ID,
			r.SessionID,
			r.BaselineID,
			string(r.Status),
			r.CurrentValue,
			r.ExpectedValue,
			string(r.RiskLevel),
			string(r.EvidenceJSON),
			fmt.Sprintf("%d", r.AssessedAt),
		)
		item := resultVerifyItem{
			ResultID:     r.ID,
			BaselineID:   r.BaselineID,
			ExpectedHash: expected,
			ActualHash:   r.RecordHash,
		}
		if expected == r.RecordHash {
			item.Status = "ok"
			okCount++
		} else {
			item.Status = "mismatch"
			failCount++
		}
		items = append(items, item)
	}

	fmt.Println("result record hash verify completed")
	fmt.Printf("session_id=%s total=%d ok=%d failed=%d\n", strings.TrimSpace(*sessionID), len(items), okCount, failCount)
	for _, it := range items {
		if it.Status == "ok" {
			continue
		}
		fmt.Printf("FAIL result_id=%s baseline_id=%s expected=%s actual=%s\n",
			it.ResultID, it.BaselineID, it.ExpectedHash, it.ActualHash)
	}

	if failCount > 0 {
		return fmt.Errorf("result record hash verify failed: %d rows mismatch", failCount)
	}
	return nil
}
