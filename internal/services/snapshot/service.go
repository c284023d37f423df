package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
	"scuba-assessor/internal/adapters/gwsapi"
	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/app"

	_ "modernc.org/sqlite"
)

// Options 定义一次环境快照采集的输入参数。
type Options struct {
	DBPath    string
	GAMBinary string
	Timeout   time.Duration
	Operator  string

	// Runner 可注入假实现用于测试。
	Runner gamrun.Runner
}

// Result 是一次快照采集的摘要输出。
type Result struct {
	SnapshotID  string          `json:"snapshot_id"`
	Snapshot    gwsapi.Snapshot `json:"snapshot"`
	CollectedAt int64           `json:"collected_at"`
}

// Run 采集 Workspace 环境安全状态快照并落库。
// 凭据缺失导致的单项不可用会降级为快照内警告，不阻断采集。
func Run(ctx context.Context, opts Options) (*Result, error) {
	defaults := app.DefaultConfig()
	if opts.DBPath == "" {
		opts.DBPath = defaults.DBPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.CheckTimeout
	}
	if opts.Runner == nil {
		opts.Runner = gamrun.NewCLIRunner(opts.GAMBinary)
	}

	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	migrator := sqliteadapter.NewMigrator(db)
	if err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	client := gwsapi.NewClient(opts.Runner, opts.Timeout)
	snap := client.Collect(ctx)

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	store := sqliteadapter.NewStore(db)
	snapshotID, err := store.SaveAPISnapshot(ctx, "gwsapi", payload)
	if err != nil {
		return nil, err
	}

	status := "success"
	if len(snap.Warnings) > 0 {
		status = "partial"
	}
	_ = store.AppendAudit(ctx, "system", "snapshot", "collect", status, opts.Operator, "snapshot.Run", map[string]any{
		"snapshot_id": snapshotID,
		"warnings":    len(snap.Warnings),
	})

	return &Result{
		SnapshotID:  snapshotID,
		Snapshot:    snap,
		CollectedAt: snap.CollectedAt,
	}, nil
}
