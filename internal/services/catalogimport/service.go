package catalogimport

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scuba-assessor/internal/adapters/catalog"
	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/app"
	"scuba-assessor/internal/domain/model"

	_ "modernc.org/sqlite"
)

// Options 定义一次基线目录导入的输入。
type Options struct {
	DBPath      string
	CatalogPath string
	Operator    string
}

// Result 描述导入结果。
type Result struct {
	CatalogPath   string `json:"catalog_path"`
	CatalogSHA256 string `json:"catalog_sha256"`
	Version       string `json:"version"`
	Imported      int    `json:"imported"`
}

// Run 读取 YAML 基线目录并整体导入数据库。
// 同 ID 基线以目录中的新定义覆盖，导入动作写入审计链。
func Run(ctx context.Context, opts Options) (*Result, error) {
	defaults := app.DefaultConfig()
	if opts.DBPath == "" {
		opts.DBPath = defaults.DBPath
	}
	if opts.CatalogPath == "" {
		opts.CatalogPath = defaults.CatalogPath
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}

	loader := catalog.NewLoader(opts.CatalogPath)
	loaded, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}

	baselines := make([]model.Baseline, 0, len(loaded.Bundle.Baselines))
	for _, entry := range loaded.Bundle.Baselines {
		b, err := catalog.ToBaseline(entry)
		if err != nil {
			return nil, err
		}
		baselines = append(baselines, b)
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

	store := sqliteadapter.NewStore(db)
	if err := store.ReplaceBaselines(ctx, baselines, loaded.SHA256); err != nil {
		return nil, err
	}

	_ = store.AppendAudit(ctx, "", "catalog", "import", "success", operator, "catalogimport.Run", map[string]any{
		"catalog_path":   opts.CatalogPath,
		"catalog_sha256": loaded.SHA256,
		"version":        loaded.Bundle.Version,
		"imported":       len(baselines),
	})

	return &Result{
		CatalogPath:   opts.CatalogPath,
		CatalogSHA256: loaded.SHA256,
		Version:       loaded.Bundle.Version,
		Imported:      len(baselines),
	}, nil
}

// ImportInto 复用外部已打开的存储连接执行导入，供内置 Web 服务调用。
func ImportInto(ctx context.Context, store *sqliteadapter.Store, catalogPath, operator string) (*Result, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = "system"
	}

	loader := catalog.NewLoader(catalogPath)
	loaded, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}

	baselines := make([]model.Baseline, 0, len(loaded.Bundle.Baselines))
	for _, entry := range loaded.Bundle.Baselines {
		b, err := catalog.ToBaseline(entry)
		if err != nil {
			return nil, err
		}
		baselines = append(baselines, b)
	}

	if err := store.ReplaceBaselines(ctx, baselines, loaded.SHA256); err != nil {
		return nil, err
	}
	_ = store.AppendAudit(ctx, "", "catalog", "import", "success", operator, "catalogimport.ImportInto", map[string]any{
		"catalog_path":   catalogPath,
		"catalog_sha256": loaded.SHA256,
		"version":        loaded.Bundle.Version,
		"imported":       len(baselines),
	})

	return &Result{
		CatalogPath:   catalogPath,
		CatalogSHA256: loaded.SHA256,
		Version:       loaded.Bundle.Version,
		Imported:      len(baselines),
	}, nil
}
