package catalogimport

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/domain/model"

	_ "modernc.org/sqlite"
)

const testCatalog = `
version: "2026-08-01"
bundle_type: scuba_baselines
baselines:
  - id: GWS.GMAIL.1.1
    enabled: true
    service: gmail
    title: SPF record published
    criticality: high
    check_type: configuration
    gam_command: gam print domains spf
    expected_value: v=spf1
  - id: GWS.DRIVE.1.1
    enabled: true
    service: drive
    title: External sharing restricted
    criticality: critical
    check_type: configuration
    gam_command: gam print drivesettings
    expected_value: sharing_disabled
`

func TestRun_ImportsCatalogIntoDatabase(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	catalogPath := filepath.Join(tmp, "catalog.yaml")
	dbPath := filepath.Join(tmp, "assessor.db")

	if err := os.WriteFile(catalogPath, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	res, err := Run(ctx, Options{
		DBPath:      dbPath,
		CatalogPath: catalogPath,
		Operator:    "tester",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Imported != 2 {
		t.Fatalf("imported = %d, want 2", res.Imported)
	}
	if res.Version != "2026-08-01" || res.CatalogSHA256 == "" {
		t.Fatalf("result = %+v", res)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	store := sqliteadapter.NewStore(db)

	baselines, err := store.LoadBaselines(ctx, nil)
	if err != nil {
		t.Fatalf("load baselines: %v", err)
	}
	if len(baselines) != 2 {
		t.Fatalf("baselines = %d, want 2", len(baselines))
	}

	// 导入动作写入 system 审计链
	logs, err := store.ListAuditLogs(ctx, "system", 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "import" {
		t.Fatalf("audit = %+v", logs)
	}
}

func TestRun_InvalidCatalogFailsWithSentinel(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	catalogPath := filepath.Join(tmp, "catalog.yaml")

	if err := os.WriteFile(catalogPath, []byte("version: \"\"\nbundle_type: x\nbaselines: []\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	_, err := Run(ctx, Options{
		DBPath:      filepath.Join(tmp, "assessor.db"),
		CatalogPath: catalogPath,
	})
	if err == nil {
		t.Fatalf("expected error for invalid catalog")
	}
	if !errors.Is(err, model.ErrCatalogUnavailable) {
		t.Fatalf("error must wrap ErrCatalogUnavailable: %v", err)
	}
}
