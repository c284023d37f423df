package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/hash"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "assessor.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		t.Fatalf("set busy_timeout: %v", err)
	}

	if err := NewMigrator(db).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func testBaseline(id string, svc model.ServiceName, crit model.CriticalityLevel) model.Baseline {
	return model.Baseline{
		BaselineID:  id,
		ServiceName: svc,
		Title:       "title " + id,
		Requirement: "requirement " + id,
		Remediation: "remediation " + id,
		Criticality: crit,
		CheckType:   model.CheckConfiguration,
		GAMCommand:  "gam print something",
		Expected:    "expected",
		Enabled:     true,
	}
}

func TestMigrate_SeedsSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetSchemaMetaValue(ctx, "schema_version")
	if err != nil {
		t.Fatalf("get schema version: %v", err)
	}
	if v != "1" {
		t.Fatalf("schema version = %q, want 1", v)
	}
}

func TestUpsertSchemaMetaValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertSchemaMetaValue(ctx, "active_catalog_path", "/tmp/a.yaml"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertSchemaMetaValue(ctx, "active_catalog_path", "/tmp/b.yaml"); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}
	v, err := store.GetSchemaMetaValue(ctx, "active_catalog_path")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "/tmp/b.yaml" {
		t.Fatalf("value = %q, want /tmp/b.yaml", v)
	}
	// 不存在的 key 返回空串而不是错误
	if v, err := store.GetSchemaMetaValue(ctx, "missing_key"); err != nil || v != "" {
		t.Fatalf("missing key = (%q, %v), want empty", v, err)
	}
}

func TestReplaceAndLoadBaselines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	baselines := []model.Baseline{
		testBaseline("GWS.GMAIL.2.1", model.ServiceGmail, model.CriticalityLow),
		testBaseline("GWS.GMAIL.1.1", model.ServiceGmail, model.CriticalityCritical),
		testBaseline("GWS.DRIVE.1.1", model.ServiceDrive, model.CriticalityHigh),
	}
	disabled := testBaseline("GWS.GMAIL.3.1", model.ServiceGmail, model.CriticalityMedium)
	disabled.Enabled = false
	baselines = append(baselines, disabled)

	if err := store.ReplaceBaselines(ctx, baselines, "sha_v1"); err != nil {
		t.Fatalf("replace baselines: %v", err)
	}

	loaded, err := store.LoadBaselines(ctx, nil)
	if err != nil {
		t.Fatalf("load baselines: %v", err)
	}
	// 停用基线不返回
	if len(loaded) != 3 {
		t.Fatalf("loaded %d baselines, want 3", len(loaded))
	}
	// 排序：服务名升序，同服务按重要程度降序
	wantOrder := []string{"GWS.DRIVE.1.1", "GWS.GMAIL.1.1", "GWS.GMAIL.2.1"}
	for i, want := range wantOrder {
		if loaded[i].BaselineID != want {
			t.Fatalf("order[%d] = %s, want %s (all: %+v)", i, loaded[i].BaselineID, want, loaded)
		}
	}

	// 同 ID 重新导入按覆盖处理
	updated := testBaseline("GWS.GMAIL.1.1", model.ServiceGmail, model.CriticalityCritical)
	updated.Title = "updated title"
	if err := store.ReplaceBaselines(ctx, []model.Baseline{updated}, "sha_v2"); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	loaded, err = store.LoadBaselines(ctx, []string{"gmail"})
	if err != nil {
		t.Fatalf("load gmail baselines: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("gmail baselines = %d, want 2", len(loaded))
	}
	if loaded[0].BaselineID != "GWS.GMAIL.1.1" || loaded[0].Title != "updated title" {
		t.Fatalf("upsert did not overwrite: %+v", loaded[0])
	}
}

func TestServiceToggle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 无记录时默认启用
	enabled, err := store.IsServiceEnabled(ctx, "gmail")
	if err != nil {
		t.Fatalf("is enabled: %v", err)
	}
	if !enabled {
		t.Fatalf("service without config must default to enabled")
	}

	if err := store.SetServiceEnabled(ctx, "sites", false, "not rolled out"); err != nil {
		t.Fatalf("set disabled: %v", err)
	}
	enabled, err = store.IsServiceEnabled(ctx, "sites")
	if err != nil {
		t.Fatalf("is enabled after set: %v", err)
	}
	if enabled {
		t.Fatalf("sites should be disabled")
	}

	if err := store.SetServiceEnabled(ctx, "sites", true, ""); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	enabled, _ = store.IsServiceEnabled(ctx, "sites")
	if !enabled {
		t.Fatalf("sites should be enabled again")
	}
}

func TestInsertAndListResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	rows := []model.ComplianceResult{
		{
			SessionID: "session_a", BaselineID: "GWS.GMAIL.1.1", ServiceName: model.ServiceGmail,
			Status: model.StatusCompliant, RiskLevel: model.CriticalityHigh,
			Confidence: model.ConfidenceHigh, CheckMethod: "gam_command", AssessedAt: now,
		},
		{
			SessionID: "session_a", BaselineID: "GWS.DRIVE.1.1", ServiceName: model.ServiceDrive,
			Status: model.StatusNonCompliant, RiskLevel: model.CriticalityCritical,
			GapDescription: "external sharing allowed",
			Confidence:     model.ConfidenceHigh, CheckMethod: "gam_command", AssessedAt: now,
		},
		{
			SessionID: "session_b", BaselineID: "GWS.GMAIL.1.1", ServiceName: model.ServiceGmail,
			Status: model.StatusManualReview, RiskLevel: model.CriticalityLow,
			Confidence: model.ConfidenceLow, CheckMethod: "manual", AssessedAt: now,
		},
	}
	for _, r := range rows {
		if err := store.InsertResult(ctx, r); err != nil {
			t.Fatalf("insert result: %v", err)
		}
	}

	got, err := store.ListResults(ctx, model.ResultFilter{SessionID: "session_a"})
	if err != nil {
		t.Fatalf("list session_a: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("session_a results = %d, want 2", len(got))
	}

	got, err = store.ListResults(ctx, model.ResultFilter{Status: "non_compliant"})
	if err != nil {
		t.Fatalf("list non_compliant: %v", err)
	}
	if len(got) != 1 || got[0].BaselineID != "GWS.DRIVE.1.1" {
		t.Fatalf("non_compliant filter = %+v", got)
	}
	if got[0].GapDescription != "external sharing allowed" {
		t.Fatalf("gap = %q", got[0].GapDescription)
	}

	got, err = store.ListResults(ctx, model.ResultFilter{Service: "gmail", RiskLevel: "high"})
	if err != nil {
		t.Fatalf("list gmail/high: %v", err)
	}
	if len(got) != 1 || got[0].BaselineID != "GWS.GMAIL.1.1" {
		t.Fatalf("service+risk filter = %+v", got)
	}

	n, err := store.CountResultsBySession(ctx, "session_a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count session_a = %d, want 2", n)
	}
}

func TestListResultRecords_HashRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	in := model.ComplianceResult{
		SessionID: "session_hash", BaselineID: "GWS.GMAIL.1.1", ServiceName: model.ServiceGmail,
		Status: model.StatusCompliant, CurrentValue: "v=spf1", ExpectedValue: "v=spf1",
		RiskLevel: model.CriticalityHigh, Confidence: model.ConfidenceHigh,
		CheckMethod: "gam_command", EvidenceJSON: []byte(`{"command":"gam"}`), AssessedAt: now,
	}
	if err := store.InsertResult(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := store.ListResultRecords(ctx, "session_hash")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.RecordHash == "" {
		t.Fatalf("record hash must be filled on insert")
	}
	want := hash.Text(
		r.ID, r.SessionID, r.BaselineID, string(r.Status),
		r.CurrentValue, r.ExpectedValue, string(r.RiskLevel),
		string(r.EvidenceJSON), fmt.Sprintf("%d", r.AssessedAt),
	)
	if r.RecordHash != want {
		t.Fatalf("record hash mismatch: stored %s, recomputed %s", r.RecordHash, want)
	}
}

func TestSummaryAndTrends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	mkSummary := func(sessionID string, finishedAt int64, pct float64, critical int) model.AssessmentSummary {
		sum := model.AssessmentSummary{
			SessionID:        sessionID,
			StartedAt:        finishedAt - 10,
			FinishedAt:       finishedAt,
			TotalAssessed:    10,
			StatusCounts:     model.NewStatusCounts(),
			RiskCounts:       model.NewRiskCounts(),
			CompliancePct:    pct,
			ServicesAssessed: []model.ServiceName{model.ServiceGmail},
			DurationSeconds:  10,
		}
		sum.StatusCounts[model.StatusCompliant] = 7
		sum.StatusCounts[model.StatusNonCompliant] = 3
		sum.RiskCounts[model.CriticalityCritical] = critical
		return sum
	}

	if err := store.InsertSummary(ctx, mkSummary("session_1", now-3600, 60.0, 3)); err != nil {
		t.Fatalf("insert summary 1: %v", err)
	}
	if err := store.InsertSummary(ctx, mkSummary("session_2", now, 75.0, 1)); err != nil {
		t.Fatalf("insert summary 2: %v", err)
	}

	ov, err := store.GetSessionOverview(ctx, "session_1")
	if err != nil {
		t.Fatalf("get overview: %v", err)
	}
	if ov == nil || ov.Compliant != 7 || ov.NonCompliant != 3 || ov.CompliancePct != 60.0 {
		t.Fatalf("overview = %+v", ov)
	}
	if len(ov.ServicesAssessed) != 1 || ov.ServicesAssessed[0] != "gmail" {
		t.Fatalf("services assessed = %v", ov.ServicesAssessed)
	}

	latest, err := store.GetLatestSessionOverview(ctx)
	if err != nil {
		t.Fatalf("latest overview: %v", err)
	}
	if latest == nil || latest.SessionID != "session_2" {
		t.Fatalf("latest = %+v, want session_2", latest)
	}

	// 不存在的会话返回 nil 而不是错误
	missing, err := store.GetSessionOverview(ctx, "session_missing")
	if err != nil {
		t.Fatalf("missing overview: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing session, got %+v", missing)
	}

	list, err := store.ListSessionOverviews(ctx, 10)
	if err != nil {
		t.Fatalf("list overviews: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "session_2" {
		t.Fatalf("overview list = %+v", list)
	}

	points, err := store.ListTrendPoints(ctx, 30)
	if err != nil {
		t.Fatalf("trend points: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("trend points = %d, want 2", len(points))
	}
	// 趋势点按完成时间升序
	if points[0].SessionID != "session_1" || points[1].SessionID != "session_2" {
		t.Fatalf("trend order = %+v", points)
	}
	if points[0].CriticalOpen != 3 || points[1].CompliancePct != 75.0 {
		t.Fatalf("trend values = %+v", points)
	}
}

func TestAuditChainAppend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendAudit(ctx, "session_x", "assessment", "run_start", "success", "tester", "unit", nil); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := store.AppendAudit(ctx, "session_x", "assessment", "run_finish", "success", "tester", "unit", map[string]any{"total": 3}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	// 空会话 ID 归入 system 链
	if err := store.AppendAudit(ctx, "", "catalog", "import", "success", "tester", "unit", nil); err != nil {
		t.Fatalf("append system: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, "session_x", 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].ChainPrevHash != "" {
		t.Fatalf("first event must have empty prev hash, got %q", logs[0].ChainPrevHash)
	}
	if logs[1].ChainPrevHash != logs[0].ChainHash {
		t.Fatalf("chain broken: prev=%s head=%s", logs[1].ChainPrevHash, logs[0].ChainHash)
	}

	sessions, err := store.ListAuditSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("audit sessions = %v, want [session_x system]", sessions)
	}
}

func TestReportsIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.SaveReport(ctx, "session_r", "internal_json", "/tmp/r1.json", "sha1", "v1", "completed")
	if err != nil {
		t.Fatalf("save report 1: %v", err)
	}
	id2, err := store.SaveReport(ctx, "session_r", "assessment_pdf", "/tmp/r2.pdf", "sha2", "v1", "completed")
	if err != nil {
		t.Fatalf("save report 2: %v", err)
	}

	got, err := store.GetReportByID(ctx, id1)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil || got.ReportType != "internal_json" || got.SHA256 != "sha1" {
		t.Fatalf("report by id = %+v", got)
	}

	all, err := store.ListReportsBySession(ctx, "session_r")
	if err != nil {
		t.Fatalf("list by session: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("reports = %d, want 2", len(all))
	}
	_ = id2

	missing, err := store.GetReportByID(ctx, "report_missing")
	if err != nil {
		t.Fatalf("missing report: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing report, got %+v", missing)
	}
}

func TestAPISnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snapID, err := store.SaveAPISnapshot(ctx, "gam", []byte(`{"domain":"example.com"}`))
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if snapID == "" {
		t.Fatalf("expected snapshot id")
	}

	list, err := store.ListAPISnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(list) != 1 || list[0].Source != "gam" || list[0].SHA256 == "" {
		t.Fatalf("snapshots = %+v", list)
	}
}
