package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/hash"
	"scuba-assessor/internal/platform/id"
)

// Store 封装与 SQLite 的读写逻辑。
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetSchemaMetaValue 查询 schema_meta 表指定 key 的 value。
func (s *Store) GetSchemaMetaValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM schema_meta
		WHERE key = ?
		LIMIT 1
	`, key).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query schema_meta %s: %w", key, err)
	}
	return v, nil
}

// UpsertSchemaMetaValue 写入或覆盖 schema_meta 表指定 key。
// 用于记录运行期可变配置，例如当前启用的基线目录文件路径。
func (s *Store) UpsertSchemaMetaValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_meta(key, value, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert schema_meta %s: %w", key, err)
	}
	return nil
}

// ReplaceBaselines 批量导入基线定义，使用事务保证原子性。
// 同 ID 基线以新定义覆盖，sourceSHA256 记录来源目录文件哈希。
func (s *Store) ReplaceBaselines(ctx context.Context, baselines []model.Baseline, sourceSHA256 string) error {
	if len(baselines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx import baselines: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO baselines(
			baseline_id, service_name, title, description, requirement, remediation,
			reference_links, criticality_level, check_type, gam_command, api_endpoint,
			expected_value, check_logic, is_enabled, source_sha256, created_at, updated_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(baseline_id) DO UPDATE SET
			service_name=excluded.service_name,
			title=excluded.title,
			description=excluded.description,
			requirement=excluded.requirement,
			remediation=excluded.remediation,
			reference_links=excluded.reference_links,
			criticality_level=excluded.criticality_level,
			check_type=excluded.check_type,
			gam_command=excluded.gam_command,
			api_endpoint=excluded.api_endpoint,
			expected_value=excluded.expected_value,
			check_logic=excluded.check_logic,
			is_enabled=excluded.is_enabled,
			source_sha256=excluded.source_sha256,
			updated_at=excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare insert baselines: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range baselines {
		refs := "[]"
		if len(b.References) > 0 {
			raw, mErr := json.Marshal(b.References)
			if mErr != nil {
				err = fmt.Errorf("encode references for %s: %w", b.BaselineID, mErr)
				return err
			}
			refs = string(raw)
		}
		logic := "{}"
		if len(b.CheckLogic) > 0 {
			logic = string(b.CheckLogic)
		}

		_, err = stmt.ExecContext(ctx,
			b.BaselineID,
			string(b.ServiceName),
			b.Title,
			b.Description,
			b.Requirement,
			b.Remediation,
			refs,
			string(b.Criticality),
			string(b.CheckType),
			nullIfEmpty(b.GAMCommand),
			nullIfEmpty(b.APIEndpoint),
			b.Expected,
			logic,
			boolToInt(b.Enabled),
			nullIfEmpty(sourceSHA256),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert baseline %s: %w", b.BaselineID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import baselines: %w", err)
	}
	return nil
}

// LoadBaselines 返回启用的基线，按 服务名 -> 重要程度降序 -> 基线 ID 排序。
// services 为空表示不过滤；结果为空集合属于正常情况。
func (s *Store) LoadBaselines(ctx context.Context, services []string) ([]model.Baseline, error) {
	query := `
		SELECT
			baseline_id, service_name, title,
			COALESCE(description, ''), COALESCE(requirement, ''), COALESCE(remediation, ''),
			COALESCE(reference_links, '[]'), criticality_level, check_type,
			COALESCE(gam_command, ''), COALESCE(api_endpoint, ''),
			COALESCE(expected_value, ''), COALESCE(check_logic, '{}'), is_enabled
		FROM baselines
		WHERE is_enabled = 1
	`
	var args []any
	if len(services) > 0 {
		placeholders := make([]string, len(services))
		for i, svc := range services {
			placeholders[i] = "?"
			args = append(args, svc)
		}
		query += " AND service_name IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += `
		ORDER BY
			service_name,
			CASE criticality_level
				WHEN 'critical' THEN 4
				WHEN 'high' THEN 3
				WHEN 'medium' THEN 2
				WHEN 'low' THEN 1
				ELSE 0
			END DESC,
			baseline_id
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	var out []model.Baseline
	for rows.Next() {
		var b model.Baseline
		var service, criticality, checkType string
		var refsRaw, logicRaw string
		var enabledInt int
		if err := rows.Scan(
			&b.BaselineID,
			&service,
			&b.Title,
			&b.Description,
			&b.Requirement,
			&b.Remediation,
			&refsRaw,
			&criticality,
			&checkType,
			&b.GAMCommand,
			&b.APIEndpoint,
			&b.Expected,
			&logicRaw,
			&enabledInt,
		); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		b.ServiceName = model.ServiceName(service)
		b.Criticality = model.CriticalityLevel(criticality)
		b.CheckType = model.CheckType(checkType)
		b.Enabled = enabledInt == 1
		if refsRaw != "" && refsRaw != "[]" {
			if err := json.Unmarshal([]byte(refsRaw), &b.References); err != nil {
				return nil, fmt.Errorf("decode references for %s: %w", b.BaselineID, err)
			}
		}
		b.CheckLogic = json.RawMessage(logicRaw)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate baselines: %w", err)
	}
	if out == nil {
		out = []model.Baseline{}
	}
	return out, nil
}

// SetServiceEnabled 写入服务启用开关。
func (s *Store) SetServiceEnabled(ctx context.Context, service string, enabled bool, note string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_config(service_name, is_enabled, note, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			is_enabled=excluded.is_enabled,
			note=CASE WHEN excluded.note IS NULL OR excluded.note='' THEN service_config.note ELSE excluded.note END,
			updated_at=excluded.updated_at
	`, service, boolToInt(enabled), nullIfEmpty(note), now)
	if err != nil {
		return fmt.Errorf("upsert service config %s: %w", service, err)
	}
	return nil
}

// IsServiceEnabled 查询服务启用开关；没有记录时视为启用。
func (s *Store) IsServiceEnabled(ctx context.Context, service string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT is_enabled
		FROM service_config
		WHERE service_name = ?
		LIMIT 1
	`, service).Scan(&enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("query service config %s: %w", service, err)
	}
	return enabled == 1, nil
}

// InsertResult 写入单条检查结果。结果表只追加，不做更新。
func (s *Store) InsertResult(ctx context.Context, r model.ComplianceResult) error {
	resultID := r.ID
	if resultID == "" {
		resultID = id.New("res")
	}
	assessedAt := r.AssessedAt
	if assessedAt <= 0 {
		assessedAt = time.Now().Unix()
	}
	evidence := r.EvidenceJSON
	if len(evidence) == 0 {
		evidence = []byte("{}")
	}

	recordHash := r.RecordHash
	if recordHash == "" {
		recordHash = hash.Text(
			resultID,
			r.SessionID,
			r.BaselineID,
			string(r.Status),
			r.CurrentValue,
			r.ExpectedValue,
			string(r.RiskLevel),
			string(evidence),
			fmt.Sprintf("%d", assessedAt),
		)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_results(
			result_id, session_id, baseline_id, service_name, status,
			current_value, expected_value, gap_description, risk_level,
			confidence_level, check_method, evidence_json, assessed_at,
			record_hash, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		resultID,
		r.SessionID,
		r.BaselineID,
		string(r.ServiceName),
		string(r.Status),
		r.CurrentValue,
		r.ExpectedValue,
		r.GapDescription,
		string(r.RiskLevel),
		string(r.Confidence),
		r.CheckMethod,
		string(evidence),
		assessedAt,
		recordHash,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", r.BaselineID, err)
	}
	return nil
}

// InsertSummary 写入评估会话汇总，一次会话一行。
func (s *Store) InsertSummary(ctx context.Context, sum model.AssessmentSummary) error {
	services := "[]"
	if len(sum.ServicesAssessed) > 0 {
		raw, err := json.Marshal(sum.ServicesAssessed)
		if err != nil {
			return fmt.Errorf("encode services assessed: %w", err)
		}
		services = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_history(
			session_id, started_at, finished_at, total_assessed,
			compliant_count, non_compliant_count, not_applicable_count,
			unable_to_check_count, manual_review_count,
			critical_count, high_count, medium_count, low_count,
			compliance_pct, services_assessed, duration_seconds, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.SessionID,
		sum.StartedAt,
		sum.FinishedAt,
		sum.TotalAssessed,
		sum.StatusCounts[model.StatusCompliant],
		sum.StatusCounts[model.StatusNonCompliant],
		sum.StatusCounts[model.StatusNotApplicable],
		sum.StatusCounts[model.StatusUnableToCheck],
		sum.StatusCounts[model.StatusManualReview],
		sum.RiskCounts[model.CriticalityCritical],
		sum.RiskCounts[model.CriticalityHigh],
		sum.RiskCounts[model.CriticalityMedium],
		sum.RiskCounts[model.CriticalityLow],
		sum.CompliancePct,
		services,
		sum.DurationSeconds,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert assessment summary %s: %w", sum.SessionID, err)
	}
	return nil
}

// GetSessionOverview 按会话 ID 查询汇总摘要。
func (s *Store) GetSessionOverview(ctx context.Context, sessionID string) (*model.SessionOverview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			session_id, started_at, finished_at, total_assessed,
			compliant_count, non_compliant_count, not_applicable_count,
			unable_to_check_count, manual_review_count,
			critical_count, high_count, medium_count, low_count,
			compliance_pct, COALESCE(services_assessed, '[]'), duration_seconds
		FROM assessment_history
		WHERE session_id = ?
		LIMIT 1
	`, sessionID)
	return scanSessionOverview(row)
}

// GetLatestSessionOverview 返回最近一次评估会话的汇总摘要。
func (s *Store) GetLatestSessionOverview(ctx context.Context) (*model.SessionOverview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			session_id, started_at, finished_at, total_assessed,
			compliant_count, non_compliant_count, not_applicable_count,
			unable_to_check_count, manual_review_count,
			critical_count, high_count, medium_count, low_count,
			compliance_pct, COALESCE(services_assessed, '[]'), duration_seconds
		FROM assessment_history
		ORDER BY finished_at DESC, session_id DESC
		LIMIT 1
	`)
	return scanSessionOverview(row)
}

// ListSessionOverviews 按完成时间倒序返回历史评估会话，供 UI 列表页使用。
func (s *Store) ListSessionOverviews(ctx context.Context, limit int) ([]model.SessionOverview, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			session_id, started_at, finished_at, total_assessed,
			compliant_count, non_compliant_count, not_applicable_count,
			unable_to_check_count, manual_review_count,
			critical_count, high_count, medium_count, low_count,
			compliance_pct, COALESCE(services_assessed, '[]'), duration_seconds
		FROM assessment_history
		ORDER BY finished_at DESC, session_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session overviews: %w", err)
	}
	defer rows.Close()

	out := []model.SessionOverview{}
	for rows.Next() {
		var ov model.SessionOverview
		var servicesRaw string
		if err := rows.Scan(
			&ov.SessionID,
			&ov.StartedAt,
			&ov.FinishedAt,
			&ov.TotalAssessed,
			&ov.Compliant,
			&ov.NonCompliant,
			&ov.NotApplicable,
			&ov.UnableToCheck,
			&ov.ManualReview,
			&ov.CriticalIssues,
			&ov.HighIssues,
			&ov.MediumIssues,
			&ov.LowIssues,
			&ov.CompliancePct,
			&servicesRaw,
			&ov.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan session overview: %w", err)
		}
		if servicesRaw != "" && servicesRaw != "[]" {
			if err := json.Unmarshal([]byte(servicesRaw), &ov.ServicesAssessed); err != nil {
				return nil, fmt.Errorf("decode services assessed: %w", err)
			}
		}
		out = append(out, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session overviews: %w", err)
	}
	return out, nil
}

func scanSessionOverview(row *sql.Row) (*model.SessionOverview, error) {
	var out model.SessionOverview
	var servicesRaw string
	if err := row.Scan(
		&out.SessionID,
		&out.StartedAt,
		&out.FinishedAt,
		&out.TotalAssessed,
		&out.Compliant,
		&out.NonCompliant,
		&out.NotApplicable,
		&out.UnableToCheck,
		&out.ManualReview,
		&out.CriticalIssues,
		&out.HighIssues,
		&out.MediumIssues,
		&out.LowIssues,
		&out.CompliancePct,
		&servicesRaw,
		&out.DurationSeconds,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query session overview: %w", err)
	}
	if servicesRaw != "" && servicesRaw != "[]" {
		if err := json.Unmarshal([]byte(servicesRaw), &out.ServicesAssessed); err != nil {
			return nil, fmt.Errorf("decode services assessed: %w", err)
		}
	}
	return &out, nil
}

// ListTrendPoints 返回时间窗口内的历史趋势点，按完成时间升序。
// sinceDays <= 0 时使用默认 30 天窗口。
func (s *Store) ListTrendPoints(ctx context.Context, sinceDays int) ([]model.TrendPoint, error) {
	if sinceDays <= 0 {
		sinceDays = 30
	}
	cutoff := time.Now().Add(-time.Duration(sinceDays) * 24 * time.Hour).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, finished_at, compliance_pct, critical_count
		FROM assessment_history
		WHERE finished_at >= ?
		ORDER BY finished_at ASC, session_id ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query trend points: %w", err)
	}
	defer rows.Close()

	var out []model.TrendPoint
	for rows.Next() {
		var p model.TrendPoint
		if err := rows.Scan(&p.SessionID, &p.FinishedAt, &p.CompliancePct, &p.CriticalOpen); err != nil {
			return nil, fmt.Errorf("scan trend point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend points: %w", err)
	}
	if out == nil {
		out = []model.TrendPoint{}
	}
	return out, nil
}

// ListResults 按过滤条件查询检查结果明细，附带基线标题。
func (s *Store) ListResults(ctx context.Context, f model.ResultFilter) ([]model.ResultInfo, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}

	// 重要：webapp/CLI 都把 SQLite 连接池设置为单连接（SetMaxOpenConns(1)），
	// 这里用 LEFT JOIN 一次取回标题，避免循环内再发子查询导致死锁。
	query := `
		SELECT
			r.result_id, r.session_id, r.baseline_id, r.service_name,
			COALESCE(b.title, ''), r.status,
			COALESCE(r.current_value, ''), COALESCE(r.expected_value, ''),
			COALESCE(r.gap_description, ''), r.risk_level, r.confidence_level,
			COALESCE(r.check_method, ''), COALESCE(r.evidence_json, '{}'), r.assessed_at
		FROM compliance_results r
		LEFT JOIN baselines b ON b.baseline_id = r.baseline_id
		WHERE 1 = 1
	`
	var args []any
	if f.SessionID != "" {
		query += " AND r.session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Service != "" {
		query += " AND r.service_name = ?"
		args = append(args, f.Service)
	}
	if f.Status != "" {
		query += " AND r.status = ?"
		args = append(args, f.Status)
	}
	if f.RiskLevel != "" {
		query += " AND r.risk_level = ?"
		args = append(args, f.RiskLevel)
	}
	if f.SinceDays > 0 {
		cutoff := time.Now().Add(-time.Duration(f.SinceDays) * 24 * time.Hour).Unix()
		query += " AND r.assessed_at >= ?"
		args = append(args, cutoff)
	}
	query += `
		ORDER BY
			r.service_name,
			CASE r.risk_level
				WHEN 'critical' THEN 4
				WHEN 'high' THEN 3
				WHEN 'medium' THEN 2
				WHEN 'low' THEN 1
				ELSE 0
			END DESC,
			r.baseline_id
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []model.ResultInfo
	for rows.Next() {
		var item model.ResultInfo
		if err := rows.Scan(
			&item.ResultID,
			&item.SessionID,
			&item.BaselineID,
			&item.Service,
			&item.Title,
			&item.Status,
			&item.CurrentValue,
			&item.ExpectedValue,
			&item.GapDescription,
			&item.RiskLevel,
			&item.Confidence,
			&item.CheckMethod,
			&item.EvidenceJSON,
			&item.AssessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result info: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	if out == nil {
		out = []model.ResultInfo{}
	}
	return out, nil
}

// CountResultsBySession 返回会话已落库的结果条数，用于部分成功统计。
func (s *Store) CountResultsBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM compliance_results
		WHERE session_id = ?
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// ListResultRecords 返回会话下完整的结果行（含 record_hash），供防篡改复核使用。
func (s *Store) ListResultRecords(ctx context.Context, sessionID string) ([]model.ComplianceResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			result_id, session_id, baseline_id, service_name, status,
			COALESCE(current_value, ''), COALESCE(expected_value, ''), COALESCE(gap_description, ''),
			risk_level, confidence_level, COALESCE(check_method, ''),
			COALESCE(evidence_json, '{}'), assessed_at, record_hash
		FROM compliance_results
		WHERE session_id = ?
		ORDER BY assessed_at ASC, result_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query result records: %w", err)
	}
	defer rows.Close()

	out := []model.ComplianceResult{}
	for rows.Next() {
		var r model.ComplianceResult
		var evidence string
		if err := rows.Scan(
			&r.ID,
			&r.SessionID,
			&r.BaselineID,
			&r.ServiceName,
			&r.Status,
			&r.CurrentValue,
			&r.ExpectedValue,
			&r.GapDescription,
			&r.RiskLevel,
			&r.Confidence,
			&r.CheckMethod,
			&evidence,
			&r.AssessedAt,
			&r.RecordHash,
		); err != nil {
			return nil, fmt.Errorf("scan result record: %w", err)
		}
		r.EvidenceJSON = []byte(evidence)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result records: %w", err)
	}
	return out, nil
}

// SaveAPISnapshot 写入环境安全状态快照。
func (s *Store) SaveAPISnapshot(ctx context.Context, source string, payload []byte) (string, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	snapshotID := id.New("snap")
	now := time.Now().Unix()
	sum := hash.Text(string(payload))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_snapshots(snapshot_id, source, payload_json, sha256, collected_at)
		VALUES(?, ?, ?, ?, ?)
	`, snapshotID, source, string(payload), sum, now)
	if err != nil {
		return "", fmt.Errorf("insert api snapshot: %w", err)
	}
	return snapshotID, nil
}

// ListAPISnapshots 返回最近的环境快照，按采集时间倒序。
func (s *Store) ListAPISnapshots(ctx context.Context, limit int) ([]model.APISnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, source, payload_json, sha256, collected_at
		FROM api_snapshots
		ORDER BY collected_at DESC, snapshot_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query api snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.APISnapshot
	for rows.Next() {
		var item model.APISnapshot
		var payload string
		if err := rows.Scan(&item.SnapshotID, &item.Source, &payload, &item.SHA256, &item.CollectedAt); err != nil {
			return nil, fmt.Errorf("scan api snapshot: %w", err)
		}
		item.PayloadJSON = json.RawMessage(payload)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api snapshots: %w", err)
	}
	if out == nil {
		out = []model.APISnapshot{}
	}
	return out, nil
}

// AppendAudit 写入审计日志，并生成链式 hash 以便后续校验完整性。
// 与会话无关的事件传入 sessionID = "system"。
func (s *Store) AppendAudit(ctx context.Context, sessionID, eventType, action, status, actor, source string, detail any) error {
	detailJSON := []byte("{}")
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err == nil {
			detailJSON = raw
		}
	}
	if sessionID == "" {
		sessionID = "system"
	}

	prev := ""
	err := s.db.QueryRowContext(ctx, `
		SELECT chain_hash
		FROM audit_logs
		WHERE session_id = ?
		ORDER BY occurred_at DESC, event_id DESC
		LIMIT 1
	`, sessionID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query previous chain hash: %w", err)
	}

	now := time.Now().Unix()
	eventID := id.New("evt")
	chain := hash.Text(prev, sessionID, eventType, action, status, fmt.Sprintf("%d", now), string(detailJSON))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs(
			event_id, session_id, event_type, action, status,
			actor, source, detail_json, occurred_at, chain_prev_hash, chain_hash
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, sessionID, eventType, action, status, actor, source, string(detailJSON), now, nullIfEmpty(prev), chain)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// ListAuditLogs 返回会话审计日志（按时间升序）。
func (s *Store) ListAuditLogs(ctx context.Context, sessionID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			event_id,
			session_id,
			event_type,
			action,
			status,
			COALESCE(actor, ''),
			COALESCE(source, ''),
			COALESCE(detail_json, '{}'),
			occurred_at,
			COALESCE(chain_prev_hash, ''),
			chain_hash
		FROM audit_logs
		WHERE session_id = ?
		ORDER BY occurred_at ASC, event_id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var item model.AuditLog
		var detail string
		if err := rows.Scan(
			&item.EventID,
			&item.SessionID,
			&item.EventType,
			&item.Action,
			&item.Status,
			&item.Actor,
			&item.Source,
			&detail,
			&item.OccurredAt,
			&item.ChainPrevHash,
			&item.ChainHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		item.DetailJSON = json.RawMessage(detail)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	if out == nil {
		out = []model.AuditLog{}
	}
	return out, nil
}

// ListAuditSessions 返回出现过审计日志的会话 ID 列表。
func (s *Store) ListAuditSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT session_id
		FROM audit_logs
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query audit sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan audit session: %w", err)
		}
		out = append(out, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit sessions: %w", err)
	}
	return out, nil
}

// SaveReport 记录报告产物信息，供 UI 或导出流程追踪。
func (s *Store) SaveReport(ctx context.Context, sessionID, reportType, filePath, sha256, generatorVersion, status string) (string, error) {
	reportID := id.New("report")
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports(
			report_id, session_id, report_type, file_path, sha256, generated_at, generator_version, status
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, reportID, sessionID, reportType, filePath, sha256, now, generatorVersion, status)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return reportID, nil
}

// GetReportByID 按报告 ID 查询报告索引。
func (s *Store) GetReportByID(ctx context.Context, reportID string) (*model.ReportInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, session_id, report_type, file_path, sha256, generated_at, generator_version, status
		FROM reports
		WHERE report_id = ?
		LIMIT 1
	`, reportID)
	return scanReportInfo(row)
}

// GetLatestReportBySession 返回会话最新报告索引。
func (s *Store) GetLatestReportBySession(ctx context.Context, sessionID string) (*model.ReportInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, session_id, report_type, file_path, sha256, generated_at, generator_version, status
		FROM reports
		WHERE session_id = ?
		ORDER BY generated_at DESC, report_id DESC
		LIMIT 1
	`, sessionID)
	return scanReportInfo(row)
}

// ListReportsBySession 返回会话下全部报告索引，按生成时间倒序。
func (s *Store) ListReportsBySession(ctx context.Context, sessionID string) ([]model.ReportInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, session_id, report_type, file_path, sha256, generated_at, generator_version, status
		FROM reports
		WHERE session_id = ?
		ORDER BY generated_at DESC, report_id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query reports by session: %w", err)
	}
	defer rows.Close()

	out := []model.ReportInfo{}
	for rows.Next() {
		var r model.ReportInfo
		if err := rows.Scan(
			&r.ReportID,
			&r.SessionID,
			&r.ReportType,
			&r.FilePath,
			&r.SHA256,
			&r.GeneratedAt,
			&r.GeneratorVersion,
			&r.Status,
		); err != nil {
			return nil, fmt.Errorf("scan report info: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func scanReportInfo(row *sql.Row) (*model.ReportInfo, error) {
	var out model.ReportInfo
	if err := row.Scan(
		&out.ReportID,
		&out.SessionID,
		&out.ReportType,
		&out.FilePath,
		&out.SHA256,
		&out.GeneratedAt,
		&out.GeneratorVersion,
		&out.Status,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query report info: %w", err)
	}
	return &out, nil
}

// SQLite 中没有布尔类型，统一转 0/1 存储。
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// 空字符串按 NULL 写入，避免无意义空值污染查询条件。
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
