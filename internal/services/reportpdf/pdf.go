package reportpdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	sqliteadapter "scuba-assessor/internal/adapters/store/sqlite"
	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/hash"
	"scuba-assessor/internal/services/aggregate"

	"github.com/phpdave11/gofpdf"
)

// 评估 PDF 报告（assessment_pdf）
//
// 设计目标（当前版本：内部试用优先）：
// - 先“能用”：输出一个可下载、可长期归档的 PDF 文件
// - 先“可追溯”：报告入库登记到 reports 表，并写入 audit_logs 留痕
// - 先“可扩展”：后续可逐步强化为审计级格式（模板、页眉页脚、编号、链路摘要等）

type Options struct {
	SessionID string
	DBPath    string
	Operator  string
	Note      string
}

type Result struct {
	ReportID    string   `json:"report_id"`
	PDFPath     string   `json:"pdf_path"`
	PDFSHA256   string   `json:"pdf_sha256"`
	Warnings    []string `json:"warnings,omitempty"`
	GeneratedAt int64    `json:"generated_at"`
}

const pdfGeneratorVer = "reportpdf-0.1.0"

// GenerateAssessmentPDF 生成评估 PDF 报告，并在 reports 表中登记为 report_type=assessment_pdf。
func GenerateAssessmentPDF(ctx context.Context, store *sqliteadapter.Store, opts Options) (*Result, error) {
	sessionID := strings.TrimSpace(opts.SessionID)
	dbPath := strings.TrimSpace(opts.DBPath)
	if dbPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}

	var ov *model.SessionOverview
	var err error
	if sessionID == "" {
		ov, err = store.GetLatestSessionOverview(ctx)
	} else {
		ov, err = store.GetSessionOverview(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session overview: %w", err)
	}
	if ov == nil {
		return nil, fmt.Errorf("assessment session not found: %s", sessionID)
	}
	sessionID = ov.SessionID

	warnings := []string{}

	results, err := store.ListResults(ctx, model.ResultFilter{SessionID: sessionID, Limit: 2000})
	if err != nil {
		warnings = append(warnings, "list results failed: "+err.Error())
		results = []model.ResultInfo{}
	}
	audits, err := store.ListAuditLogs(ctx, sessionID, 5000)
	if err != nil {
		warnings = append(warnings, "list audits failed: "+err.Error())
		audits = []model.AuditLog{}
	}

	// 为了避免 PDF 过大，这里只展示部分列表（内部试用先够用）。
	const maxResults = 300
	resultRows := results
	if len(resultRows) > maxResults {
		resultRows = resultRows[:maxResults]
		warnings = append(warnings, fmt.Sprintf("result list truncated to %d rows", maxResults))
	}

	riskScores := aggregate.ServiceRiskScores(resultInfosToResults(results))

	lastAuditHash := ""
	if len(audits) > 0 {
		lastAuditHash = audits[len(audits)-1].ChainHash
	}

	now := time.Now().Unix()
	reportDir := filepath.Join(filepath.Dir(dbPath), "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir reports: %w", err)
	}
	pdfPath := filepath.Join(reportDir, fmt.Sprintf("%s_assessment_%d.pdf", sessionID, now))

	pdf, utf8OK, err := buildPDF(*ov, resultRows, riskScores, operator, opts.Note, lastAuditHash, warnings, now)
	if err != nil {
		return nil, err
	}
	if !utf8OK {
		// 不支持 UTF-8 字体时，为了保证“不会失败”，会把非 ASCII 字符替换为 '?'。
		// 这里将该事实写入 warnings，避免用户误解为“报告内容丢失”。
		warnings = append(warnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	sum, _, err := hash.File(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("sha256 pdf: %w", err)
	}

	reportID, err := store.SaveReport(ctx, sessionID, "assessment_pdf", pdfPath, sum, pdfGeneratorVer, "ready")
	if err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	_ = store.AppendAudit(ctx, sessionID, "export", "assessment_pdf", "success", operator, "reportpdf.GenerateAssessmentPDF", map[string]any{
		"pdf":            pdfPath,
		"pdf_sha256":     sum,
		"total_assessed": ov.TotalAssessed,
		"compliance_pct": ov.CompliancePct,
		"note":           strings.TrimSpace(opts.Note),
		"warnings":       warnings,
	})

	return &Result{
		ReportID:    reportID,
		PDFPath:     pdfPath,
		PDFSHA256:   sum,
		Warnings:    warnings,
		GeneratedAt: now,
	}, nil
}

func buildPDF(
	ov model.SessionOverview,
	results []model.ResultInfo,
	riskScores []model.ServiceRisk,
	operator string,
	note string,
	lastAuditHash string,
	warnings []string,
	generatedAt int64,
) (*gofpdf.Fpdf, bool, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("Workspace Baseline Assessor - Assessment Report", false)

	fontFamily, utf8OK := initPDFUnicodeFont(pdf)

	pdf.AddPage()

	// 标题
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 9, "Workspace Baseline Assessor - Assessment Report", "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated at: %s", fmtTime(generatedAt)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Operator: %s", safeText(operator, utf8OK)), "", 1, "L", false, 0, "")
	if strings.TrimSpace(note) != "" {
		pdf.MultiCell(0, 5, fmt.Sprintf("Note: %s", safeText(note, utf8OK)), "", "L", false)
	}
	pdf.Ln(2)

	// Overview
	sectionTitle(pdf, fontFamily, "1. Assessment Overview")
	kv(pdf, fontFamily, utf8OK, "Session ID", ov.SessionID)
	kv(pdf, fontFamily, utf8OK, "Started At", fmtTime(ov.StartedAt))
	kv(pdf, fontFamily, utf8OK, "Finished At", fmtTime(ov.FinishedAt))
	kv(pdf, fontFamily, utf8OK, "Duration", fmt.Sprintf("%.1fs", ov.DurationSeconds))
	kv(pdf, fontFamily, utf8OK, "Total Assessed", fmt.Sprintf("%d", ov.TotalAssessed))
	kv(pdf, fontFamily, utf8OK, "Compliance", fmt.Sprintf("%.1f%%", ov.CompliancePct))
	kv(pdf, fontFamily, utf8OK, "Compliant", fmt.Sprintf("%d", ov.Compliant))
	kv(pdf, fontFamily, utf8OK, "Non-Compliant", fmt.Sprintf("%d (critical=%d, high=%d)", ov.NonCompliant, ov.CriticalIssues, ov.HighIssues))
	kv(pdf, fontFamily, utf8OK, "Manual Review", fmt.Sprintf("%d", ov.ManualReview))
	kv(pdf, fontFamily, utf8OK, "Unable To Check", fmt.Sprintf("%d", ov.UnableToCheck))
	kv(pdf, fontFamily, utf8OK, "Not Applicable", fmt.Sprintf("%d", ov.NotApplicable))
	kv(pdf, fontFamily, utf8OK, "Services", strings.Join(ov.ServicesAssessed, ", "))
	if strings.TrimSpace(lastAuditHash) != "" {
		kv(pdf, fontFamily, utf8OK, "Audit Chain Last Hash", lastAuditHash)
	}
	pdf.Ln(2)

	// Warnings（用于把“缺数据/回退行为”显式写到 PDF）
	localWarnings := append([]string{}, warnings...)
	if !utf8OK {
		localWarnings = append(localWarnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if len(localWarnings) > 0 {
		sectionTitle(pdf, fontFamily, "Warnings")
		pdf.SetFont(fontFamily, "", 9)
		pdf.SetTextColor(120, 80, 0)
		for _, w := range localWarnings {
			pdf.MultiCell(0, 4.5, "- "+safeText(w, utf8OK), "", "L", false)
		}
		pdf.Ln(2)
	}

	// 服务风险评分
	sectionTitle(pdf, fontFamily, "2. Service Risk Scores")
	if len(riskScores) == 0 {
		pdf.SetFont(fontFamily, "", 10)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, 5, "(no non-compliant findings)", "", "L", false)
	} else {
		for _, rs := range riskScores {
			pdf.SetFont(fontFamily, "", 10)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 5, fmt.Sprintf("%s: score=%d (non_compliant=%d, critical=%d)",
				safeText(string(rs.Service), utf8OK), rs.Score, rs.NonCompliant, rs.CriticalIssues), "", "L", false)
		}
	}
	pdf.Ln(2)

	// 结果明细
	sectionTitle(pdf, fontFamily, "3. Check Results (Top List)")
	if len(results) == 0 {
		pdf.SetFont(fontFamily, "", 10)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, 5, "(empty)", "", "L", false)
	} else {
		// results 已按 服务 -> 风险降序 -> 基线 ID 排序（来自 store），直接输出即可。
		for _, r := range results {
			pdf.SetFont(fontFamily, "B", 10)
			pdf.SetTextColor(20, 20, 20)
			pdf.MultiCell(0, 5, fmt.Sprintf("%s | %s | %s | risk=%s",
				safeText(r.BaselineID, utf8OK),
				safeText(r.Service, utf8OK),
				safeText(r.Status, utf8OK),
				safeText(r.RiskLevel, utf8OK),
			), "", "L", false)
			pdf.SetFont(fontFamily, "", 9)
			pdf.SetTextColor(40, 40, 40)
			if strings.TrimSpace(r.Title) != "" {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("title: %s", safeText(r.Title, utf8OK)), "", "L", false)
			}
			if strings.TrimSpace(r.GapDescription) != "" {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("gap: %s", safeText(r.GapDescription, utf8OK)), "", "L", false)
			}
			pdf.MultiCell(0, 4.5, fmt.Sprintf("confidence=%s | method=%s | assessed=%s",
				safeText(r.Confidence, utf8OK), safeText(r.CheckMethod, utf8OK), fmtTime(r.AssessedAt)), "", "L", false)
			pdf.Ln(1)
		}
	}

	// 尾注
	pdf.Ln(2)
	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 4.5, "Note: This PDF is an internal reporting artifact. Full evidence lives in compliance_results (evidence_json) and the chained audit_logs table.", "", "L", false)

	return pdf, utf8OK, nil
}

func sectionTitle(pdf *gofpdf.Fpdf, fontFamily string, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pdf.GetX(), pdf.GetY(), 200, pdf.GetY())
	pdf.Ln(2)
}

func kv(pdf *gofpdf.Fpdf, fontFamily string, utf8OK bool, key string, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	pdf.SetFont(fontFamily, "B", 10)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(44, 5.2, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(20, 20, 20)
	pdf.MultiCell(0, 5.2, safeText(value, utf8OK), "", "L", false)
}

func fmtTime(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

func safeText(s string, utf8OK bool) string {
	// gofpdf 的内置字体对 ASCII/Latin 表现最好；
	// 如果未成功加载 UTF-8 字体，则把非 ASCII 字符替换为 '?'，确保 PDF 一定能生成（内部试用优先）。
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.TrimSpace(s)
	if utf8OK {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteRune('?')
		}
	}
	return b.String()
}

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

// initPDFUnicodeFont 尝试加载 UTF-8 字体（TrueType），以支持中文等非 ASCII 字符。
//
// 规则：
// 1) 如果设置了环境变量 SCUBA_ASSESSOR_PDF_FONT，优先使用该文件路径。
// 2) 否则按常见系统字体路径探测（macOS/Windows/Linux）。
// 3) 加载失败则回退到核心字体（Helvetica），并通过 safeText() 兜底替换非 ASCII 字符。
func initPDFUnicodeFont(pdf *gofpdf.Fpdf) (family string, utf8OK bool) {
	const familyName = "unicode"
	candidates := []string{}

	if v := strings.TrimSpace(os.Getenv("SCUBA_ASSESSOR_PDF_FONT")); v != "" {
		candidates = append(candidates, v)
	}

	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
			"/System/Library/Fonts/Supplemental/AppleMyungjo.ttf",
			"/System/Library/Fonts/Supplemental/AppleGothic.ttf",
			"/System/Library/Fonts/Hiragino Sans GB.ttc",
			"/System/Library/Fonts/PingFang.ttc",
		)
	case "windows":
		candidates = append(candidates,
			`C:\Windows\Fonts\arialuni.ttf`,
			`C:\Windows\Fonts\simhei.ttf`,
			`C:\Windows\Fonts\simsun.ttc`,
			`C:\Windows\Fonts\msyh.ttc`,
		)
	default:
		// Linux (best effort)
		candidates = append(candidates,
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/truetype/noto/NotoSansCJK-Regular.ttc",
			"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
			"/usr/share/fonts/truetype/arphic/uming.ttc",
		)
	}

	for _, p := range candidates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}

		// 即使只有一个字体文件，这里也注册 B 样式，避免 SetFont(...,"B",...) 报错。
		pdf.AddUTF8Font(familyName, "", p)
		if pdf.Err() {
			pdf.ClearError()
			continue
		}
		pdf.AddUTF8Font(familyName, "B", p)
		if pdf.Err() {
			// bold 失败也不致命：清错后仍可用 regular
			pdf.ClearError()
		}
		return familyName, true
	}

	return "Helvetica", false
}
