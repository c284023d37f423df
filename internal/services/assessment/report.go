package assessment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/platform/hash"
)

// writeInternalJSONReport 生成内部 JSON 报告，并返回文件路径与哈希。
func writeInternalJSONReport(dbPath string, res *Result, batch []model.ComplianceResult) (path string, sha string, err error) {
	reportDir := filepath.Join(filepath.Dir(dbPath), "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", "", err
	}

	type resultRow struct {
		BaselineID     string `json:"baseline_id"`
		Service        string `json:"service"`
		Status         string `json:"status"`
		RiskLevel      string `json:"risk_level"`
		Confidence     string `json:"confidence"`
		CheckMethod    string `json:"check_method,omitempty"`
		GapDescription string `json:"gap_description,omitempty"`
		CurrentValue   string `json:"current_value,omitempty"`
		ExpectedValue  string `json:"expected_value,omitempty"`
		AssessedAt     int64  `json:"assessed_at"`
	}

	rows := make([]resultRow, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, resultRow{
			BaselineID:     r.BaselineID,
			Service:        string(r.ServiceName),
			Status:         string(r.Status),
			RiskLevel:      string(r.RiskLevel),
			Confidence:     string(r.Confidence),
			CheckMethod:    r.CheckMethod,
			GapDescription: r.GapDescription,
			CurrentValue:   r.CurrentValue,
			ExpectedValue:  r.ExpectedValue,
			AssessedAt:     r.AssessedAt,
		})
	}

	payload := map[string]any{
		"session_id":   res.SessionID,
		"generated_at": time.Now().Unix(),
		"summary": map[string]any{
			"total_intended":  res.TotalIntended,
			"total_assessed":  res.TotalAssessed,
			"compliance_pct":  res.CompliancePct,
			"status_counts":   res.Summary.StatusCounts,
			"risk_counts":     res.Summary.RiskCounts,
			"services":        res.Summary.ServicesAssessed,
			"duration_secs":   res.Summary.DurationSeconds,
		},
		"risk_scores": res.RiskScores,
		"failed":      res.Failed,
		"results":     rows,
		"warnings":    res.Warnings,
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", err
	}

	filename := fmt.Sprintf("%s_assessment_%d.json", res.SessionID, time.Now().Unix())
	path = filepath.Join(reportDir, filename)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", "", err
	}

	sum, _, err := hash.File(path)
	if err != nil {
		return "", "", err
	}
	return path, sum, nil
}

// writeInternalHTMLReport 生成内部 HTML 报告，并返回文件路径与哈希。
// 不引入模板引擎，直接拼接 HTML，保持与 JSON 报告相同的数据口径。
func writeInternalHTMLReport(dbPath string, res *Result, batch []model.ComplianceResult) (path string, sha string, err error) {
	reportDir := filepath.Join(filepath.Dir(dbPath), "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", "", err
	}

	now := time.Now().Unix()
	filename := fmt.Sprintf("%s_assessment_%d.html", res.SessionID, now)
	path = filepath.Join(reportDir, filename)

	var b strings.Builder
	b.Grow(32 * 1024)
	b.WriteString("<!doctype html>\n<html lang=\"zh-CN\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\"/>\n<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"/>\n")
	b.WriteString("<title>Workspace 合规基线评估报告（内部）</title>\n")
	b.WriteString("<style>\n")
	b.WriteString("body{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,\"Liberation Mono\",monospace;background:#0b1220;color:#e8e8e8;margin:0;padding:24px;}\n")
	b.WriteString("h1{font-size:18px;margin:0 0 12px 0;}\n")
	b.WriteString("h2{font-size:14px;margin:20px 0 8px 0;color:#4fc3f7;border-bottom:1px solid #1f2937;padding-bottom:6px;}\n")
	b.WriteString(".muted{color:#b8bcc4;}\n")
	b.WriteString(".kv{display:grid;grid-template-columns:180px 1fr;gap:6px 12px;font-size:12px;}\n")
	b.WriteString(".box{border:1px solid #1f2937;background:#111827;padding:12px;border-radius:6px;}\n")
	b.WriteString("table{width:100%;border-collapse:collapse;font-size:12px;}\n")
	b.WriteString("th,td{border:1px solid #1f2937;padding:6px 8px;vertical-align:top;}\n")
	b.WriteString("th{background:#0d0f12;color:#b8bcc4;text-align:left;}\n")
	b.WriteString(".ok{color:#22c55e;}\n")
	b.WriteString(".warn{color:#ffa726;}\n")
	b.WriteString(".bad{color:#ff6b6b;}\n")
	b.WriteString(".mono{font-family:inherit;word-break:break-all;}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<h1>Workspace 合规基线评估报告（内部）</h1>\n")
	b.WriteString("<div class=\"box kv\">")
	b.WriteString("<div class=\"muted\">session_id</div><div class=\"mono\">" + htmlEscape(res.SessionID) + "</div>")
	b.WriteString("<div class=\"muted\">generated_at</div><div class=\"mono\">" + htmlEscape(time.Unix(now, 0).Format("2006-01-02 15:04:05")) + "</div>")
	b.WriteString("<div class=\"muted\">total_intended</div><div class=\"mono\">" + fmt.Sprintf("%d", res.TotalIntended) + "</div>")
	b.WriteString("<div class=\"muted\">total_assessed</div><div class=\"mono\">" + fmt.Sprintf("%d", res.TotalAssessed) + "</div>")
	b.WriteString("<div class=\"muted\">compliance_pct</div><div class=\"mono\">" + fmt.Sprintf("%.1f%%", res.CompliancePct) + "</div>")
	b.WriteString("</div>\n")

	b.WriteString("<h2>状态分布</h2>\n<div class=\"box kv\">")
	for _, status := range []model.ComplianceStatus{
		model.StatusCompliant, model.StatusNonCompliant, model.StatusNotApplicable,
		model.StatusUnableToCheck, model.StatusManualReview,
	} {
		b.WriteString("<div class=\"muted\">" + htmlEscape(string(status)) + "</div><div class=\"mono\">" + fmt.Sprintf("%d", res.Summary.StatusCounts[status]) + "</div>")
	}
	b.WriteString("</div>\n")

	b.WriteString("<h2>服务风险评分</h2>\n<div class=\"box\">")
	if len(res.RiskScores) == 0 {
		b.WriteString("<div class=\"muted\">(no non-compliant findings)</div>")
	} else {
		b.WriteString("<table><thead><tr><th>service</th><th>non_compliant</th><th>critical</th><th>score</th></tr></thead><tbody>")
		for _, rs := range res.RiskScores {
			scoreClass := "ok"
			switch {
			case rs.Score >= 70:
				scoreClass = "bad"
			case rs.Score >= 40:
				scoreClass = "warn"
			}
			b.WriteString("<tr>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(string(rs.Service)) + "</td>")
			b.WriteString("<td class=\"mono\">" + fmt.Sprintf("%d", rs.NonCompliant) + "</td>")
			b.WriteString("<td class=\"mono\">" + fmt.Sprintf("%d", rs.CriticalIssues) + "</td>")
			b.WriteString("<td class=\"" + scoreClass + "\">" + fmt.Sprintf("%d", rs.Score) + "</td>")
			b.WriteString("</tr>")
		}
		b.WriteString("</tbody></table>")
	}
	b.WriteString("</div>\n")

	b.WriteString("<h2>检查结果</h2>\n<div class=\"box\">")
	if len(batch) == 0 {
		b.WriteString("<div class=\"muted\">(empty)</div>")
	} else {
		b.WriteString("<table><thead><tr><th>baseline</th><th>service</th><th>status</th><th>risk</th><th>confidence</th><th>gap</th></tr></thead><tbody>")
		for _, r := range batch {
			statusClass := "muted"
			switch r.Status {
			case model.StatusCompliant:
				statusClass = "ok"
			case model.StatusNonCompliant:
				statusClass = "bad"
			case model.StatusUnableToCheck:
				statusClass = "warn"
			}
			b.WriteString("<tr>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(r.BaselineID) + "</td>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(string(r.ServiceName)) + "</td>")
			b.WriteString("<td class=\"" + statusClass + "\">" + htmlEscape(string(r.Status)) + "</td>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(string(r.RiskLevel)) + "</td>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(string(r.Confidence)) + "</td>")
			b.WriteString("<td class=\"mono\">" + htmlEscape(r.GapDescription) + "</td>")
			b.WriteString("</tr>")
		}
		b.WriteString("</tbody></table>")
	}
	b.WriteString("</div>\n")

	b.WriteString("<h2>未完成项</h2>\n<div class=\"box\">")
	if len(res.Failed) == 0 {
		b.WriteString("<div class=\"muted\">(none)</div>")
	} else {
		b.WriteString("<table><thead><tr><th>baseline</th><th>reason</th></tr></thead><tbody>")
		for _, f := range res.Failed {
			b.WriteString("<tr><td class=\"mono\">" + htmlEscape(f.BaselineID) + "</td><td class=\"mono\">" + htmlEscape(f.Reason) + "</td></tr>")
		}
		b.WriteString("</tbody></table>")
	}
	b.WriteString("</div>\n")

	b.WriteString("<h2>Warnings</h2>\n<div class=\"box\">")
	if len(res.Warnings) == 0 {
		b.WriteString("<div class=\"muted\">(none)</div>")
	} else {
		b.WriteString("<ul>")
		for _, w := range res.Warnings {
			if strings.TrimSpace(w) == "" {
				continue
			}
			b.WriteString("<li class=\"mono\">" + htmlEscape(w) + "</li>")
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", "", err
	}

	sum, _, err := hash.File(path)
	if err != nil {
		return "", "", err
	}
	return path, sum, nil
}

// htmlEscape 是极简 HTML 转义（只覆盖报告内可能出现的危险字符）。
func htmlEscape(s string) string {
	if s == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(s)
}
