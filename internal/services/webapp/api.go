package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"scuba-assessor/internal/domain/model"
	"scuba-assessor/internal/services/aggregate"
	"scuba-assessor/internal/services/reportpdf"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "webapp",
		"time":    time.Now().Unix(),
	})
}

// handleSummary 返回指定会话（缺省为最近一次）的汇总与服务风险评分。
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	var ov *model.SessionOverview
	var err error
	if sessionID == "" {
		ov, err = s.store.GetLatestSessionOverview(r.Context())
	} else {
		ov, err = s.store.GetSessionOverview(r.Context(), sessionID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ov == nil {
		writeJSON(w, http.StatusOK, map[string]any{"overview": nil})
		return
	}

	rows, err := s.store.ListResults(r.Context(), model.ResultFilter{SessionID: ov.SessionID, Limit: 2000})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overview":    ov,
		"risk_scores": aggregate.ServiceRiskScores(riskInputs(rows)),
	})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	days := parseInt(r.URL.Query().Get("days"), 30)
	points, err := s.store.ListTrendPoints(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.ComputeTrends(days, points))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := model.ResultFilter{
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Service:   strings.TrimSpace(q.Get("service")),
		Status:    strings.TrimSpace(q.Get("status")),
		RiskLevel: strings.TrimSpace(q.Get("risk_level")),
		SinceDays: parseInt(q.Get("days"), 0),
		Limit:     parseInt(q.Get("limit"), 200),
	}
	rows, err := s.store.ListResults(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	rows, err := s.store.ListSessionOverviews(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": rows})
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	sessionID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "overview":
		s.handleSessionOverview(w, r, sessionID)
	case "results":
		s.handleSessionResults(w, r, sessionID)
	case "audits":
		s.handleSessionAudits(w, r, sessionID)
	case "reports":
		s.handleSessionReports(w, r, sessionID)
	case "report":
		s.handleSessionReport(w, r, sessionID)
	case "exports":
		// /api/sessions/{session_id}/exports/{kind}
		//
		// 目前支持：
		// - POST /api/sessions/{session_id}/exports/assessment-pdf
		restParts := []string{}
		if len(parts) > 2 {
			restParts = parts[2:]
		}
		s.handleSessionExports(w, r, sessionID, restParts)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleSessionOverview(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ov, err := s.store.GetSessionOverview(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ov == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session not found: %s", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	rows, err := s.store.ListResults(r.Context(), model.ResultFilter{
		SessionID: sessionID,
		Service:   strings.TrimSpace(q.Get("service")),
		Status:    strings.TrimSpace(q.Get("status")),
		RiskLevel: strings.TrimSpace(q.Get("risk_level")),
		Limit:     parseInt(q.Get("limit"), 200),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

func (s *Server) handleSessionAudits(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 500)
	rows, err := s.store.ListAuditLogs(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": rows})
}

func (s *Server) handleSessionReports(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, err := s.store.ListReportsBySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": rows})
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reportID := strings.TrimSpace(r.URL.Query().Get("report_id"))
	includeContent := parseBool(r.URL.Query().Get("content"), true)

	var report *model.ReportInfo
	var err error
	if reportID != "" {
		report, err = s.store.GetReportByID(r.Context(), reportID)
	} else {
		report, err = s.store.GetLatestReportBySession(r.Context(), sessionID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusOK, map[string]any{"report": nil})
		return
	}

	out := map[string]any{"report": report}
	// 只有文本类报告才允许内联内容。PDF 属于二进制产物，只能走 download。
	if includeContent && (report.ReportType == "internal_json" || report.ReportType == "internal_html") {
		raw, err := os.ReadFile(report.FilePath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out["content"] = string(raw)
		out["content_length"] = len(raw)
		out["content_available"] = true
	} else {
		out["content_available"] = false
		if includeContent {
			out["content_omitted_reason"] = "binary_report_or_not_supported"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSessionExports 负责导出产物生成入口（内测模式先走同步生成，后续可升级为后台任务）。
func (s *Server) handleSessionExports(w http.ResponseWriter, r *http.Request, sessionID string, parts []string) {
	if len(parts) < 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	kind := strings.TrimSpace(parts[0])

	switch kind {
	case "assessment-pdf":
		s.handleSessionExportPDF(w, r, sessionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleSessionExportPDF(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	type reqBody struct {
		Operator string `json:"operator,omitempty"`
		Note     string `json:"note,omitempty"`
	}
	var req reqBody
	_ = json.NewDecoder(r.Body).Decode(&req) // 允许空 body

	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "system"
	}

	res, err := reportpdf.GenerateAssessmentPDF(r.Context(), s.store, reportpdf.Options{
		SessionID: sessionID,
		DBPath:    s.opts.DBPath,
		Operator:  operator,
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	info, err := s.store.GetReportByID(r.Context(), res.ReportID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"session_id": sessionID,
		"report_id":  res.ReportID,
		"pdf_path":   res.PDFPath,
		"pdf_sha256": res.PDFSHA256,
		"warnings":   res.Warnings,
		"report":     info,
	})
}

// handleServices 管理服务启用开关：
// - GET 返回全部已知服务及其启用状态
// - POST {service, enabled, note} 更新开关
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		type serviceToggle struct {
			Service string `json:"service"`
			Enabled bool   `json:"enabled"`
		}
		out := []serviceToggle{}
		for _, svc := range model.KnownServices() {
			enabled, err := s.store.IsServiceEnabled(r.Context(), string(svc))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out = append(out, serviceToggle{Service: string(svc), Enabled: enabled})
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": out})
	case http.MethodPost:
		type reqBody struct {
			Service string `json:"service"`
			Enabled bool   `json:"enabled"`
			Note    string `json:"note,omitempty"`
		}
		var req reqBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		service := strings.TrimSpace(req.Service)
		if !knownService(service) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown service: %s", service))
			return
		}
		if err := s.store.SetServiceEnabled(r.Context(), service, req.Enabled, strings.TrimSpace(req.Note)); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": service,
			"enabled": req.Enabled,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReportRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	reportID := parts[0]
	action := parts[1]
	if action != "download" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	info, err := s.store.GetReportByID(r.Context(), reportID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("report not found: %s", reportID))
		return
	}
	serveFile(w, r, info.FilePath, "report_"+reportID)
}

// --- helpers ---

func riskInputs(rows []model.ResultInfo) []model.ComplianceResult {
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

func knownService(name string) bool {
	for _, s := range model.KnownServices() {
		if string(s) == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def
	}
	switch s {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
