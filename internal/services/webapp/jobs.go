package webapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"scuba-assessor/internal/platform/id"
	"scuba-assessor/internal/services/assessment"
)

type jobManager struct {
	mu   sync.Mutex
	jobs map[string]*assessJob
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*assessJob)}
}

type assessJob struct {
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"` // running|success|failed
	CreatedAt  int64  `json:"created_at"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`

	// Stage/Progress/Logs 是给前端“控制台”用的轻量字段：
	// - 评估内部是按基线粒度推进的，这里不透传每条基线的进度
	// - 但至少能让 UI 展示：当前阶段、百分比、以及实时日志
	Stage    string       `json:"stage,omitempty"`    // assessing|finished
	Progress int          `json:"progress,omitempty"` // 0-100
	Logs     []jobLogLine `json:"logs,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	Assessment *assessment.Result `json:"assessment,omitempty"`

	Error string `json:"error,omitempty"`
}

type jobLogLine struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

func (m *jobManager) put(job *assessJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
}

func (m *jobManager) getCopy(jobID string) (assessJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j == nil {
		return assessJob{}, false
	}
	cpy := *j
	// 深拷贝 slice，避免解锁后后台 goroutine append 导致 data race。
	if len(cpy.Logs) > 0 {
		tmp := make([]jobLogLine, len(cpy.Logs))
		copy(tmp, cpy.Logs)
		cpy.Logs = tmp
	}
	return cpy, true
}

func (m *jobManager) listCopies() []assessJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]assessJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j == nil {
			continue
		}
		cpy := *j
		if len(cpy.Logs) > 0 {
			tmp := make([]jobLogLine, len(cpy.Logs))
			copy(tmp, cpy.Logs)
			cpy.Logs = tmp
		}
		out = append(out, cpy)
	}
	return out
}

type assessRequest struct {
	Operator string   `json:"operator"`
	Services []string `json:"services,omitempty"`
	Parallel *bool    `json:"parallel,omitempty"`
	Workers  int      `json:"workers,omitempty"`

	// TimeoutSeconds/Retries 允许 UI 覆盖服务端默认值（0 表示沿用默认）。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	Retries        int `json:"retries,omitempty"`
}

func (s *Server) handleJobAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req assessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "system"
	}
	parallel := true
	if req.Parallel != nil {
		parallel = *req.Parallel
	}
	workers := req.Workers
	if workers <= 0 {
		workers = s.opts.Workers
	}
	timeout := s.opts.CheckTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	retries := s.opts.CheckRetries
	if req.Retries > 0 {
		retries = req.Retries
	}

	services := make([]string, 0, len(req.Services))
	for _, svc := range req.Services {
		svc = strings.TrimSpace(svc)
		if svc == "" {
			continue
		}
		if !knownService(svc) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown service: %s", svc))
			return
		}
		services = append(services, svc)
	}

	jobID := id.New("job")
	now := time.Now().Unix()
	job := &assessJob{
		JobID:     jobID,
		Kind:      "assess",
		Status:    "running",
		CreatedAt: now,
		StartedAt: now,
		Stage:     "assessing",
		Progress:  1,
		Logs: []jobLogLine{{
			Time:    now,
			Message: "job created",
		}},
	}
	s.jobs.put(job)

	// 先返回一份拷贝，避免后台 goroutine 修改同一对象导致数据竞争。
	resp := *job

	go func() {
		ctx := context.Background()

		// 内部辅助：追加一条 job 日志并更新 stage/progress（带锁，避免 data race）
		update := func(stage string, progress int, msg string) {
			s.jobs.mu.Lock()
			defer s.jobs.mu.Unlock()
			if stage != "" {
				job.Stage = stage
			}
			if progress >= 0 {
				job.Progress = progress
			}
			if strings.TrimSpace(msg) != "" {
				job.Logs = append(job.Logs, jobLogLine{
					Time:    time.Now().Unix(),
					Message: msg,
				})
			}
		}

		update("assessing", 5, "assessment starting")
		res, err := assessment.Run(ctx, assessment.Options{
			DBPath:       s.opts.DBPath,
			Services:     services,
			Parallel:     parallel,
			Workers:      workers,
			CheckTimeout: timeout,
			CheckRetries: retries,
			GAMBinary:    s.opts.GAMBinary,
			Operator:     operator,
		})

		s.jobs.mu.Lock()
		defer s.jobs.mu.Unlock()
		job.Stage = "finished"
		job.Progress = 100
		job.FinishedAt = time.Now().Unix()

		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			job.Logs = append(job.Logs, jobLogLine{Time: time.Now().Unix(), Message: "assessment failed: " + err.Error()})
			return
		}

		job.Assessment = res
		job.SessionID = res.SessionID
		job.Status = "success"
		job.Logs = append(job.Logs, jobLogLine{
			Time: time.Now().Unix(),
			Message: fmt.Sprintf("assessment finished: assessed=%d compliance=%.1f%% failed=%d",
				res.TotalAssessed, res.CompliancePct, len(res.Failed)),
		})
	}()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		// 简单返回全部 job（内测用，后续可加 limit/排序）
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs": s.jobs.listCopies(),
		})
		return
	}

	job, ok := s.jobs.getCopy(rest)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found: %s", rest))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
