package gwsapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
)

// ErrUnavailable 表示当前环境无法访问 Workspace 管理接口。
// 未配置凭据属于正常状态，调用方应降级处理而不是中断。
var ErrUnavailable = errors.New("workspace api unavailable")

// DomainInfo 是域基础信息快照。
type DomainInfo struct {
	PrimaryDomain string   `json:"primary_domain,omitempty"`
	Domains       []string `json:"domains,omitempty"`
	Available     bool     `json:"available"`
	Error         string   `json:"error,omitempty"`
}

// TwoSVStatus 是两步验证覆盖情况快照。
type TwoSVStatus struct {
	TotalUsers    int     `json:"total_users"`
	EnrolledUsers int     `json:"enrolled_users"`
	EnforcedPct   float64 `json:"enforced_pct"`
	Available     bool    `json:"available"`
	Error         string  `json:"error,omitempty"`
}

// Snapshot 是一次环境安全状态采集的聚合结果。
type Snapshot struct {
	Domain      DomainInfo  `json:"domain"`
	TwoSV       TwoSVStatus `json:"two_sv"`
	CollectedAt int64       `json:"collected_at"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Client 通过 GAM 命令行读取 Workspace 管理接口数据。
// 复用 gamrun.Runner，测试时注入假实现。
type Client struct {
	Runner  gamrun.Runner
	Timeout time.Duration
}

func NewClient(runner gamrun.Runner, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{Runner: runner, Timeout: timeout}
}

// GetDomainInfo 查询域列表。第一行视为主域。
func (c *Client) GetDomainInfo(ctx context.Context) (DomainInfo, error) {
	out, err := c.run(ctx, "gam print domains")
	if err != nil {
		return DomainInfo{Error: err.Error()}, err
	}

	domains := parseColumnValues(out, "domainname")
	info := DomainInfo{Domains: domains, Available: true}
	if len(domains) > 0 {
		info.PrimaryDomain = domains[0]
	}
	return info, nil
}

// GetTwoSVEnforcement 统计两步验证的覆盖比例。
func (c *Client) GetTwoSVEnforcement(ctx context.Context) (TwoSVStatus, error) {
	out, err := c.run(ctx, "gam print users fields is_enrolled_in_2sv")
	if err != nil {
		return TwoSVStatus{Error: err.Error()}, err
	}

	total, enrolled := 0, 0
	s := bufio.NewScanner(strings.NewReader(out))
	first := true
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if first {
			// 跳过表头行
			first = false
			if strings.Contains(strings.ToLower(line), "primaryemail") {
				continue
			}
		}
		total++
		if strings.Contains(strings.ToLower(line), "true") {
			enrolled++
		}
	}

	st := TwoSVStatus{TotalUsers: total, EnrolledUsers: enrolled, Available: true}
	if total > 0 {
		st.EnforcedPct = float64(enrolled) / float64(total) * 100
	}
	return st, nil
}

// Collect 聚合全部快照项。单项失败降级为警告，整体不报错。
func (c *Client) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{CollectedAt: time.Now().Unix()}

	domain, err := c.GetDomainInfo(ctx)
	snap.Domain = domain
	if err != nil {
		snap.Warnings = append(snap.Warnings, "domain info: "+err.Error())
	}

	twoSV, err := c.GetTwoSVEnforcement(ctx)
	snap.TwoSV = twoSV
	if err != nil {
		snap.Warnings = append(snap.Warnings, "2sv enforcement: "+err.Error())
	}

	return snap
}

func (c *Client) run(ctx context.Context, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	out := c.Runner.Execute(runCtx, command)
	if !out.OK {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, out.ErrText)
	}
	return out.Stdout, nil
}

// parseColumnValues 解析 gam 的 CSV 输出，取指定列（默认第一列）。
func parseColumnValues(raw, header string) []string {
	s := bufio.NewScanner(strings.NewReader(raw))
	var out []string
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		field := line
		if idx := strings.Index(line, ","); idx >= 0 {
			field = line[:idx]
		}
		field = strings.TrimSpace(field)
		if field == "" || strings.EqualFold(field, header) {
			continue
		}
		out = append(out, field)
	}
	return out
}
