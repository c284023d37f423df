package gwsapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
)

// scriptRunner 按命令返回预设输出。
type scriptRunner struct {
	byCommand map[string]gamrun.Outcome
}

func (f *scriptRunner) Execute(ctx context.Context, command string) gamrun.Outcome {
	if out, ok := f.byCommand[command]; ok {
		return out
	}
	return gamrun.Outcome{ErrText: "unexpected command: " + command}
}

func TestGetDomainInfo_ParsesCSV(t *testing.T) {
	runner := &scriptRunner{byCommand: map[string]gamrun.Outcome{
		"gam print domains": {OK: true, Stdout: "domainName,verified\nexample.com,True\nalias.example.com,True\n"},
	}}
	c := NewClient(runner, time.Second)

	info, err := c.GetDomainInfo(context.Background())
	if err != nil {
		t.Fatalf("get domain info: %v", err)
	}
	if !info.Available {
		t.Fatalf("expected available")
	}
	if info.PrimaryDomain != "example.com" {
		t.Fatalf("primary = %q", info.PrimaryDomain)
	}
	if len(info.Domains) != 2 || info.Domains[1] != "alias.example.com" {
		t.Fatalf("domains = %v", info.Domains)
	}
}

func TestGetDomainInfo_Unavailable(t *testing.T) {
	runner := &scriptRunner{byCommand: map[string]gamrun.Outcome{
		"gam print domains": {ErrText: "gam not found in PATH"},
	}}
	c := NewClient(runner, time.Second)

	info, err := c.GetDomainInfo(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error must wrap ErrUnavailable: %v", err)
	}
	if info.Available {
		t.Fatalf("info must be marked unavailable")
	}
	if info.Error == "" {
		t.Fatalf("expected error text on info")
	}
}

func TestGetTwoSVEnforcement_CountsEnrolled(t *testing.T) {
	runner := &scriptRunner{byCommand: map[string]gamrun.Outcome{
		"gam print users fields is_enrolled_in_2sv": {
			OK: true,
			Stdout: "primaryEmail,isEnrolledIn2Sv\n" +
				"a@example.com,True\n" +
				"b@example.com,False\n" +
				"c@example.com,True\n" +
				"d@example.com,False\n",
		},
	}}
	c := NewClient(runner, time.Second)

	st, err := c.GetTwoSVEnforcement(context.Background())
	if err != nil {
		t.Fatalf("get 2sv: %v", err)
	}
	if st.TotalUsers != 4 || st.EnrolledUsers != 2 {
		t.Fatalf("counts = %d/%d, want 2/4", st.EnrolledUsers, st.TotalUsers)
	}
	if st.EnforcedPct != 50.0 {
		t.Fatalf("pct = %v, want 50.0", st.EnforcedPct)
	}
}

func TestGetTwoSVEnforcement_EmptyOutput(t *testing.T) {
	runner := &scriptRunner{byCommand: map[string]gamrun.Outcome{
		"gam print users fields is_enrolled_in_2sv": {OK: true, Stdout: ""},
	}}
	c := NewClient(runner, time.Second)

	st, err := c.GetTwoSVEnforcement(context.Background())
	if err != nil {
		t.Fatalf("get 2sv: %v", err)
	}
	if st.TotalUsers != 0 || st.EnforcedPct != 0.0 {
		t.Fatalf("empty output should yield zero counts: %+v", st)
	}
}

func TestCollect_DegradesToWarnings(t *testing.T) {
	runner := &scriptRunner{byCommand: map[string]gamrun.Outcome{
		"gam print domains": {OK: true, Stdout: "domainName\nexample.com\n"},
		// 2sv 查询失败
		"gam print users fields is_enrolled_in_2sv": {ErrText: "quota exceeded"},
	}}
	c := NewClient(runner, time.Second)

	snap := c.Collect(context.Background())
	if snap.CollectedAt == 0 {
		t.Fatalf("collected_at must be set")
	}
	if !snap.Domain.Available {
		t.Fatalf("domain part should have succeeded")
	}
	if snap.TwoSV.Available {
		t.Fatalf("2sv part should be unavailable")
	}
	if len(snap.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", snap.Warnings)
	}
}
