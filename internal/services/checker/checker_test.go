package checker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scuba-assessor/internal/adapters/gamrun"
	"scuba-assessor/internal/domain/model"
)

type fakeToggle struct {
	disabled map[string]bool
	err      error
}

func (f *fakeToggle) IsServiceEnabled(ctx context.Context, service string) (bool, error) {
	if f.err != nil {
		return true, f.err
	}
	return !f.disabled[service], nil
}

// fakeRunner 按调用次数返回脚本化的 Outcome，便于验证重试行为。
type fakeRunner struct {
	outcomes []gamrun.Outcome
	calls    int
}

func (f *fakeRunner) Execute(ctx context.Context, command string) gamrun.Outcome {
	idx := f.calls
	f.calls++
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx]
}

// panicRunner 用于验证执行器 panic 不会逃逸到调用方。
type panicRunner struct{}

func (panicRunner) Execute(ctx context.Context, command string) gamrun.Outcome {
	panic("boom")
}

func configBaseline(id string) model.Baseline {
	return model.Baseline{
		BaselineID:  id,
		ServiceName: model.ServiceGmail,
		Title:       "SPF enabled",
		Criticality: model.CriticalityHigh,
		CheckType:   model.CheckConfiguration,
		GAMCommand:  "gam print domains spf",
		Expected:    "v=spf1",
		Enabled:     true,
	}
}

func TestDispatch_DisabledServiceShortCircuits(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true, Stdout: "v=spf1"}}}
	d := NewDispatcher(Config{}, &fakeToggle{disabled: map[string]bool{"gmail": true}}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusNotApplicable {
		t.Fatalf("expected not_applicable, got %s", res.Status)
	}
	if res.RiskLevel != model.CriticalityLow {
		t.Fatalf("expected risk low, got %s", res.RiskLevel)
	}
	if res.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected confidence high, got %s", res.Confidence)
	}
	if runner.calls != 0 {
		t.Fatalf("disabled service must not trigger any command, got %d calls", runner.calls)
	}
	if res.SessionID != "session_1" || res.ID == "" || res.AssessedAt == 0 {
		t.Fatalf("result identity fields not filled: %+v", res)
	}
}

func TestDispatch_ToggleErrorProceedsAsEnabled(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true, Stdout: "v=spf1 include:_spf.google.com"}}}
	d := NewDispatcher(Config{}, &fakeToggle{err: errors.New("db busy")}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusCompliant {
		t.Fatalf("expected compliant, got %s (%s)", res.Status, res.GapDescription)
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly one command call, got %d", runner.calls)
	}
}

func TestDispatch_ConfigurationCompliantCaseInsensitive(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true, Stdout: "  V=SPF1 include:_spf.google.com ~all\n"}}}
	d := NewDispatcher(Config{}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusCompliant {
		t.Fatalf("expected compliant, got %s (%s)", res.Status, res.GapDescription)
	}
	if res.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected confidence high, got %s", res.Confidence)
	}
	if res.CheckMethod != "gam_command" {
		t.Fatalf("unexpected check method: %s", res.CheckMethod)
	}
	if strings.HasPrefix(res.CurrentValue, " ") || strings.HasSuffix(res.CurrentValue, "\n") {
		t.Fatalf("current value must be trimmed: %q", res.CurrentValue)
	}
}

func TestDispatch_ConfigurationNonCompliantTruncatesGap(t *testing.T) {
	longActual := strings.Repeat("x", 300)
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true, Stdout: longActual}}}
	d := NewDispatcher(Config{}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusNonCompliant {
		t.Fatalf("expected non_compliant, got %s", res.Status)
	}
	if res.RiskLevel != model.CriticalityHigh {
		t.Fatalf("risk must follow baseline criticality, got %s", res.RiskLevel)
	}
	// gap 中 actual 截断到 100 字符 + 省略号
	if !strings.Contains(res.GapDescription, strings.Repeat("x", 100)+"...") {
		t.Fatalf("gap should contain truncated actual: %s", res.GapDescription)
	}
	if strings.Contains(res.GapDescription, strings.Repeat("x", 101)) {
		t.Fatalf("gap actual not truncated at 100: %s", res.GapDescription)
	}
	if len(res.CurrentValue) > 503 {
		t.Fatalf("current value exceeds cap: %d", len(res.CurrentValue))
	}
}

func TestDispatch_EmptyExpectedValueIsNonCompliant(t *testing.T) {
	b := configBaseline("GWS.GMAIL.1.1")
	b.Expected = ""
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true, Stdout: "anything at all"}}}
	d := NewDispatcher(Config{}, &fakeToggle{}, runner)

	// 空期望值对任意输出都是子串，不允许因此判为合规。
	res := d.Dispatch(context.Background(), "session_1", b)
	if res.Status != model.StatusNonCompliant {
		t.Fatalf("empty expected value must be non_compliant, got %s", res.Status)
	}
	if res.RiskLevel != model.CriticalityHigh {
		t.Fatalf("risk must follow baseline criticality, got %s", res.RiskLevel)
	}
	if !strings.Contains(res.GapDescription, `expected ""`) {
		t.Fatalf("unexpected gap: %s", res.GapDescription)
	}
}

func TestDispatch_TimeoutBecomesUnableToCheck(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{
		{TimedOut: true, ErrText: "gam print domains spf: timed out"},
	}}
	d := NewDispatcher(Config{Timeout: 50 * time.Millisecond, Retries: 2}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusUnableToCheck {
		t.Fatalf("expected unable_to_check, got %s", res.Status)
	}
	if res.RiskLevel != model.CriticalityMedium {
		t.Fatalf("command failure must carry risk medium, got %s", res.RiskLevel)
	}
	if !strings.Contains(res.GapDescription, "check command failed") {
		t.Fatalf("unexpected gap: %s", res.GapDescription)
	}
	if !strings.Contains(string(res.EvidenceJSON), model.ErrExecutionFailure.Error()) {
		t.Fatalf("evidence should carry the execution failure sentinel: %s", res.EvidenceJSON)
	}
	// 超时是瞬时失败，应按配置重试到上限
	if runner.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", runner.calls)
	}
}

func TestDispatch_NonTransientFailureDoesNotRetry(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{
		{ErrText: "gam: unknown command print domainz"},
	}}
	d := NewDispatcher(Config{Retries: 3}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusUnableToCheck {
		t.Fatalf("expected unable_to_check, got %s", res.Status)
	}
	if runner.calls != 1 {
		t.Fatalf("non-transient failure must not retry, got %d attempts", runner.calls)
	}
}

func TestDispatch_TransientFailureThenSuccess(t *testing.T) {
	runner := &fakeRunner{outcomes: []gamrun.Outcome{
		{ErrText: "quota exceeded for quota metric"},
		{OK: true, Stdout: "v=spf1 ~all"},
	}}
	d := NewDispatcher(Config{Retries: 3}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusCompliant {
		t.Fatalf("expected compliant after retry, got %s (%s)", res.Status, res.GapDescription)
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", runner.calls)
	}
}

func TestDispatch_MissingGAMCommand(t *testing.T) {
	b := configBaseline("GWS.GMAIL.1.1")
	b.GAMCommand = ""
	runner := &fakeRunner{outcomes: []gamrun.Outcome{{OK: true}}}
	d := NewDispatcher(Config{}, &fakeToggle{}, runner)

	res := d.Dispatch(context.Background(), "session_1", b)
	if res.Status != model.StatusUnableToCheck {
		t.Fatalf("expected unable_to_check, got %s", res.Status)
	}
	if runner.calls != 0 {
		t.Fatalf("missing command must not call runner, got %d", runner.calls)
	}
}

func TestDispatch_ManualCheck(t *testing.T) {
	b := configBaseline("GWS.COMMONCONTROLS.4.1")
	b.ServiceName = model.ServiceCommonControls
	b.CheckType = model.CheckManual
	b.Criticality = model.CriticalityMedium
	d := NewDispatcher(Config{}, &fakeToggle{}, &fakeRunner{outcomes: []gamrun.Outcome{{}}})

	res := d.Dispatch(context.Background(), "session_1", b)
	if res.Status != model.StatusManualReview {
		t.Fatalf("expected manual_review, got %s", res.Status)
	}
	if res.Confidence != model.ConfidenceLow {
		t.Fatalf("manual check confidence must be low, got %s", res.Confidence)
	}
	if res.RiskLevel != model.CriticalityMedium {
		t.Fatalf("manual check risk must follow criticality, got %s", res.RiskLevel)
	}
	if res.CheckMethod != "manual" {
		t.Fatalf("unexpected check method: %s", res.CheckMethod)
	}
}

func TestDispatch_AuditLogAndAPICheckAreDeferred(t *testing.T) {
	d := NewDispatcher(Config{}, &fakeToggle{}, &fakeRunner{outcomes: []gamrun.Outcome{{}}})

	for checkType, method := range map[model.CheckType]string{
		model.CheckAuditLog: "audit_log_analysis",
		model.CheckAPI:      "api_call",
	} {
		b := configBaseline("GWS.GMAIL.3.1")
		b.CheckType = checkType
		b.APIEndpoint = "admin/reports/v1/activity"

		res := d.Dispatch(context.Background(), "session_1", b)
		if res.Status != model.StatusManualReview {
			t.Fatalf("%s: expected manual_review, got %s", checkType, res.Status)
		}
		if res.Confidence != model.ConfidenceMedium {
			t.Fatalf("%s: expected confidence medium, got %s", checkType, res.Confidence)
		}
		if res.CheckMethod != method {
			t.Fatalf("%s: unexpected check method %s", checkType, res.CheckMethod)
		}
	}
}

func TestDispatch_UnsupportedCheckType(t *testing.T) {
	b := configBaseline("GWS.GMAIL.9.9")
	b.CheckType = model.CheckType("registry_scan")
	d := NewDispatcher(Config{}, &fakeToggle{}, &fakeRunner{outcomes: []gamrun.Outcome{{}}})

	res := d.Dispatch(context.Background(), "session_1", b)
	if res.Status != model.StatusUnableToCheck {
		t.Fatalf("expected unable_to_check, got %s", res.Status)
	}
	if !strings.Contains(res.GapDescription, "unsupported check type: registry_scan") {
		t.Fatalf("unexpected gap: %s", res.GapDescription)
	}
	if !strings.Contains(string(res.EvidenceJSON), model.ErrUnsupportedCheckType.Error()) {
		t.Fatalf("evidence should carry the sentinel text: %s", res.EvidenceJSON)
	}
}

func TestDispatch_PanicRecoversToResult(t *testing.T) {
	d := NewDispatcher(Config{Retries: 1}, &fakeToggle{}, panicRunner{})

	res := d.Dispatch(context.Background(), "session_1", configBaseline("GWS.GMAIL.1.1"))
	if res.Status != model.StatusUnableToCheck {
		t.Fatalf("expected unable_to_check after panic, got %s", res.Status)
	}
	if !strings.Contains(string(res.EvidenceJSON), "panic: boom") {
		t.Fatalf("evidence should record the panic: %s", res.EvidenceJSON)
	}
	if res.SessionID != "session_1" || res.ID == "" {
		t.Fatalf("identity fields must still be filled: %+v", res)
	}
}
