package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scuba-assessor/internal/domain/model"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

const validCatalog = `
version: "2026-08-01"
bundle_type: scuba_baselines
maintainer: security team
meta:
  framework: CISA SCuBA for Google Workspace
  revision: "1.3"
baselines:
  - id: GWS.GMAIL.1.1
    enabled: true
    service: gmail
    title: SPF record published
    requirement: SPF SHALL be published for all domains
    remediation: Publish a v=spf1 TXT record
    references:
      - https://example.com/spf
    criticality: high
    check_type: configuration
    gam_command: gam print domains spf
    expected_value: v=spf1
    check_logic:
      match: substring
  - id: GWS.GMAIL.4.1
    enabled: true
    service: gmail
    title: Phishing training verified
    requirement: Admins SHALL review phishing protections
    criticality: medium
    check_type: manual
`

func TestLoad_ValidCatalog(t *testing.T) {
	path := writeCatalog(t, validCatalog)
	loaded, err := NewLoader(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SHA256 == "" {
		t.Fatalf("expected file sha256")
	}
	if loaded.Bundle.Version != "2026-08-01" {
		t.Fatalf("version = %q", loaded.Bundle.Version)
	}
	if loaded.Bundle.Meta.Framework == "" {
		t.Fatalf("expected framework meta")
	}
	if len(loaded.Bundle.Baselines) != 2 {
		t.Fatalf("baselines = %d, want 2", len(loaded.Bundle.Baselines))
	}
}

func TestLoad_ShippedTemplateIsValid(t *testing.T) {
	// 仓库自带的目录模板必须始终能通过校验
	path := filepath.Join("..", "..", "..", "catalog", "scuba_baselines.template.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("template not present: %v", err)
	}
	loaded, err := NewLoader(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load shipped template: %v", err)
	}
	for _, entry := range loaded.Bundle.Baselines {
		if _, err := ToBaseline(entry); err != nil {
			t.Fatalf("convert %s: %v", entry.ID, err)
		}
	}
}

func TestLoad_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    strings.Replace(validCatalog, `version: "2026-08-01"`, `version: ""`, 1),
			wantErr: "version is required",
		},
		{
			name:    "duplicate id",
			yaml:    strings.Replace(validCatalog, "GWS.GMAIL.4.1", "GWS.GMAIL.1.1", 1),
			wantErr: "duplicate baseline id",
		},
		{
			name:    "unknown service",
			yaml:    strings.Replace(validCatalog, "service: gmail", "service: keep", 1),
			wantErr: "unknown service",
		},
		{
			name:    "unknown check type",
			yaml:    strings.Replace(validCatalog, "check_type: manual", "check_type: registry_scan", 1),
			wantErr: "unknown check_type",
		},
		{
			name:    "unknown criticality",
			yaml:    strings.Replace(validCatalog, "criticality: high", "criticality: urgent", 1),
			wantErr: "unknown criticality",
		},
		{
			name:    "configuration without gam command",
			yaml:    strings.Replace(validCatalog, "gam_command: gam print domains spf", "gam_command: \"\"", 1),
			wantErr: "gam_command is required",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeCatalog(t, c.yaml)
			_, err := NewLoader(path).Load(context.Background())
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", c.wantErr)
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, c.wantErr)
			}
		})
	}
}

func TestToBaseline_EncodesCheckLogic(t *testing.T) {
	b, err := ToBaseline(model.BaselineEntry{
		ID:          "  GWS.DRIVE.1.1  ",
		Enabled:     true,
		Service:     "drive",
		Title:       "External sharing restricted",
		Criticality: "critical",
		CheckType:   "configuration",
		GAMCommand:  "  gam print drivesettings  ",
		Expected:    "sharing_disabled",
		CheckLogic:  map[string]any{"match": "substring"},
	})
	if err != nil {
		t.Fatalf("to baseline: %v", err)
	}
	if b.BaselineID != "GWS.DRIVE.1.1" {
		t.Fatalf("id not trimmed: %q", b.BaselineID)
	}
	if b.GAMCommand != "gam print drivesettings" {
		t.Fatalf("gam command not trimmed: %q", b.GAMCommand)
	}
	if b.ServiceName != model.ServiceDrive || b.Criticality != model.CriticalityCritical {
		t.Fatalf("enum conversion: %+v", b)
	}
	if !strings.Contains(string(b.CheckLogic), `"match":"substring"`) {
		t.Fatalf("check_logic = %s", b.CheckLogic)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing catalog file")
	}
}
