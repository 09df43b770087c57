package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseYAML(t *testing.T) {
	doc := `
server:
  addr: ":9090"
  basic_auth_user: admin
  basic_auth_pass: changeme
storage:
  path: /var/lib/pipeline/app.db
  encryption_key: k3y
synthesis:
  model: gpt-4o-mini
  api_key: sk-test
alerts:
  on_failure_only: true
  email:
    host: smtp.internal
    port: 587
    from_address: etl@internal
    recipients:
      - ops@internal
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.BasicAuthUser != "admin" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Path != "/var/lib/pipeline/app.db" || cfg.Storage.EncryptionKey != "k3y" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Synthesis.Model != "gpt-4o-mini" {
		t.Errorf("synthesis = %+v", cfg.Synthesis)
	}
	if cfg.Alerts.Email == nil || cfg.Alerts.Email.Host != "smtp.internal" || !cfg.Alerts.OnFailureOnly {
		t.Errorf("alerts = %+v", cfg.Alerts)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{"server":{"addr":":7070"},"storage":{"path":"x.db"}}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Storage.Path != "x.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Path != "data/app.db" {
		t.Errorf("default path = %q", cfg.Storage.Path)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("%%% nope %%%")); err == nil {
		t.Fatal("garbage must not parse")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Alerts.Email = &EmailAlert{Host: "smtp.internal"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "alerts.email") {
		t.Errorf("email validation = %v", err)
	}

	cfg = Default()
	cfg.Alerts.SMS = &SMSAlert{SystemID: "sys"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "alerts.sms") {
		t.Errorf("sms validation = %v", err)
	}

	cfg = Default()
	cfg.Server.BasicAuthUser = "admin"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "basic auth") {
		t.Errorf("auth validation = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":6060\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":6060" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must fail")
	}
}
