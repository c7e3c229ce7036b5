package config

import (
	"os"
	"path/filepath"
	"testing"
)

const baseYAML = `
paths:
  clients_db: "/srv/xray/clients.db"
domain: "vpn.example.com"

xray:
  binary: "/usr/local/bin/xray"
  api_server: "127.0.0.1:10085"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, baseYAML+`
online:
  tail_lines: 0
  window_sec: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.ClientsDB != "/srv/xray/clients.db" || cfg.Paths.InboundsDB != "/etc/xray/inbounds.db" {
		t.Fatalf("unexpected paths: %+v", cfg.Paths)
	}
	if cfg.Online.TailLines != 2000 || cfg.Online.WindowSec != 10 {
		t.Fatalf("unexpected online defaults: %+v", cfg.Online)
	}
	if cfg.Xray.APITimeoutSec != 5 || cfg.Xray.Service != "xray" {
		t.Fatalf("unexpected xray defaults: %+v", cfg.Xray)
	}
	if cfg.Jobs.Expiry != DefaultExpirySpec || cfg.Web.Listen != DefaultWebListen {
		t.Fatalf("unexpected job/web defaults: %+v %+v", cfg.Jobs, cfg.Web)
	}
	if cfg.Domain != "vpn.example.com" {
		t.Fatalf("domain = %q", cfg.Domain)
	}
}

func TestLoadDomainFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	domainFile := filepath.Join(dir, "domain")
	if err := os.WriteFile(domainFile, []byte("edge.example.net\n"), 0o600); err != nil {
		t.Fatalf("write domain: %v", err)
	}
	path := writeConfig(t, "paths:\n  domain_file: \""+domainFile+"\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Domain != "edge.example.net" {
		t.Fatalf("domain = %q", cfg.Domain)
	}
}

func TestLoadEnvFileOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TELEGRAM_BOT_TOKEN=abc:def\nTELEGRAM_ADMIN_ID=11, 22\nXRAY_PANEL_ADMIN_PASS=s3cret\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	path := writeConfig(t, "domain: x.example\npaths:\n  env_file: \""+envFile+"\"\nweb:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "abc:def" || len(cfg.Bot.AdminIDs) != 2 || cfg.Bot.AdminIDs[1] != 22 {
		t.Fatalf("bot overrides not applied: %+v", cfg.Bot)
	}
	if cfg.Web.AdminPass != "s3cret" || cfg.Web.AdminUser != "admin" {
		t.Fatalf("web overrides not applied: %+v", cfg.Web)
	}
}

func TestLoadValidation(t *testing.T) {
	path := writeConfig(t, "domain: x\nweb:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for web without password")
	}
	path = writeConfig(t, "domain: x\nbot:\n  token: \"t\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bot without admins")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing non-default config")
	}
}
