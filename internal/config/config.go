package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "/etc/xray-panel/config.yaml"
	DefaultAPITimeoutSec  = 5
	DefaultOnlineTail     = 2000
	DefaultOnlineWindow   = 10
	DefaultExpirySpec     = "@every 1m"
	DefaultQuotaSpec      = "@every 5m"
	DefaultReconcileSpec  = "@every 1m"
	DefaultWebListen      = ":5000"
	DefaultDomainFallback = "localhost"
)

type Config struct {
	Paths struct {
		ClientsDB  string `yaml:"clients_db"`
		InboundsDB string `yaml:"inbounds_db"`
		XrayConfig string `yaml:"xray_config"`
		AccessLog  string `yaml:"access_log"`
		DomainFile string `yaml:"domain_file"`
		SessionDir string `yaml:"session_dir"`
		LockFile   string `yaml:"lock_file"`
		EnvFile    string `yaml:"env_file"`
	} `yaml:"paths"`

	Domain string `yaml:"domain"`

	Xray struct {
		Binary        string `yaml:"binary"`
		APIServer     string `yaml:"api_server"`
		APITimeoutSec int    `yaml:"api_timeout_sec"`
		Service       string `yaml:"service"`
		ReloadCmd     string `yaml:"reload_cmd"`
		TestConfig    bool   `yaml:"test_config"`
	} `yaml:"xray"`

	Online struct {
		TailLines int `yaml:"tail_lines"`
		WindowSec int `yaml:"window_sec"`
	} `yaml:"online"`

	Jobs struct {
		Expiry    string `yaml:"expiry"`
		Quota     string `yaml:"quota"`
		Reconcile string `yaml:"reconcile"`
	} `yaml:"jobs"`

	Web struct {
		Enabled   bool   `yaml:"enabled"`
		Listen    string `yaml:"listen"`
		AdminUser string `yaml:"admin_user"`
		AdminPass string `yaml:"admin_pass"`
	} `yaml:"web"`

	Bot struct {
		Token    string  `yaml:"token"`
		AdminIDs []int64 `yaml:"admin_ids"`
	} `yaml:"bot"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads the YAML file, applies .env/env overrides and defaults.
// A missing file is only accepted at DefaultPath.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Domain == "" {
		cfg.Domain = readDomain(cfg.Paths.DomainFile)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Paths.ClientsDB, "/etc/xray/clients.db")
	setDefault(&c.Paths.InboundsDB, "/etc/xray/inbounds.db")
	setDefault(&c.Paths.XrayConfig, "/usr/local/etc/xray/config.json")
	setDefault(&c.Paths.AccessLog, "/var/log/xray/access.log")
	setDefault(&c.Paths.DomainFile, "/root/domain")
	setDefault(&c.Paths.SessionDir, os.TempDir())
	setDefault(&c.Paths.LockFile, "/etc/xray/.xray-panel.lock")
	setDefault(&c.Paths.EnvFile, "/etc/xray-panel/.env")

	setDefault(&c.Xray.APIServer, "127.0.0.1:10085")
	setDefault(&c.Xray.Service, "xray")
	if c.Xray.APITimeoutSec <= 0 {
		c.Xray.APITimeoutSec = DefaultAPITimeoutSec
	}
	if c.Online.TailLines <= 0 {
		c.Online.TailLines = DefaultOnlineTail
	}
	if c.Online.WindowSec <= 0 {
		c.Online.WindowSec = DefaultOnlineWindow
	}
	setDefault(&c.Jobs.Expiry, DefaultExpirySpec)
	setDefault(&c.Jobs.Quota, DefaultQuotaSpec)
	setDefault(&c.Jobs.Reconcile, DefaultReconcileSpec)
	setDefault(&c.Web.Listen, DefaultWebListen)
	setDefault(&c.Web.AdminUser, "admin")
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

// applyEnv lets the env file and the process environment carry secrets.
// Process variables win over the file.
func (c *Config) applyEnv() error {
	env := map[string]string{}
	if c.Paths.EnvFile != "" {
		fileEnv, err := godotenv.Read(c.Paths.EnvFile)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read env file %s: %w", c.Paths.EnvFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return env[key]
	}

	if v := lookup("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Bot.Token = v
	}
	if v := lookup("TELEGRAM_ADMIN_ID"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ADMIN_ID: %w", err)
		}
		c.Bot.AdminIDs = ids
	}
	if v := lookup("XRAY_PANEL_ADMIN_USER"); v != "" {
		c.Web.AdminUser = v
	}
	if v := lookup("XRAY_PANEL_ADMIN_PASS"); v != "" {
		c.Web.AdminPass = v
	}
	if v := lookup("XRAY_PANEL_DOMAIN"); v != "" {
		c.Domain = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Web.Enabled && c.Web.AdminPass == "" {
		return errors.New("web.admin_pass required when web.enabled")
	}
	if c.Bot.Token != "" && len(c.Bot.AdminIDs) == 0 {
		return errors.New("bot.admin_ids required when bot.token is set")
	}
	return nil
}

func readDomain(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultDomainFallback
	}
	if d := strings.TrimSpace(string(data)); d != "" {
		return d
	}
	return DefaultDomainFallback
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
