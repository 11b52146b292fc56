package gecwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WHAT: a YAML config file round-trips into the typed Config with
// defaults filled for omitted sections.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gecwatch.yaml")
	data := `
db_path: /var/lib/gecwatch/gecwatch.db
fetch:
  timeout: 20s
  proxy_base: https://r.jina.ai
scheduler:
  check_interval: 10m
  max_failures: 3
pipeline:
  detail_delay_min: 500ms
  detail_delay_max: 2s
  page_param: page
  max_pages: 5
llm:
  api_key: sk-test
  model: gpt-4o-mini
email:
  enabled: true
  host: smtp.example.cn
  port: 465
  from: gecwatch@example.cn
  to: ops@example.cn
sources:
  - name: 南方电网招标公告
    url: https://bidding.csg.cn/moudle/zbgg.html
    kind: listing
    interval_hours: 6
    defended: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	if cfg.DBPath != "/var/lib/gecwatch/gecwatch.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Fetch.Timeout != 20*time.Second {
		t.Errorf("Fetch.Timeout = %v", cfg.Fetch.Timeout)
	}
	if cfg.Scheduler.CheckInterval != 10*time.Minute || cfg.Scheduler.MaxFailures != 3 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.PageParam != "page" || cfg.Pipeline.MaxPages != 5 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if !cfg.Email.Enabled || cfg.Email.Host != "smtp.example.cn" || cfg.Email.To != "ops@example.cn" {
		t.Errorf("email = %+v", cfg.Email)
	}
	if len(cfg.Sources) != 1 || !cfg.Sources[0].Defended || cfg.Sources[0].IntervalHours != 6 {
		t.Errorf("sources = %+v", cfg.Sources)
	}
}

// WHAT: missing sections fall back to operational defaults so a minimal
// config file is enough to run.
func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.defaults()
	if cfg.DBPath != "gecwatch.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Scheduler.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v", cfg.Scheduler.CheckInterval)
	}
	if cfg.Scheduler.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d", cfg.Scheduler.MaxFailures)
	}
}

// WHAT: the built-in config seeds the four power-grid portal channels.
func TestDefaultConfigSources(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Sources) != 4 {
		t.Fatalf("got %d default sources, want 4", len(cfg.Sources))
	}
	for _, s := range cfg.Sources {
		if s.Kind != "listing" {
			t.Errorf("source %q kind = %q, want listing", s.Name, s.Kind)
		}
	}
}
