package gecwatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gecwatch/gecwatch/internal/discover"
	"github.com/gecwatch/gecwatch/internal/extract"
	"github.com/gecwatch/gecwatch/internal/fetch"
	"github.com/gecwatch/gecwatch/internal/notify"
	"github.com/gecwatch/gecwatch/internal/pipeline"
	"github.com/gecwatch/gecwatch/internal/scheduler"
)

// Config configures the gecwatch service.
type Config struct {
	// DBPath is the SQLite database file. Default: gecwatch.db.
	DBPath string `yaml:"db_path"`

	Fetch     FetchConfig        `yaml:"fetch"`
	Pipeline  PipelineConfig     `yaml:"pipeline"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	LLM       LLMConfig          `yaml:"llm"`
	Email     notify.EmailConfig `yaml:"email"`

	// Sources are seeded into the database on startup. Already-known
	// URLs are left untouched.
	Sources []SourceSeed `yaml:"sources"`
}

// FetchConfig controls page retrieval.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	ProxyBase string        `yaml:"proxy_base"`
	Retries   int           `yaml:"retries"`
}

// PipelineConfig controls listing traversal.
type PipelineConfig struct {
	DetailDelayMin time.Duration `yaml:"detail_delay_min"`
	DetailDelayMax time.Duration `yaml:"detail_delay_max"`
	MaxDetailLinks int           `yaml:"max_detail_links"`
	AllowPatterns  []string      `yaml:"allow_patterns"`
	DenyPatterns   []string      `yaml:"deny_patterns"`
	PageParam      string        `yaml:"page_param"`
	MaxPages       int           `yaml:"max_pages"`
}

// SchedulerConfig controls the due-source poller.
type SchedulerConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxFailures   int           `yaml:"max_failures"`
}

// LLMConfig controls the completion-service extractor. Extraction by
// inference stays off until an API key is configured.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SourceSeed declares one source in the config file.
type SourceSeed struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Kind          string `yaml:"kind"`
	OwnerID       string `yaml:"owner_id"`
	Defended      bool   `yaml:"defended"`
	IntervalHours int    `yaml:"interval_hours"`
	MinBodyBytes  int    `yaml:"min_body_bytes"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "gecwatch.db"
	}
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = 5 * time.Minute
	}
	if c.Scheduler.MaxFailures <= 0 {
		c.Scheduler.MaxFailures = 5
	}
}

// DefaultConfig returns the configuration used when no file is given:
// the China Southern Power Grid bidding portal's announcement channels.
func DefaultConfig() *Config {
	cfg := &Config{
		Sources: []SourceSeed{
			{Name: "南方电网招标公告", URL: "https://bidding.csg.cn/moudle/zbgg.html", Kind: "listing"},
			{Name: "南方电网采购公告", URL: "https://bidding.csg.cn/moudle/cggg.html", Kind: "listing"},
			{Name: "南方电网中标候选人公示", URL: "https://bidding.csg.cn/moudle/zbhxr.html", Kind: "listing"},
			{Name: "南方电网零星采购公告", URL: "https://bidding.csg.cn/moudle/lxcggg.html", Kind: "listing"},
		},
	}
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}

func (c *Config) fetchConfig() fetch.Config {
	return fetch.Config{
		Timeout:   c.Fetch.Timeout,
		MaxBytes:  c.Fetch.MaxBytes,
		ProxyBase: c.Fetch.ProxyBase,
		Retry:     fetch.Policy{MaxAttempts: c.Fetch.Retries},
	}
}

func (c *Config) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		DetailDelayMin: c.Pipeline.DetailDelayMin,
		DetailDelayMax: c.Pipeline.DetailDelayMax,
		MaxDetailLinks: c.Pipeline.MaxDetailLinks,
		Discover: discover.Config{
			AllowPatterns: c.Pipeline.AllowPatterns,
			DenyPatterns:  c.Pipeline.DenyPatterns,
		},
		PageParam: c.Pipeline.PageParam,
		MaxPages:  c.Pipeline.MaxPages,
	}
}

func (c *Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		CheckInterval: c.Scheduler.CheckInterval,
		MaxFailures:   c.Scheduler.MaxFailures,
	}
}

func (c *Config) llm() *extract.LLM {
	if c.LLM.APIKey == "" {
		return nil
	}
	return extract.NewLLM(extract.LLMConfig{
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	})
}
