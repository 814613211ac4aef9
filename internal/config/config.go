package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/termctl/internal/lineedit"
	"github.com/user/termctl/internal/outbuf"
	"github.com/user/termctl/internal/readiness"
	"github.com/user/termctl/internal/terminal"
)

// Config is the client configuration. Values come from defaults, then the
// YAML file, then command-line flags.
type Config struct {
	URL       string `yaml:"url"`
	ExecURL   string `yaml:"exec_url"`
	HealthURL string `yaml:"health_url"`
	Token     string `yaml:"token"`
	Cwd       string `yaml:"cwd"`
	ProjectID string `yaml:"project_id"`
	Name      string `yaml:"name"`
	DBPath    string `yaml:"db_path"`

	MaxRecover     int           `yaml:"max_recover"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	HistorySize    int           `yaml:"history_size"`
	OutputLines    int           `yaml:"output_lines"`
	ActivityLines  int           `yaml:"activity_lines"`

	// Flag-only.
	Attach     string `yaml:"-"`
	Resume     bool   `yaml:"-"`
	Wait       bool   `yaml:"-"`
	Kill       string `yaml:"-"`
	ConfigPath string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		URL:            "ws://127.0.0.1:8765/ws/terminal",
		ExecURL:        "ws://127.0.0.1:8765/ws/exec",
		HealthURL:      "http://127.0.0.1:8765/health",
		MaxRecover:     terminal.DefaultMaxRecover,
		ConnectTimeout: terminal.DefaultConnectTimeout,
		ReadyTimeout:   readiness.DefaultTimeout,
		HistorySize:    lineedit.DefaultHistorySize,
		OutputLines:    outbuf.DefaultLines,
		ActivityLines:  terminal.DefaultActivityLines,
	}
}

// Load reads the config file named by $TERMCTL_CONFIG, or
// ~/.config/termctl/config.yaml, and applies args on top.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	path := os.Getenv("TERMCTL_CONFIG")
	if path == "" {
		path = filepath.Join(homeDir, ".config", "termctl", "config.yaml")
	}
	cfg, err := LoadFrom(path, args)
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(homeDir, ".config", "termctl", "termctl.db")
	}
	return cfg, nil
}

// LoadFrom is Load with an explicit config file path. A missing file is
// not an error.
func LoadFrom(path string, args []string) (*Config, error) {
	cfg := defaults()
	cfg.ConfigPath = path

	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	fs := flag.NewFlagSet("termctl", flag.ContinueOnError)
	fs.StringVar(&cfg.URL, "url", cfg.URL, "terminal host PTY channel URL (ws:// or wss://)")
	fs.StringVar(&cfg.ExecURL, "exec-url", cfg.ExecURL, "terminal host exec channel URL")
	fs.StringVar(&cfg.HealthURL, "health-url", cfg.HealthURL, "terminal host health endpoint polled by -wait")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token")
	fs.StringVar(&cfg.Cwd, "cwd", cfg.Cwd, "working directory for new terminals and commands")
	fs.StringVar(&cfg.ProjectID, "project", cfg.ProjectID, "project id sent with create requests")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "terminal name (generated if empty)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "local sqlite database path")
	fs.IntVar(&cfg.MaxRecover, "max-recover", cfg.MaxRecover, "recovery attempts before falling back to exec mode")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "time to wait for the host to acknowledge a terminal")
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "upper bound for -wait")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "exec-mode history entries kept in memory")
	fs.IntVar(&cfg.OutputLines, "output-lines", cfg.OutputLines, "recent output lines kept for activity excerpts")
	fs.IntVar(&cfg.ActivityLines, "activity-lines", cfg.ActivityLines, "lines handed off per activity excerpt")
	fs.StringVar(&cfg.Attach, "attach", "", "attach to an existing terminal id")
	fs.BoolVar(&cfg.Resume, "resume", false, "re-attach to the terminal last used under -name")
	fs.BoolVar(&cfg.Wait, "wait", false, "wait for the host health endpoint before connecting")
	fs.StringVar(&cfg.Kill, "kill", "", "kill the terminal with this id and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := checkURL("url", c.URL, "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("exec_url", c.ExecURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Wait {
		if err := checkURL("health_url", c.HealthURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.MaxRecover < 1 {
		return fmt.Errorf("invalid max_recover %d: must be at least 1", c.MaxRecover)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect_timeout %s: must be positive", c.ConnectTimeout)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("invalid ready_timeout %s: must be positive", c.ReadyTimeout)
	}
	if c.HistorySize < 1 || c.OutputLines < 1 || c.ActivityLines < 1 {
		return fmt.Errorf("history_size, output_lines and activity_lines must be positive")
	}
	if c.Attach != "" && c.Resume {
		return fmt.Errorf("-attach and -resume are mutually exclusive")
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: want a %s URL", field, raw, strings.Join(schemes, " or "))
}
