package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds client settings. Values come from defaults, then the
// environment (a local .env is loaded first), then an optional YAML file,
// then explicitly set flags.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	DataDir      string        `yaml:"data_dir"`
	SessionDB    string        `yaml:"session_db"`
	DownloadsDB  string        `yaml:"downloads_db"`
	DownloadsDir string        `yaml:"downloads_dir"`
	LogFile      string        `yaml:"log_file"`
	LogLevel     string        `yaml:"log_level"`
	Timeout      time.Duration `yaml:"timeout"`
	NoColor      bool          `yaml:"no_color"`
	UseTUI       bool          `yaml:"tui"`
	UseCLI       bool          `yaml:"-"`
	Email        string        `yaml:"email"`
	Password     string        `yaml:"-"`
	SessionKey   string        `yaml:"-"`
}

func defaultConfig() *Config {
	return &Config{
		APIURL:   "http://127.0.0.1:8000",
		DataDir:  "chat-data",
		LogLevel: "info",
		Timeout:  15 * time.Second,
	}
}

// LoadConfig resolves the configuration for args (without the program name).
func LoadConfig(args []string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaultConfig()
	cfg.applyEnv()

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	flags := *cfg
	configPath := fs.String("config", os.Getenv("CHAT_CONFIG"), "optional YAML config file")
	fs.StringVar(&flags.APIURL, "api", cfg.APIURL, "chat API base url")
	fs.StringVar(&flags.DataDir, "data-dir", cfg.DataDir, "directory for session and download data")
	fs.StringVar(&flags.SessionDB, "session-db", cfg.SessionDB, "path to the persisted session db")
	fs.StringVar(&flags.DownloadsDB, "downloads-db", cfg.DownloadsDB, "path to the download index db")
	fs.StringVar(&flags.DownloadsDir, "downloads-dir", cfg.DownloadsDir, "directory for downloaded attachments")
	fs.StringVar(&flags.LogFile, "log-file", cfg.LogFile, "write logs to this file instead of stderr")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&flags.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	fs.BoolVar(&flags.NoColor, "no-color", cfg.NoColor, "disable ANSI colors in CLI output")
	fs.BoolVar(&flags.UseTUI, "tui", cfg.UseTUI, "enable terminal UI mode")
	fs.StringVar(&flags.Email, "email", cfg.Email, "log in with this email on start")
	fs.StringVar(&flags.Password, "password", cfg.Password, "password for --email")
	fs.StringVar(&flags.SessionKey, "session-key", cfg.SessionKey, "passphrase encrypting the persisted session")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrides := map[string]func(){
		"api":           func() { cfg.APIURL = flags.APIURL },
		"data-dir":      func() { cfg.DataDir = flags.DataDir },
		"session-db":    func() { cfg.SessionDB = flags.SessionDB },
		"downloads-db":  func() { cfg.DownloadsDB = flags.DownloadsDB },
		"downloads-dir": func() { cfg.DownloadsDir = flags.DownloadsDir },
		"log-file":      func() { cfg.LogFile = flags.LogFile },
		"log-level":     func() { cfg.LogLevel = flags.LogLevel },
		"timeout":       func() { cfg.Timeout = flags.Timeout },
		"no-color":      func() { cfg.NoColor = flags.NoColor },
		"tui":           func() { cfg.UseTUI = flags.UseTUI },
		"email":         func() { cfg.Email = flags.Email },
		"password":      func() { cfg.Password = flags.Password },
		"session-key":   func() { cfg.SessionKey = flags.SessionKey },
	}
	for name, apply := range overrides {
		if set[name] {
			apply()
		}
	}

	cfg.UseCLI = !cfg.UseTUI
	cfg.fillPaths()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("CHAT_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("CHAT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHAT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("CHAT_TUI"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseTUI = b
		}
	}
	if v := os.Getenv("CHAT_EMAIL"); v != "" {
		cfg.Email = v
	}
	if v := os.Getenv("CHAT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("CHAT_SESSION_KEY"); v != "" {
		cfg.SessionKey = v
	}
}

func (cfg *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) fillPaths() {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.DataDir == "" {
		cfg.DataDir = "chat-data"
	}
	if cfg.SessionDB == "" {
		cfg.SessionDB = filepath.Join(cfg.DataDir, "session.db")
	}
	if cfg.DownloadsDB == "" {
		cfg.DownloadsDB = filepath.Join(cfg.DataDir, "downloads.db")
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(cfg.DataDir, "downloads")
	}
	if cfg.UseTUI && cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "chat.log")
	}
}
