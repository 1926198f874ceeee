package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level"`

	Store struct {
		Backend string `json:"backend" yaml:"backend"`
		Key     string `json:"key" yaml:"key"`
	} `json:"store" yaml:"store"`

	Checker struct {
		CheckURLs      []string `json:"check_urls" yaml:"check_urls"`
		Timeout        uint32   `json:"timeout" yaml:"timeout"`
		MaxConcurrency uint32   `json:"max_concurrency" yaml:"max_concurrency"`
	} `json:"checker" yaml:"checker"`

	Scheduler struct {
		AcquireTimer   Timer `json:"acquire_timer" yaml:"acquire_timer"`
		ValidateTimer  Timer `json:"validate_timer" yaml:"validate_timer"`
		CleanupTimer   Timer `json:"cleanup_timer" yaml:"cleanup_timer"`
		LeaderElection bool  `json:"leader_election" yaml:"leader_election"`
	} `json:"scheduler" yaml:"scheduler"`

	Sources struct {
		UseBrowser    bool         `json:"use_browser" yaml:"use_browser"`
		RespectRobots bool         `json:"respect_robots" yaml:"respect_robots"`
		Timeout       uint32       `json:"timeout" yaml:"timeout"`
		UserAgent     string       `json:"user_agent" yaml:"user_agent"`
		Sites         []SourceSite `json:"sites" yaml:"sites"`
	} `json:"sources" yaml:"sources"`

	API struct {
		Port int `json:"port" yaml:"port"`
	} `json:"api" yaml:"api"`

	Gateway struct {
		Enabled      bool   `json:"enabled" yaml:"enabled"`
		Port         int    `json:"port" yaml:"port"`
		Username     string `json:"username" yaml:"username"`
		PasswordHash string `json:"password_hash" yaml:"password_hash"`
	} `json:"gateway" yaml:"gateway"`

	History struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
	} `json:"history" yaml:"history"`
}

// SourceSite describes one paginated proxy listing. URLTemplate may contain
// the {page} placeholder, which is replaced by 1..Pages.
type SourceSite struct {
	Name         string `json:"name" yaml:"name"`
	Kind         string `json:"kind" yaml:"kind"`
	URLTemplate  string `json:"url_template" yaml:"url_template"`
	Pages        int    `json:"pages" yaml:"pages"`
	PageInterval uint32 `json:"page_interval" yaml:"page_interval"`
	Enabled      bool   `json:"enabled" yaml:"enabled"`
}

type Timer struct {
	Days    uint32 `json:"days" yaml:"days"`
	Hours   uint32 `json:"hours" yaml:"hours"`
	Minutes uint32 `json:"minutes" yaml:"minutes"`
	Seconds uint32 `json:"seconds" yaml:"seconds"`
}

const (
	defaultSettingsFilePath = "data/settings.json"
	settingsPathEnv         = "SETTINGS_PATH"
)

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	cfg, err := parseConfig(defaultConfig, ".json")
	if err != nil {
		log.Error("Error parsing embedded default settings", "error", err)
		cfg = Config{}
	}
	configValue.Store(cfg)
}

// SettingsPath returns the settings file location, honouring SETTINGS_PATH.
func SettingsPath() string {
	if path := strings.TrimSpace(os.Getenv(settingsPathEnv)); path != "" {
		return path
	}
	return defaultSettingsFilePath
}

// ReadSettings loads the settings file, writing the embedded defaults first
// when it does not exist yet. The previous configuration stays active when the
// file cannot be parsed.
func ReadSettings() error {
	path := SettingsPath()
	ext := strings.ToLower(filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		data, err = defaultSettingsFor(ext)
		if err != nil {
			return err
		}
		if err := writeSettingsFile(path, data); err != nil {
			log.Error("Error writing default settings file", "error", err)
		}
	}

	newConfig, err := parseConfig(data, ext)
	if err != nil {
		return err
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{broadcast: true, source: "file"}); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

type configUpdateOptions struct {
	broadcast bool
	source    string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetBetweenTime()
	log.Debug("Configuration applied", "source", opts.source)

	if !opts.broadcast {
		return nil
	}
	if err := broadcastConfigUpdate(newConfig); err != nil {
		return fmt.Errorf("broadcast configuration: %w", err)
	}
	return nil
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

func parseConfig(data []byte, ext string) (Config, error) {
	var cfg Config
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml settings: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json settings: %w", err)
		}
	}
	return cfg, nil
}

func marshalConfig(cfg Config, ext string) ([]byte, error) {
	switch ext {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal yaml settings: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal json settings: %w", err)
		}
		return data, nil
	}
}

func defaultSettingsFor(ext string) ([]byte, error) {
	if ext != ".yaml" && ext != ".yml" {
		return defaultConfig, nil
	}
	cfg, err := parseConfig(defaultConfig, ".json")
	if err != nil {
		return nil, err
	}
	return marshalConfig(cfg, ext)
}

func writeSettingsFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
