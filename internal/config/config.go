package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sigreer/devhistory/internal/device"
)

// Storage backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type Config struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	EnrichDelay    time.Duration `yaml:"enrich_delay"`
	EnrichAttempts int           `yaml:"enrich_attempts"`

	Storage        Storage        `yaml:"storage"`
	Logging        Logging        `yaml:"logging"`
	API            API            `yaml:"api"`
	Preferences    Preferences    `yaml:"preferences"`
	Classification Classification `yaml:"classification"`
	Provider       Provider       `yaml:"provider"`

	// Path is the file the config was read from, empty for built-in defaults
	Path string `yaml:"-"`
}

type Storage struct {
	// Backend is "json" (default) or "sqlite"
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Output  string `yaml:"output"` // stderr, stdout or a file path
	Console bool   `yaml:"console"`
}

type API struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	AuthToken   string `yaml:"auth_token,omitempty"`
}

// Addr returns host:port for the listener
func (a API) Addr() string {
	return fmt.Sprintf("%s:%d", a.BindAddress, a.Port)
}

type Preferences struct {
	Themes []string `yaml:"themes,omitempty"`
	Tabs   []string `yaml:"tabs,omitempty"`
}

type Classification struct {
	Rules []device.Rule `yaml:"rules,omitempty"`
}

type Provider struct {
	SysfsRoot string `yaml:"sysfs_root,omitempty"`
	UdevRoot  string `yaml:"udev_root,omitempty"`
	Lsblk     string `yaml:"lsblk,omitempty"`
}

// defaultConfig provides baseline settings; Storage.Dir is resolved at load time
var defaultConfig = Config{
	PollInterval:   500 * time.Millisecond,
	EnrichDelay:    2 * time.Second,
	EnrichAttempts: 3,
	Storage: Storage{
		Backend: BackendJSON,
	},
	Logging: Logging{
		Level:  "info",
		Output: "stderr",
	},
	API: API{
		BindAddress: "127.0.0.1",
		Port:        8470,
	},
}

// Load reads the config at path, or the first existing candidate location
// when path is empty. With no file at all the built-in defaults are used.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = findConfig()
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Path = path
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfig() string {
	candidates := []string{
		"/etc/devhistory/config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/devhistory/config.yaml"),
		"config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// applyDefaults fills fields a partial file left empty
func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = defaultConfig.PollInterval
	}
	if c.EnrichDelay == 0 {
		c.EnrichDelay = defaultConfig.EnrichDelay
	}
	if c.EnrichAttempts == 0 {
		c.EnrichAttempts = defaultConfig.EnrichAttempts
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultConfig.Storage.Backend
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultDataDir()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultConfig.Logging.Level
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultConfig.Logging.Output
	}
	if c.API.BindAddress == "" {
		c.API.BindAddress = defaultConfig.API.BindAddress
	}
	if c.API.Port == 0 {
		c.API.Port = defaultConfig.API.Port
	}
}

// applyEnv applies DEVHISTORY_* overrides
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("DEVHISTORY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("DEVHISTORY_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := getenv("DEVHISTORY_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := getenv("DEVHISTORY_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEVHISTORY_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := getenv("DEVHISTORY_API_TOKEN"); v != "" {
		c.API.AuthToken = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.EnrichDelay < 0 {
		return fmt.Errorf("enrich_delay must not be negative, got %s", c.EnrichDelay)
	}
	if c.EnrichAttempts < 0 {
		return fmt.Errorf("enrich_attempts must not be negative, got %d", c.EnrichAttempts)
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (want json or sqlite)", c.Storage.Backend)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	for i, r := range c.Classification.Rules {
		if strings.TrimSpace(r.Category) == "" {
			return fmt.Errorf("classification rule %d has no category", i)
		}
		if r.Class == "" && r.Name == "" {
			return fmt.Errorf("classification rule %d matches nothing (set class or name)", i)
		}
	}
	return nil
}

// DefaultDataDir is <user config dir>/devhistory, falling back to the
// working directory when no home is available
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "devhistory-data"
	}
	return filepath.Join(dir, "devhistory")
}
