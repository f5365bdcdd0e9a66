// Package config handles library and global configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/coursedex/coursedex/internal/logger"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	LibraryDir = ".coursedex"
	ConfigFile = "config.yml"
	DBFile     = "coursedex.db"
	ModelDir   = "model"
	CacheDir   = "cache"

	// EnvPrefix prefixes every environment override, e.g. CDX_SEARCH_LIMIT.
	EnvPrefix = "CDX"
)

// Dispatcher names.
const (
	DispatcherInline = "inline"
	DispatcherNSQ    = "nsq"
)

// ValidReaders lists the supported PDF reader values.
var ValidReaders = []string{"system", "skim", "zathura", "evince", "okular"}

// Config is the library configuration. Values come from defaults, then
// <library>/config.yml, then CDX_* environment variables.
type Config struct {
	// Root is the library directory (the one holding config.yml).
	Root string `yaml:"-" ignored:"true"`

	DBPath   string `yaml:"db_path,omitempty" envconfig:"DB_PATH"`
	ModelDir string `yaml:"model_dir,omitempty" envconfig:"MODEL_DIR"`
	CacheDir string `yaml:"cache_dir,omitempty" envconfig:"CACHE_DIR"`

	UploadMaxBytes int64   `yaml:"upload_max_bytes" envconfig:"UPLOAD_MAX_BYTES"`
	RatingWeight   float64 `yaml:"rating_weight" envconfig:"RATING_WEIGHT"`
	SearchLimit    int     `yaml:"search_limit" envconfig:"SEARCH_LIMIT"`
	ExtractWorkers int     `yaml:"extract_workers" envconfig:"EXTRACT_WORKERS"`
	MaxPages       int     `yaml:"max_pages" envconfig:"MAX_PAGES"`

	LeaseTTL           time.Duration `yaml:"lease_ttl" envconfig:"LEASE_TTL"`
	LeaseRenewInterval time.Duration `yaml:"lease_renew_interval" envconfig:"LEASE_RENEW_INTERVAL"`
	RunTimeout         time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT"`

	Dispatcher string `yaml:"dispatcher" envconfig:"DISPATCHER"`
	NSQDAddr   string `yaml:"nsqd_addr,omitempty" envconfig:"NSQD_ADDR"`
	NSQLookupd string `yaml:"nsq_lookupd,omitempty" envconfig:"NSQ_LOOKUPD"`
	NSQTopic   string `yaml:"nsq_topic" envconfig:"NSQ_TOPIC"`
	NSQChannel string `yaml:"nsq_channel" envconfig:"NSQ_CHANNEL"`

	PDFReader string `yaml:"pdf_reader" envconfig:"PDF_READER"`
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		UploadMaxBytes:     50 << 20,
		RatingWeight:       0.6,
		SearchLimit:        10,
		ExtractWorkers:     4,
		LeaseTTL:           10 * time.Minute,
		LeaseRenewInterval: time.Minute,
		Dispatcher:         DispatcherInline,
		NSQDAddr:           "127.0.0.1:4150",
		NSQTopic:           "coursedex.reindex",
		NSQChannel:         "indexer",
		PDFReader:          "system",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LibraryPath returns the .coursedex directory under root.
func LibraryPath(root string) string {
	return filepath.Join(root, LibraryDir)
}

// ConfigPath returns the path to config.yml for a library directory.
func ConfigPath(libDir string) string {
	return filepath.Join(libDir, ConfigFile)
}

// IsLibrary checks if root contains a .coursedex directory.
func IsLibrary(root string) bool {
	info, err := os.Stat(LibraryPath(root))
	return err == nil && info.IsDir()
}

// FindLibrary walks up from start to find a directory containing .coursedex
// and returns the .coursedex path.
func FindLibrary(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsLibrary(abs) {
			return LibraryPath(abs), nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("not in a coursedex library (no %s directory found)", LibraryDir)
		}
		abs = parent
	}
}

// Load reads the configuration for the library at libDir: config.yml over
// the defaults, then the environment. A missing config.yml is not an error.
func Load(libDir string) (*Config, error) {
	cfg, err := LoadFile(libDir)
	if err != nil {
		return nil, err
	}

	// Env vars might be set in the shell; a missing .env is fine.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(libDir, ".env"))

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads config.yml over the defaults, ignoring the environment.
// Paths are left as written. Use it to edit and Save the file.
func LoadFile(libDir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath(libDir))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.Root = libDir
	return cfg, nil
}

func (c *Config) resolvePaths() {
	resolve := func(p, def string) string {
		if p == "" {
			p = def
		}
		p = ExpandPath(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.Root, p)
		}
		return p
	}
	c.DBPath = resolve(c.DBPath, DBFile)
	c.ModelDir = resolve(c.ModelDir, ModelDir)
	c.CacheDir = resolve(c.CacheDir, CacheDir)
}

// Save writes the file-level settings to libDir/config.yml. Paths equal to
// their defaults are written empty.
func (c *Config) Save(libDir string) error {
	out := *c
	for _, p := range []struct {
		field *string
		def   string
	}{
		{&out.DBPath, DBFile},
		{&out.ModelDir, ModelDir},
		{&out.CacheDir, CacheDir},
	} {
		if *p.field == filepath.Join(libDir, p.def) {
			*p.field = ""
		}
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return fmt.Errorf("creating library directory: %w", err)
	}
	if err := os.WriteFile(ConfigPath(libDir), data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks every setting and returns the first problem found,
// wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.RatingWeight < 0 || c.RatingWeight > 1 {
		return invalid("rating_weight must be within [0, 1], got %v", c.RatingWeight)
	}
	if c.SearchLimit <= 0 {
		return invalid("search_limit must be positive, got %d", c.SearchLimit)
	}
	if c.ExtractWorkers <= 0 {
		return invalid("extract_workers must be positive, got %d", c.ExtractWorkers)
	}
	if c.MaxPages < 0 {
		return invalid("max_pages must not be negative, got %d", c.MaxPages)
	}
	if c.UploadMaxBytes <= 0 {
		return invalid("upload_max_bytes must be positive, got %d", c.UploadMaxBytes)
	}
	if c.LeaseTTL <= 0 {
		return invalid("lease_ttl must be positive, got %s", c.LeaseTTL)
	}
	if c.LeaseRenewInterval <= 0 || c.LeaseRenewInterval >= c.LeaseTTL {
		return invalid("lease_renew_interval must be positive and shorter than lease_ttl, got %s", c.LeaseRenewInterval)
	}
	if c.RunTimeout < 0 {
		return invalid("run_timeout must not be negative, got %s", c.RunTimeout)
	}

	switch c.Dispatcher {
	case DispatcherInline:
	case DispatcherNSQ:
		if c.NSQDAddr == "" {
			return invalid("nsqd_addr is required for the nsq dispatcher")
		}
		if c.NSQTopic == "" || c.NSQChannel == "" {
			return invalid("nsq_topic and nsq_channel are required for the nsq dispatcher")
		}
	default:
		return invalid("dispatcher must be %q or %q, got %q", DispatcherInline, DispatcherNSQ, c.Dispatcher)
	}

	if err := ValidatePDFReader(c.PDFReader); err != nil {
		return invalid("%v", err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid("%v", err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ValidatePDFReader checks that the reader value is valid.
func ValidatePDFReader(reader string) error {
	if reader == "" {
		return nil // Empty defaults to "system"
	}

	for _, valid := range ValidReaders {
		if reader == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid pdf_reader: %s (valid: %v)", reader, ValidReaders)
}

// Keys returns the settable configuration keys, sorted.
func Keys() []string {
	data, _ := yaml.Marshal(Default())
	var m map[string]any
	_ = yaml.Unmarshal(data, &m)
	for _, k := range []string{"db_path", "model_dir", "cache_dir", "nsqd_addr", "nsq_lookupd"} {
		m[k] = nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of key as it would appear in config.yml.
func (c *Config) Get(key string) (string, error) {
	if !isKey(key) {
		return "", fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// Set parses value into key and validates the result. On error c is unchanged.
func (c *Config) Set(key, value string) error {
	if !isKey(key) {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *c
	if err := yaml.Unmarshal([]byte(key+": "+value+"\n"), &next); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
