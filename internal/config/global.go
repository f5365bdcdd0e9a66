package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/coursedex/config.yml.
type GlobalConfig struct {
	// LibraryPath is the default library root used outside any library.
	LibraryPath string `yaml:"library_path,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "coursedex"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"

	// LibraryEnv names a library root explicitly and wins over discovery.
	LibraryEnv = "CDX_LIBRARY"
)

// ErrNoLibrary is returned when no library can be located.
var ErrNoLibrary = errors.New("no coursedex library found")

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/coursedex/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}
	cfg.LibraryPath = ExpandPath(cfg.LibraryPath)

	globalConfigCache = &cfg
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// ResolveLibrary locates the .coursedex directory to use: CDX_LIBRARY if
// set, else the nearest library above start, else the global library_path.
func ResolveLibrary(start string) (string, error) {
	if root := os.Getenv(LibraryEnv); root != "" {
		root = ExpandPath(root)
		if !IsLibrary(root) {
			return "", fmt.Errorf("%w: %s=%s has no %s directory", ErrNoLibrary, LibraryEnv, root, LibraryDir)
		}
		return LibraryPath(root), nil
	}

	if lib, err := FindLibrary(start); err == nil {
		return lib, nil
	}

	cfg, err := LoadGlobalConfig()
	if err != nil {
		return "", err
	}
	if cfg.LibraryPath != "" {
		if !IsLibrary(cfg.LibraryPath) {
			return "", fmt.Errorf("%w: library_path %s has no %s directory", ErrNoLibrary, cfg.LibraryPath, LibraryDir)
		}
		return LibraryPath(cfg.LibraryPath), nil
	}
	return "", fmt.Errorf("%w\n\n%s", ErrNoLibrary, HelpfulConfigMessage())
}

// HelpfulConfigMessage explains how to create or point at a library.
func HelpfulConfigMessage() string {
	configPath := GlobalConfigPath()
	return fmt.Sprintf(`Run 'cdx init' to create a library here, or set a default in %s:
  mkdir -p %s
  echo 'library_path: /path/to/library' > %s`,
		configPath,
		filepath.Dir(configPath),
		configPath)
}
