/*
Package config manages the TOML config of titleserve.

Values are layered: built-in defaults, then the config file (created with the
defaults when missing), then command line overrides applied by the caller.
A file that fails to decode as a whole is parsed section by section so that
valid values still apply.
*/
package config

import (
	"path/filepath"
	"time"

	"github.com/bastiangx/titleserve/internal/utils"
	"github.com/bastiangx/titleserve/pkg/engine"
	"github.com/bastiangx/titleserve/pkg/search"
	"github.com/charmbracelet/log"
)

// FileName is the name of the config file inside the config directory.
const FileName = "config.toml"

// Bounds of SearchConfig.ChunkSize.
const (
	MinChunkSize = 1
	MaxChunkSize = 100000
)

// Config holds the entire config structure
type Config struct {
	Search SearchConfig `toml:"search"`
	Index  IndexConfig  `toml:"index"`
	Server ServerConfig `toml:"server"`
	CLI    CliConfig    `toml:"cli"`
}

// SearchConfig tunes the search pipeline.
type SearchConfig struct {
	ChunkSize               int `toml:"chunk_size"`
	ProgressFlushIntervalMs int `toml:"progress_flush_interval_ms"`
	MaxResults              int `toml:"max_results"`
}

// IndexConfig selects the title database and the namespaces loaded on start.
type IndexConfig struct {
	DBPath     string   `toml:"db_path"`
	Namespaces []string `toml:"namespaces"`
}

// ServerConfig has IPC server options.
type ServerConfig struct {
	MaxQueryLen int `toml:"max_query_len"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			ChunkSize:               search.DefaultChunkSize,
			ProgressFlushIntervalMs: 500,
			MaxResults:              64,
		},
		Index: IndexConfig{
			DBPath:     "titles.db",
			Namespaces: []string{},
		},
		Server: ServerConfig{
			MaxQueryLen: 256,
		},
		CLI: CliConfig{
			DefaultLimit: 10,
		},
	}
}

// EngineOptions converts the search section into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		ChunkSize:             c.Search.ChunkSize,
		ProgressFlushInterval: time.Duration(c.Search.ProgressFlushIntervalMs) * time.Millisecond,
		MaxResults:            c.Search.MaxResults,
	}
}

// Normalize clamps out of range values back into range.
func (c *Config) Normalize() {
	def := DefaultConfig()
	switch {
	case c.Search.ChunkSize < MinChunkSize:
		log.Warnf("chunk_size %d below %d, using %d", c.Search.ChunkSize, MinChunkSize, MinChunkSize)
		c.Search.ChunkSize = MinChunkSize
	case c.Search.ChunkSize > MaxChunkSize:
		log.Warnf("chunk_size %d above %d, using %d", c.Search.ChunkSize, MaxChunkSize, MaxChunkSize)
		c.Search.ChunkSize = MaxChunkSize
	}
	if c.Search.ProgressFlushIntervalMs < 0 {
		c.Search.ProgressFlushIntervalMs = 0
	}
	if c.Search.MaxResults < 0 {
		c.Search.MaxResults = 0
	}
	if c.Index.DBPath == "" {
		c.Index.DBPath = def.Index.DBPath
	}
	if c.Index.Namespaces == nil {
		c.Index.Namespaces = []string{}
	}
	if c.Server.MaxQueryLen <= 0 {
		c.Server.MaxQueryLen = def.Server.MaxQueryLen
	}
	if c.CLI.DefaultLimit <= 0 {
		c.CLI.DefaultLimit = def.CLI.DefaultLimit
	}
}

// GetConfigDir returns the per-user config directory.
func GetConfigDir() string {
	return utils.NewPathResolver().ConfigDir()
}

// GetDefaultConfigPath returns the default path for config.toml, falling
// back to another writable location when the config directory is not.
func GetDefaultConfigPath() string {
	return utils.NewPathResolver().GetConfigPath(FileName)
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/titleserve/config.toml
// 3. Builtin defaults
//
// It returns the path the config was read from, "" for builtin defaults.
func LoadConfigWithPriority(customConfigPath string) (*Config, string) {
	if customConfigPath != "" {
		if utils.FileExists(customConfigPath) {
			log.Debugf("Loaded config from custom path: %s", customConfigPath)
			return LoadConfig(customConfigPath), customConfigPath
		}
		log.Warnf("Custom config file not found at %s. Trying default path...", customConfigPath)
	}

	defaultPath := GetDefaultConfigPath()
	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), ""
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath
}

// InitConfig loads config from file or creates it with the defaults.
func InitConfig(configPath string) (*Config, error) {
	if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
		return nil, err
	}
	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, err
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath), nil
}

// LoadConfig loads a TOML file on top of the defaults. It never fails: what
// cannot be read is left at its default.
func LoadConfig(configPath string) *Config {
	config := DefaultConfig()
	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		config = tryPartialParse(configPath)
	}
	config.Normalize()
	return config
}

// tryPartialParse extracts the well-typed values of each section.
func tryPartialParse(configPath string) *Config {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config
	}

	if section, ok := utils.ExtractSection(tempConfig, "search"); ok {
		extractSearchConfig(section, &config.Search)
	}
	if section, ok := utils.ExtractSection(tempConfig, "index"); ok {
		extractIndexConfig(section, &config.Index)
	}
	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		if val, ok := utils.ExtractInt64(section, "max_query_len"); ok {
			config.Server.MaxQueryLen = val
		}
	}
	if section, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		if val, ok := utils.ExtractInt64(section, "default_limit"); ok {
			config.CLI.DefaultLimit = val
		}
	}
	return config
}

func extractSearchConfig(data map[string]any, s *SearchConfig) {
	if val, ok := utils.ExtractInt64(data, "chunk_size"); ok {
		s.ChunkSize = val
	}
	if val, ok := utils.ExtractInt64(data, "progress_flush_interval_ms"); ok {
		s.ProgressFlushIntervalMs = val
	}
	if val, ok := utils.ExtractInt64(data, "max_results"); ok {
		s.MaxResults = val
	}
}

func extractIndexConfig(data map[string]any, idx *IndexConfig) {
	if val, ok := utils.ExtractString(data, "db_path"); ok {
		idx.DBPath = val
	}
	if val, ok := utils.ExtractStringSlice(data, "namespaces"); ok {
		idx.Namespaces = val
	}
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}

// RebuildConfigFile overwrites configPath with the defaults.
func RebuildConfigFile(configPath string) error {
	if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
		return err
	}
	return SaveConfig(DefaultConfig(), configPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		return "builtin defaults"
	}
	return utils.GetAbsolutePath(configPath)
}
