// Package config resolves the read-only Config snapshot the core
// indexing pipeline runs against (spec.md §6), the way the teacher's
// config package layers viper (env + flags) over a YAML file under an
// XDG base directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config is the read-only snapshot the core indexing pipeline depends on
// (spec.md §6's "Config snapshot").
type Config struct {
	WatchDirectoryRoots   []string `mapstructure:"watch_directory_roots" yaml:"watch_directory_roots,omitempty"`
	NoWatchDirectoryRoots []string `mapstructure:"no_watch_directory_roots" yaml:"no_watch_directory_roots,omitempty"`
	CrawlDirectoryRoots   []string `mapstructure:"crawl_directory_roots" yaml:"crawl_directory_roots,omitempty"`
	NoIndexFileTypes      []string `mapstructure:"no_index_file_types" yaml:"no_index_file_types,omitempty"`

	IndexMountedDirectories bool `mapstructure:"index_mounted_directories" yaml:"index_mounted_directories"`
	IndexRemovableDevices   bool `mapstructure:"index_removable_devices" yaml:"index_removable_devices"`

	EnableIndexing bool `mapstructure:"enable_indexing" yaml:"enable_indexing"`
	EnableWatches  bool `mapstructure:"enable_watches" yaml:"enable_watches"`

	Throttle     int `mapstructure:"throttle" yaml:"throttle"`
	InitialSleep int `mapstructure:"initial_sleep" yaml:"initial_sleep"`

	LowMemoryMode bool `mapstructure:"low_memory_mode" yaml:"low_memory_mode"`
	Verbosity     int  `mapstructure:"verbosity" yaml:"verbosity"`
	WatchLimit    int  `mapstructure:"watch_limit" yaml:"watch_limit"`

	MaxTextToIndex  int64 `mapstructure:"max_text_to_index" yaml:"max_text_to_index"`
	MaxWordsToIndex int   `mapstructure:"max_words_to_index" yaml:"max_words_to_index"`

	EnableContentIndexing bool `mapstructure:"enable_content_indexing" yaml:"enable_content_indexing"`
	EnableThumbnails      bool `mapstructure:"enable_thumbnails" yaml:"enable_thumbnails"`

	DisableIndexingOnBattery     bool `mapstructure:"disable_indexing_on_battery" yaml:"disable_indexing_on_battery"`
	DisableIndexingOnBatteryInit bool `mapstructure:"disable_indexing_on_battery_init" yaml:"disable_indexing_on_battery_init"`

	EmailClient string `mapstructure:"email_client" yaml:"email_client,omitempty"`

	ExtraIgnorePatterns []string `mapstructure:"extra_ignore_patterns" yaml:"extra_ignore_patterns,omitempty"`

	// MaxPendingItems bounds PendingQueue memory (spec.md §5).
	MaxPendingItems int `mapstructure:"max_pending_items" yaml:"max_pending_items"`
}

// DefaultConfig returns the built-in defaults, matching spec.md's stated
// defaults (throttle off, watch_limit 8192, max_pending_items 100000).
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		WatchDirectoryRoots: []string{home},
		NoIndexFileTypes:    nil,

		IndexMountedDirectories: false,
		IndexRemovableDevices:   false,

		EnableIndexing: true,
		EnableWatches:  true,

		Throttle:     0,
		InitialSleep: 15,

		LowMemoryMode: false,
		Verbosity:     1,
		WatchLimit:    8192,

		MaxTextToIndex:  1024 * 1024,
		MaxWordsToIndex: 10000,

		EnableContentIndexing: true,
		EnableThumbnails:      false,

		DisableIndexingOnBattery:     true,
		DisableIndexingOnBatteryInit: true,

		EmailClient: "",

		MaxPendingItems: 100_000,
	}
}

// ConfigDir returns $XDG_CONFIG_HOME/trackerfs.
func ConfigDir() string { return filepath.Join(xdg.ConfigHome, "trackerfs") }

// ConfigPath returns $XDG_CONFIG_HOME/trackerfs/config.yaml.
func ConfigPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

// CacheDir returns $XDG_CACHE_HOME/trackerfs, home of the pending-items
// journal (spec.md §4.11).
func CacheDir() string { return filepath.Join(xdg.CacheHome, "trackerfs") }

// JournalPath returns $XDG_CACHE_HOME/trackerfs/pending.journal.
func JournalPath() string { return filepath.Join(CacheDir(), "pending.journal") }

// DataDir returns $XDG_DATA_HOME/trackerfs, home of the StorageSink's
// backing database.
func DataDir() string { return filepath.Join(xdg.DataHome, "trackerfs") }

// DatabasePath returns $XDG_DATA_HOME/trackerfs/store.db.
func DatabasePath() string { return filepath.Join(DataDir(), "store.db") }

// Load resolves Config by layering, lowest to highest priority: built-in
// defaults, the YAML file at ConfigPath, then TRACKERFS_*-prefixed
// environment variables — the same viper precedence order the teacher
// uses for its own config file plus VECGREP_* env vars.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(ConfigPath())
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TRACKERFS")
	v.AutomaticEnv()
	_ = v.BindEnv("throttle", "TRACKERFS_THROTTLE")
	_ = v.BindEnv("enable_indexing", "TRACKERFS_ENABLE_INDEXING")
	_ = v.BindEnv("enable_watches", "TRACKERFS_ENABLE_WATCHES")
	_ = v.BindEnv("low_memory_mode", "TRACKERFS_LOW_MEMORY_MODE")
	_ = v.BindEnv("verbosity", "TRACKERFS_VERBOSITY")

	if err := v.ReadInConfig(); err != nil {
		if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", ConfigPath(), err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", ConfigPath(), err)
	}
	return cfg, nil
}

// EnsureDirs creates the config, cache and data directories.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), CacheDir(), DataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteDefault writes the default config file if one does not already
// exist at ConfigPath.
func WriteDefault() error {
	if _, err := os.Stat(ConfigPath()); err == nil {
		return nil
	}
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", ConfigDir(), err)
	}

	v := viper.New()
	cfg := DefaultConfig()
	v.Set("watch_directory_roots", cfg.WatchDirectoryRoots)
	v.Set("no_watch_directory_roots", cfg.NoWatchDirectoryRoots)
	v.Set("crawl_directory_roots", cfg.CrawlDirectoryRoots)
	v.Set("no_index_file_types", cfg.NoIndexFileTypes)
	v.Set("index_mounted_directories", cfg.IndexMountedDirectories)
	v.Set("index_removable_devices", cfg.IndexRemovableDevices)
	v.Set("enable_indexing", cfg.EnableIndexing)
	v.Set("enable_watches", cfg.EnableWatches)
	v.Set("throttle", cfg.Throttle)
	v.Set("initial_sleep", cfg.InitialSleep)
	v.Set("low_memory_mode", cfg.LowMemoryMode)
	v.Set("verbosity", cfg.Verbosity)
	v.Set("watch_limit", cfg.WatchLimit)
	v.Set("max_text_to_index", cfg.MaxTextToIndex)
	v.Set("max_words_to_index", cfg.MaxWordsToIndex)
	v.Set("enable_content_indexing", cfg.EnableContentIndexing)
	v.Set("enable_thumbnails", cfg.EnableThumbnails)
	v.Set("disable_indexing_on_battery", cfg.DisableIndexingOnBattery)
	v.Set("disable_indexing_on_battery_init", cfg.DisableIndexingOnBatteryInit)
	v.Set("email_client", cfg.EmailClient)
	v.Set("max_pending_items", cfg.MaxPendingItems)

	return v.WriteConfigAs(ConfigPath())
}
