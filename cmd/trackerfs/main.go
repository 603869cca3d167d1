package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracker-project/trackerfs/internal/config"
	"github.com/tracker-project/trackerfs/internal/runtime"
	"github.com/tracker-project/trackerfs/internal/sink"
	"github.com/tracker-project/trackerfs/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "trackerfs",
	Short:   "Local desktop file metadata indexer",
	Version: version.Full(),
	Long: `trackerfs crawls, watches and indexes file metadata under a set of
configured roots, keeping an external storage sink up to date with
creates, deletes, moves and content changes as they happen on disk.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trackerfs %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the indexing core until interrupted",
	Long: `Start crawls every configured root, then watches for filesystem
changes and keeps the storage sink synchronized until interrupted.`,
	RunE: runStart,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Force a full rescan of every watch and crawl root",
	Long: `Reindex writes the pre-reindex backup marker, starts a short-lived
runtime against the configured SQLite store, asks it to re-enter its Files
and CrawlFiles modules, and then shuts it down.

It does not contact an already running trackerfs process.`,
	RunE: runReindex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current operating state",
	RunE:  runStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause indexing",
	RunE:  runPause(true),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume indexing after a pause",
	RunE:  runPause(false),
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage trackerfs configuration",
	Long: `View and manage trackerfs configuration.

Subcommands:
  show    Show the resolved configuration
  set     Set a configuration value`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file at ` + "`trackerfs config show`'s path" + `.

Examples:
  trackerfs config set throttle 5
  trackerfs config set enable_watches false
  trackerfs config set watch_directory_roots /home/alice,/home/alice/Projects`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	rootCmd.SetVersionTemplate("trackerfs version {{.Version}}\n")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")

	startCmd.Flags().String("store", "sqlite", "storage sink backend: sqlite or memory")

	statusCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(configCmd)
}

// newLogger derives the slog level from both the --verbose flag and the
// resolved config's verbosity knob (spec.md §6 Config snapshot): either one
// asking for more detail wins.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || (cfg != nil && cfg.Verbosity >= 2) {
		level = slog.LevelDebug
	} else if cfg != nil && cfg.Verbosity <= 0 {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(backend string) (sink.StorageSink, error) {
	switch backend {
	case "memory":
		return sink.NewMemorySink(), nil
	case "sqlite", "":
		if err := config.EnsureDirs(); err != nil {
			return nil, err
		}
		return sink.OpenSqlite(config.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cmd, cfg)

	backend, _ := cmd.Flags().GetString("store")
	store, err := openStore(backend)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rt, err := runtime.New(cfg, store, runtime.DefaultExtractorRegistry(), log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		rt.Shutdown()
		cancel()
	}()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	log.Info("trackerfs started", "roots", cfg.WatchDirectoryRoots)
	rt.Wait()
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cmd, cfg)

	store, err := openStore("sqlite")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rt, err := runtime.New(cfg, store, runtime.DefaultExtractorRegistry(), log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	if err := rt.ForceReindex(); err != nil {
		return fmt.Errorf("force reindex: %w", err)
	}

	rt.Shutdown()
	fmt.Println("Reindex triggered.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore("sqlite")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	log := newLogger(cmd, cfg)
	rt, err := runtime.New(cfg, store, runtime.DefaultExtractorRegistry(), log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	t := rt.Status()

	if format == "json" {
		out := struct {
			State          string `json:"state"`
			EnableIndexing bool   `json:"enable_indexing"`
			PauseManual    bool   `json:"pause_manual"`
			PauseOnBattery bool   `json:"pause_on_battery"`
		}{
			State:          t.State.String(),
			EnableIndexing: t.EnableIndexing,
			PauseManual:    t.PauseManual,
			PauseOnBattery: t.PauseOnBattery,
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	fmt.Printf("trackerfs status\n")
	fmt.Printf("  state:           %s\n", t.State)
	fmt.Printf("  enable_indexing: %v\n", t.EnableIndexing)
	fmt.Printf("  paused (manual): %v\n", t.PauseManual)
	fmt.Printf("  paused (power):  %v\n", t.PauseOnBattery)
	return nil
}

func runPause(pause bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := openStore("sqlite")
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		log := newLogger(cmd, cfg)
		rt, err := runtime.New(cfg, store, runtime.DefaultExtractorRegistry(), log)
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}

		if err := rt.SetBoolOption("Pause", pause); err != nil {
			return err
		}

		if pause {
			fmt.Println("Indexing paused.")
		} else {
			fmt.Println("Indexing resumed.")
		}
		return nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Printf("Config file: %s\n\n", config.ConfigPath())
	fmt.Printf("watch_directory_roots:    %v\n", cfg.WatchDirectoryRoots)
	fmt.Printf("no_watch_directory_roots: %v\n", cfg.NoWatchDirectoryRoots)
	fmt.Printf("crawl_directory_roots:    %v\n", cfg.CrawlDirectoryRoots)
	fmt.Printf("no_index_file_types:      %v\n", cfg.NoIndexFileTypes)
	fmt.Printf("index_mounted_directories: %v\n", cfg.IndexMountedDirectories)
	fmt.Printf("index_removable_devices:   %v\n", cfg.IndexRemovableDevices)
	fmt.Printf("enable_indexing:          %v\n", cfg.EnableIndexing)
	fmt.Printf("enable_watches:           %v\n", cfg.EnableWatches)
	fmt.Printf("throttle:                 %d\n", cfg.Throttle)
	fmt.Printf("low_memory_mode:          %v\n", cfg.LowMemoryMode)
	fmt.Printf("watch_limit:              %d\n", cfg.WatchLimit)
	fmt.Printf("max_text_to_index:        %d\n", cfg.MaxTextToIndex)
	fmt.Printf("max_words_to_index:       %d\n", cfg.MaxWordsToIndex)
	fmt.Printf("enable_content_indexing:  %v\n", cfg.EnableContentIndexing)
	fmt.Printf("enable_thumbnails:        %v\n", cfg.EnableThumbnails)
	fmt.Printf("max_pending_items:        %d\n", cfg.MaxPendingItems)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure config dirs: %w", err)
	}
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	key, value := args[0], args[1]
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}

	if err := writeConfig(cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, config.ConfigPath())
	return nil
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "throttle":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid throttle value: %w", err)
		}
		cfg.Throttle = v
	case "enable_indexing":
		cfg.EnableIndexing = value == "true"
	case "enable_watches":
		cfg.EnableWatches = value == "true"
	case "low_memory_mode":
		cfg.LowMemoryMode = value == "true"
	case "index_mounted_directories":
		cfg.IndexMountedDirectories = value == "true"
	case "index_removable_devices":
		cfg.IndexRemovableDevices = value == "true"
	case "enable_content_indexing":
		cfg.EnableContentIndexing = value == "true"
	case "enable_thumbnails":
		cfg.EnableThumbnails = value == "true"
	case "watch_directory_roots":
		cfg.WatchDirectoryRoots = splitCSV(value)
	case "no_watch_directory_roots":
		cfg.NoWatchDirectoryRoots = splitCSV(value)
	case "crawl_directory_roots":
		cfg.CrawlDirectoryRoots = splitCSV(value)
	case "no_index_file_types":
		cfg.NoIndexFileTypes = splitCSV(value)
	case "max_pending_items":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid max_pending_items value: %w", err)
		}
		cfg.MaxPendingItems = v
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// writeConfig persists cfg to ConfigPath via viper, mirroring the way
// config.WriteDefault seeds the same file.
func writeConfig(cfg *config.Config) error {
	v := viper.New()
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
	return v.WriteConfigAs(config.ConfigPath())
}

func splitCSV(value string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}
