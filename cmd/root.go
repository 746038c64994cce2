package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbrewind/internal/backup"
	"dbrewind/internal/display"
	"dbrewind/internal/logging"
	"dbrewind/internal/mapper"
	"dbrewind/internal/restore"
	"dbrewind/internal/schema"
)

var cfgFile string

// CLI flag variables
var (
	schemaDir   string
	storagePath string
	verbose     bool
	quiet       bool
	noColor     bool
	logFile     string
	logFormat   string
	timeout     time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbrewind",
	Short: "Cross-version database backup and restore",
	Long: `dbrewind captures differential backups of a database and restores them
into any registered schema version. Field mappings between versions are
inferred automatically from the schema definitions; unmappable fields are
reported before anything is written.

Examples:
  # Register schema versions from a directory and back up a database
  dbrewind backup 3 --dsn "user:pass@tcp(localhost:3306)/app" --schema-dir ./schemas

  # Delta backup on top of an existing archive
  dbrewind backup 3 --dsn "..." --base 1f0c2e

  # Restore an archive into an older schema version
  dbrewind restore 1f0c2e --dsn "..." --target-version 2

  # Show what would map between two versions before restoring
  dbrewind rules 3 2`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbrewind.yaml)")
	rootCmd.PersistentFlags().StringVar(&schemaDir, "schema-dir", "schemas", "directory holding schema version definitions")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage-path", ".dbrewind/archives", "local archive directory (ignored for cloud providers)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "operation timeout")

	viper.BindPFlag("schema_dir", rootCmd.PersistentFlags().Lookup("schema-dir"))
	viper.BindPFlag("storage.local.path", rootCmd.PersistentFlags().Lookup("storage-path"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dbrewind")
	}

	viper.SetEnvPrefix("DBREWIND")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// app bundles the wired components every subcommand builds from the same
// configuration.
type app struct {
	logger   *logging.Logger
	registry *schema.Registry
	store    backup.Store
	engine   *backup.Engine
	rules    *mapper.Cache
	pipeline *restore.Pipeline
	renderer *display.Renderer
}

func newApp(cmd *cobra.Command) (*app, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, err
	}

	registry := schema.NewRegistryWithLogger(logger)
	dir := viper.GetString("schema_dir")
	if dir == "" {
		dir = schemaDir
	}
	if err := schema.LoadVersionDir(registry, dir); err != nil {
		return nil, fmt.Errorf("loading schema versions from %s: %w", dir, err)
	}

	var storageCfg backup.StorageConfig
	if err := viper.UnmarshalKey("storage", &storageCfg); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	if storageCfg.Local.Path == "" {
		storageCfg.Local.Path = storagePath
	}
	store, err := backup.NewStore(cmd.Context(), storageCfg)
	if err != nil {
		return nil, err
	}

	codec, err := buildCodec()
	if err != nil {
		return nil, err
	}

	engine := backup.NewEngine(registry, store, codec, logger)
	rules := mapper.NewCache(registry, mapper.NewMapperWithLogger(logger))

	a := &app{
		logger:   logger,
		registry: registry,
		store:    store,
		engine:   engine,
		rules:    rules,
		pipeline: restore.NewPipeline(engine, rules, logger),
		renderer: buildRenderer(),
	}
	return a, nil
}

func buildLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  viper.GetString("log_format"),
		LogFile: viper.GetString("log_file"),
	})
}

func buildRenderer() *display.Renderer {
	if noColor || quiet {
		return display.NewPlainRenderer(os.Stdout)
	}
	return display.NewRenderer(os.Stdout)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbrewind version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  dbrewind config > .dbrewind.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			sampleConfig := `# dbrewind configuration file

# Directory holding one YAML file per schema version. Files are loaded in
# lexical order; that order defines the version chain.
schema_dir: ./schemas

# Archive storage backend
storage:
  provider: local          # local, s3, gcs, azure
  local:
    path: .dbrewind/archives
    permissions: 0755
  s3:
    region: eu-west-1
    bucket: ""
    prefix: archives/
    access_key: ""         # empty = default credential chain
    secret_key: ""
  gcs:
    bucket: ""
    prefix: archives/
    credentials_path: ""   # empty = application default credentials
  azure:
    account_name: ""
    account_key: ""
    container: ""
    prefix: archives/

# Archive encoding
backup:
  compression: zstd        # none, gzip, lz4, zstd
  level: 0                 # 0 = algorithm default
  passphrase_env: DBREWIND_PASSPHRASE  # empty variable disables encryption

# Restore defaults
restore:
  workers: 0               # 0 = number of CPUs

# Retention limits, counted per schema version
retention:
  max_archives: 0          # 0 = unlimited
  max_age: 0s              # 0 = unlimited
  min_keep: 0

log_format: text           # text, json
log_file: ""               # empty = stderr
`
			fmt.Print(sampleConfig)
		},
	}
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
