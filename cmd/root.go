package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/config"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/render"
)

// stdoutAnnotation marks commands that write documents to stdout; their
// console log goes to stderr
const stdoutAnnotation = "stdout"

var (
	cfg    = config.DefaultConfig()
	envErr = cfg.LoadEnv()
)

var rootCmd = &cobra.Command{
	Use:   "footprints",
	Short: "Building footprint store and OSM XML query service",
	Long: `footprints ingests building footprints from OSM documents into PostGIS,
assigns them stable identities and serves bounding-box queries as OSM XML.

Environment overrides (DATABASE_URL, FOOTPRINTS_*) are read from .env when
present; command-line flags win over both.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug:  cfg.Verbose,
			File:   cfg.LogFile,
			Stderr: cmd.Annotations[stdoutAnnotation] == "true",
		})
		if envErr != nil {
			exitWithError("invalid environment", envErr)
		}
		if err := cfg.Validate(); err != nil {
			exitWithError("invalid configuration", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose output")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection URL, overrides the discrete settings")
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	rootCmd.PersistentFlags().IntVar(&cfg.DBMaxConns, "db-max-conns", cfg.DBMaxConns, "Maximum pooled PostgreSQL connections")
}

// renderOptions maps the egress settings onto codec options
func renderOptions() render.Options {
	opts := render.DefaultOptions()
	opts.Copyright = cfg.Copyright
	opts.Attribution = cfg.Attribution
	opts.License = cfg.License
	opts.Source = cfg.SourceTag
	return opts
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
