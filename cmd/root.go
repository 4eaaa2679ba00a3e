package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/pipeline"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig      string
	flagOutput      string
	flagCache       string
	flagVerbose     bool
	flagNoSummarize bool
)

var rootCmd = &cobra.Command{
	Use:   "newsdigest",
	Short: "Categorized RSS digest generator with AI summaries",
	Long: `newsdigest fetches categorized RSS/Atom sources, dedups syndicated
articles, summarizes new ones through a cached AI call, and emits a
categorized digest document for an external renderer.`,
	SilenceUsage: true,
	RunE:         runDigest,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "digest output file (default: stdout)")
	rootCmd.Flags().StringVar(&flagCache, "cache", "", "summary cache file (default: user cache dir)")
	rootCmd.Flags().BoolVar(&flagNoSummarize, "no-summarize", false, "skip the summarization API, use excerpt fallbacks")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statsCmd)
}

func runDigest(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cachePath := flagCache
	if cachePath == "" {
		cachePath = cfg.ResolvedCachePath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = pipeline.Run(ctx, cfg, pipeline.Options{
		OutputPath:        flagOutput,
		CachePath:         cachePath,
		ArchivePath:       cfg.ResolvedArchivePath(),
		DisableSummarizer: flagNoSummarize,
		Logger:            logger,
	})
	return err
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newsdigest %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// Execute runs the CLI. A non-zero exit tells the external scheduler the run
// produced no usable digest.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
