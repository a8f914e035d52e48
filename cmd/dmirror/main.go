package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/b0x-token/data-mirror/internal/app"
	"github.com/b0x-token/data-mirror/internal/config"
	"github.com/b0x-token/data-mirror/internal/fetch"
	"github.com/b0x-token/data-mirror/internal/history"
	"github.com/b0x-token/data-mirror/internal/logging"
	"github.com/b0x-token/data-mirror/internal/mirror"
	"github.com/b0x-token/data-mirror/internal/monitor"
	"github.com/b0x-token/data-mirror/internal/notify"
	"github.com/b0x-token/data-mirror/internal/storage"
	"github.com/b0x-token/data-mirror/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	SourceURL    string
	AltSourceURL string
	Storage      string
	LocalPath    string
	S3Endpoint   string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     string
	S3PathStyle  string
	StatusFile   string
	RPCURL       string
	DataFile     string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "dmirror",
		Short: "Mirror a remote data directory with change detection and status reports",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.SourceURL, "source", "", "Primary source URL")
	rootCmd.PersistentFlags().StringVar(&overrides.AltSourceURL, "alt-source", "", "Alternative source URL")
	rootCmd.PersistentFlags().StringVar(&overrides.Storage, "storage", "", "Storage backend (local, s3)")
	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "storage-path", "", "Local mirror path")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.StatusFile, "status-file", "", "Workflow status sentinel path")

	rootCmd.AddCommand(newSyncCmd(root, overrides))
	rootCmd.AddCommand(newMonitorCmd(root, overrides))
	rootCmd.AddCommand(newArchiveCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newStatusCmd(root, overrides))
	rootCmd.AddCommand(newHistoryCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSyncCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var dryRun bool
	var parallel int
	var retry int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one mirror pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if parallel > 0 {
				cfg.Mirror.MaxParallelism = parallel
			}
			if retry > 0 {
				cfg.Mirror.RetryCount = retry
			}
			if retryBackoff > 0 {
				cfg.Mirror.RetryBackoff = retryBackoff
			}

			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			appSvc, cleanup, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			summary, err := appSvc.Sync(ctx, dryRun)
			if err != nil {
				return err
			}
			logger.Info().
				Bool("success", summary.Success).
				Int("downloaded", summary.Downloaded).
				Int("updated", summary.Updated).
				Int("skipped", summary.Skipped).
				Int("errors", summary.Errors).
				Msg("sync finished")
			if !summary.Success {
				// The workflow reads the status sentinel; an unavailable
				// source is not a process failure.
				logger.Warn().Msg("mirror preserved, no changes made")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report changes without writing")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Max concurrent downloads")
	cmd.Flags().IntVar(&retry, "retry", 0, "Retry attempts per file")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 0, "Retry backoff")
	return cmd
}

func newMonitorCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Refresh the rolling on-chain price series",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if cfg.Monitor.RPCURL == "" {
				return fmt.Errorf("monitor.rpc_url is required")
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			rpc := monitor.NewRPCClient(cfg.Monitor.RPCURL, cfg.Monitor.RetryCount, cfg.Monitor.RetryDelay)
			runner := monitor.NewRunner(cfg.Monitor, rpc, logger)
			result, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("points", result.TotalPoints).
				Int("target_points", result.TargetPoints).
				Int("collected", result.Collected).
				Float64("latest_price", result.LatestPrice).
				Msg("monitor finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&overrides.RPCURL, "rpc-url", "", "JSON-RPC endpoint")
	cmd.Flags().StringVar(&overrides.DataFile, "data-file", "", "Series data file path")
	return cmd
}

func newArchiveCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var compression string
	var encrypt bool
	var encryptionKey string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Snapshot the mirror into a compressed archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if compression != "" {
				cfg.Archive.Compression = strings.ToLower(compression)
			}
			if encrypt {
				cfg.Archive.Encryption = true
			}
			if encryptionKey != "" {
				cfg.Archive.EncryptionKey = encryptionKey
			}

			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			appSvc, cleanup, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			manifest, err := appSvc.Archive(ctx)
			if err != nil {
				return err
			}
			logger.Info().Str("key", manifest.Key).Int64("size", manifest.SizeBytes).Int("files", manifest.FileCount).Msg("archive completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&compression, "compression", "", "Compression (none/gzip/zstd)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Enable encryption")
	cmd.Flags().StringVar(&encryptionKey, "encryption-key", "", "Encryption key (base64 or hex)")
	return cmd
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored mirror objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			appSvc, cleanup, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			items, err := appSvc.List(ctx)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%s\t%d\t%s\n", item.Key, item.Size, item.Modified.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newStatusCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, ok, err := store.Latest()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no runs recorded")
				return nil
			}
			printSummary(summary)
			return nil
		},
	}
}

func newHistoryCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				status := "FAILED"
				if run.Success {
					status = "SUCCESS"
				}
				fmt.Printf("%s\t%s\tdownloaded=%d updated=%d skipped=%d errors=%d\n",
					run.StartedAt.Format(time.RFC3339), status, run.Downloaded, run.Updated, run.Skipped, run.Errors)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, source availability, and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			appSvc, cleanup, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			if err := appSvc.Validate(ctx); err != nil {
				return err
			}
			logger.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dmirror %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func buildApp(cfg *config.Config, logger zerolog.Logger) (*app.App, func(), error) {
	client := fetch.NewClient(cfg.Global.UserAgent, cfg.Mirror.HTTPTimeout, cfg.Mirror.MinContentBytes)
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	appSvc := app.New(cfg, client, store, hist, logger, notify.FromConfig(cfg.Notifications))
	return appSvc, func() { _ = hist.Close() }, nil
}

func printSummary(summary *mirror.Summary) {
	status := "FAILED"
	if summary.Success {
		status = "SUCCESS"
	}
	fmt.Printf("started:    %s\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Printf("finished:   %s\n", summary.FinishedAt.Format(time.RFC3339))
	fmt.Printf("status:     %s\n", status)
	fmt.Printf("primary:    %s (%s)\n", summary.PrimaryURL, availability(summary.PrimaryAvailable))
	if summary.AltURL != "" {
		fmt.Printf("alternative: %s (%s)\n", summary.AltURL, availability(summary.AltAvailable))
	}
	fmt.Printf("downloaded: %d\n", summary.Downloaded)
	fmt.Printf("updated:    %d\n", summary.Updated)
	fmt.Printf("skipped:    %d\n", summary.Skipped)
	fmt.Printf("errors:     %d\n", summary.Errors)
	fmt.Printf("files:      %d\n", len(summary.Files))
}

func availability(ok bool) string {
	if ok {
		return "Available"
	}
	return "Unavailable"
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.SourceURL != "" {
		cfg.Mirror.SourceURL = overrides.SourceURL
	}
	if overrides.AltSourceURL != "" {
		cfg.Mirror.AltSourceURL = overrides.AltSourceURL
	}
	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}
	if overrides.StatusFile != "" {
		cfg.Report.StatusFile = overrides.StatusFile
	}
	if overrides.RPCURL != "" {
		cfg.Monitor.RPCURL = overrides.RPCURL
	}
	if overrides.DataFile != "" {
		cfg.Monitor.DataFile = overrides.DataFile
	}

	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Archive.Compression = strings.ToLower(cfg.Archive.Compression)
}
