package main

import (
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/mediakit-io/go-mediaproxy/config"
	"github.com/mediakit-io/go-mediaproxy/ingest"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
	"github.com/mediakit-io/go-mediaproxy/telemetry"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	verbose bool
	apiURL  string
	envRepo env.Repository
}

// app is the wiring shared by the commands.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	client   *mediaapi.Client
	metrics  *telemetry.Metrics
	uploader *chunkuploader.Uploader
	ingester *ingest.Ingester
}

func newApp(opts *globalOptions) (*app, error) {
	logger := log.NewLogger()
	logger.EnableDebugLog(opts.verbose)

	if opts.apiURL != "" {
		if err := opts.envRepo.Set("ITTYBIT_API_URL", opts.apiURL); err != nil {
			return nil, fmt.Errorf("set api url: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.verbose {
		config.Print(logger, *cfg)
	}

	metrics := telemetry.New()
	client := mediaapi.NewClient(cfg.MediaAPI(), logger)

	uploaderConfig := cfg.ChunkUploader()
	uploaderConfig.Observer = metrics

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		metrics:  metrics,
		uploader: chunkuploader.New(uploaderConfig, logger),
		ingester: ingest.NewIngester(client, cfg.Poll(), logger),
	}, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{envRepo: env.NewRepository()}

	rootCmd := &cobra.Command{
		Use:   "mediaproxy",
		Short: "Proxy and command line client for the media API",
		Long: `mediaproxy keeps the media API credential on the server side.

It runs an HTTP proxy for browser uploads and offers the same operations
from the command line, including resumable chunked uploads of local files,
remote URLs and S3 objects.

The credential is read from ITTYBIT_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "Media API base URL (overrides ITTYBIT_API_URL)")

	rootCmd.AddCommand(
		serveCmd(opts),
		uploadCmd(opts),
		downloadCmd(opts),
		filesCmd(opts),
		signGetCmd(opts),
		ingestCmd(opts),
		versionCmd(),
	)

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", mediaapi.Reason(err))
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mediaproxy %s (%s)\n", version, commit)
		},
	}
}
