package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
	"github.com/mediakit-io/go-mediaproxy/source"
	"github.com/mediakit-io/go-mediaproxy/upload"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	folder      string
	filename    string
	chunkSize   string
	concurrency int
}

func uploadCmd(opts *globalOptions) *cobra.Command {
	var uploadOpts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <source>...",
		Short: "Upload files with resumable chunked uploads",
		Long: `Upload one or more sources through resumable upload sessions.

A source is a local path or glob (doublestar patterns like videos/**/*.mp4
are supported), a file:// path, an http(s) URL or an s3://bucket/key object.
Each source is sent in fixed-size chunks, one chunk at a time.

Examples:
  mediaproxy upload clip.mp4
  mediaproxy upload --folder videos 'footage/**/*.mov'
  mediaproxy upload --chunk-size 8MiB s3://media/raw/clip.mp4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			return a.upload(cmd.Context(), args, uploadOpts)
		},
	}

	cmd.Flags().StringVar(&uploadOpts.folder, "folder", "", "Destination folder")
	cmd.Flags().StringVar(&uploadOpts.filename, "filename", "", "Destination filename (single source only)")
	cmd.Flags().StringVar(&uploadOpts.chunkSize, "chunk-size", "", "Chunk size, e.g. 16MiB (overrides UPLOAD_CHUNK_SIZE)")
	cmd.Flags().IntVar(&uploadOpts.concurrency, "concurrency", 0, "Number of sources uploaded at once (overrides UPLOAD_CONCURRENCY)")

	return cmd
}

func (a *app) upload(ctx context.Context, args []string, opts uploadOptions) error {
	uploader := a.uploader
	if opts.chunkSize != "" {
		size, err := units.RAMInBytes(opts.chunkSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("invalid chunk size %q", opts.chunkSize)
		}
		uploaderConfig := a.cfg.ChunkUploader()
		uploaderConfig.ChunkSize = size
		uploaderConfig.Observer = a.metrics
		uploader = chunkuploader.New(uploaderConfig, a.logger)
	}
	defer uploader.CloseIdleConnections()

	concurrency := a.cfg.Upload.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}

	locations, err := source.Expand(args)
	if err != nil {
		return err
	}
	if opts.filename != "" && len(locations) > 1 {
		return fmt.Errorf("--filename needs exactly one source, got %d", len(locations))
	}

	resolver := source.NewResolver(
		pathutil.NewPathProvider(),
		pathutil.NewPathModifier(),
		http.DefaultClient,
		source.NewS3ClientFactory(source.S3Config{
			Region:          a.cfg.AWS.Region,
			AccessKeyID:     a.cfg.AWS.AccessKeyID,
			SecretAccessKey: string(a.cfg.AWS.SecretAccessKey),
			Endpoint:        a.cfg.AWS.Endpoint,
		}, a.logger),
		a.logger,
	)

	var items []upload.Item
	for _, location := range locations {
		resolved, err := resolver.Open(ctx, location)
		if err != nil {
			return fmt.Errorf("open %s: %w", location, err)
		}
		defer func(resolved *source.Resolved) {
			if err := resolved.Close(); err != nil {
				a.logger.Warnf("close %s: %s", resolved.Location, err)
			}
		}(resolved)

		filename := resolved.Filename
		if opts.filename != "" {
			filename = opts.filename
		}
		items = append(items, upload.Item{Source: resolved, Filename: filename, Folder: opts.folder})
	}

	batch := upload.NewBatch(upload.NewResumable(a.client, uploader, a.logger), concurrency)
	results := batch.Upload(ctx, items, a.progressPrinter(items))

	for _, result := range results {
		a.metrics.UploadFinished(result.Outcome)
		if result.Outcome.State == chunkuploader.StateCompleted {
			a.logger.Printf("%s -> %s", result.Filename, result.Outcome.ResourceURL)
		}
	}

	stats := uploader.Stats()
	a.logger.Debugf("Sent %s in %d chunks, average chunk time %v",
		units.HumanSize(float64(stats.BytesSent())), stats.FinishedCount(), stats.Average())

	if failed := upload.Failed(results); len(failed) > 0 {
		for _, result := range failed {
			a.logger.Errorf("%s: %s", result.Filename, mediaapi.Reason(result.Err))
		}
		return fmt.Errorf("%d of %d uploads failed", len(failed), len(results))
	}
	return nil
}

// progressPrinter logs each item's progress whenever it moves by at least 10%.
func (a *app) progressPrinter(items []upload.Item) upload.BatchProgressFunc {
	var mu sync.Mutex
	last := make([]int, len(items))
	for i := range last {
		last[i] = -1
	}

	return func(index, percent int) {
		mu.Lock()
		defer mu.Unlock()
		if percent < 100 && last[index] >= 0 && percent-last[index] < 10 {
			return
		}
		last[index] = percent
		a.logger.Printf("%s: %d%%", items[index].Filename, percent)
	}
}
