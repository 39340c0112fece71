// Package ingest imports a remote URL into the media library: a direct file
// creation first, then an ingest task polled for a short while.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
)

// API is the subset of the media API used for ingesting.
type API interface {
	CreateFileFromURL(ctx context.Context, request mediaapi.FileFromURLRequest) (mediaapi.File, error)
	CreateIngestTask(ctx context.Context, request mediaapi.IngestTaskRequest) (mediaapi.Task, error)
	GetTask(ctx context.Context, id string) (mediaapi.Task, error)
}

// PollConfig bounds how long an ingest task is watched.
type PollConfig struct {
	// Interval is the pause between two polls.
	Interval time.Duration
	// MaxAttempts caps the number of polls. Zero means no cap besides Budget.
	MaxAttempts int
	// Budget caps the total time spent polling.
	Budget time.Duration
}

// DefaultPollConfig polls every 750ms for at most 5s.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    750 * time.Millisecond,
		MaxAttempts: 8,
		Budget:      5 * time.Second,
	}
}

// Status is the kind of an ingest Result.
type Status int

const (
	// Ready means the file exists and is playable.
	Ready Status = iota
	// Failed means the ingest task ended unsuccessfully.
	Failed
	// TimedOut means the task was still running when polling gave up.
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is the outcome of an ingest. File is set when Ready, Task otherwise.
type Result struct {
	Status Status
	File   mediaapi.File
	Task   mediaapi.Task
}

// Request describes the remote media to import.
type Request struct {
	URL      string
	Folder   string
	Filename string
}

// Ingester runs URL ingests.
type Ingester struct {
	api    API
	config PollConfig
	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewIngester ...
func NewIngester(api API, config PollConfig, logger log.Logger) *Ingester {
	if config.Interval <= 0 {
		config.Interval = DefaultPollConfig().Interval
	}
	return &Ingester{
		api:    api,
		config: config,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Ingest imports request.URL. An error means the ingest could not be started;
// a started ingest always yields a Result.
func (i *Ingester) Ingest(ctx context.Context, request Request) (Result, error) {
	if request.URL == "" {
		return Result{}, errors.New("missing url")
	}

	file, err := i.api.CreateFileFromURL(ctx, mediaapi.FileFromURLRequest{
		URL:      request.URL,
		Folder:   request.Folder,
		Filename: request.Filename,
	})
	if err == nil {
		return Result{Status: Ready, File: file}, nil
	}

	var configErr *mediaapi.ConfigurationError
	if errors.As(err, &configErr) {
		return Result{}, err
	}
	i.logger.Debugf("Direct file creation for %s was not accepted, falling back to an ingest task: %s", request.URL, err)

	task, err := i.api.CreateIngestTask(ctx, mediaapi.IngestTaskRequest{
		URL:      request.URL,
		Folder:   request.Folder,
		Filename: request.Filename,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create ingest task: %w", err)
	}

	return i.poll(ctx, task), nil
}

// Poll watches an existing task within the configured bounds.
func (i *Ingester) Poll(ctx context.Context, task mediaapi.Task) Result {
	return i.poll(ctx, task)
}

func (i *Ingester) poll(ctx context.Context, last mediaapi.Task) Result {
	started := i.now()
	for attempt := 0; i.config.MaxAttempts <= 0 || attempt < i.config.MaxAttempts; attempt++ {
		if i.now().Sub(started) >= i.config.Budget {
			break
		}

		step, err := i.api.GetTask(ctx, last.ID)
		if err != nil {
			i.logger.Warnf("Polling task %s failed: %s", last.ID, err)
			break
		}
		last = step

		if file, ok := last.OutputFile(); ok {
			return Result{Status: Ready, File: file, Task: last}
		}
		if last.HasFailed() {
			return Result{Status: Failed, Task: last}
		}

		if err := i.sleep(ctx, i.config.Interval); err != nil {
			break
		}
	}

	i.logger.Infof("Task %s still %s, giving up polling", last.ID, describeStatus(last.Status))
	return Result{Status: TimedOut, Task: last}
}

func describeStatus(status string) string {
	if status == "" {
		return "pending"
	}
	return status
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
