// Package upload is the caller facing resumable upload: it asks the media API
// for a one-time session and hands it to the chunk driver.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
)

// SessionInitiator creates resumable upload sessions.
type SessionInitiator interface {
	CreateResumableSession(ctx context.Context, filename, folder string) (mediaapi.Session, error)
}

// ChunkDriver sends a source through an existing session.
type ChunkDriver interface {
	Upload(ctx context.Context, session mediaapi.Session, source chunkuploader.Source, progress chunkuploader.ProgressFunc) (chunkuploader.Outcome, error)
}

// Resumable uploads one source per call through a fresh session.
type Resumable struct {
	initiator SessionInitiator
	driver    ChunkDriver
	logger    log.Logger
}

// NewResumable ...
func NewResumable(initiator SessionInitiator, driver ChunkDriver, logger log.Logger) *Resumable {
	return &Resumable{
		initiator: initiator,
		driver:    driver,
		logger:    logger,
	}
}

// Upload creates a session for filename in folder and sends source through
// it. The returned Outcome is either Completed or Failed; err is non-nil
// exactly when the outcome failed.
func (r *Resumable) Upload(ctx context.Context, source chunkuploader.Source, filename, folder string, progress chunkuploader.ProgressFunc) (chunkuploader.Outcome, error) {
	if source == nil || source.Size() <= 0 {
		return chunkuploader.Failed(chunkuploader.ErrEmptySource), chunkuploader.ErrEmptySource
	}

	session, err := r.initiator.CreateResumableSession(ctx, filename, folder)
	if err != nil {
		err = fmt.Errorf("create upload session: %w", err)
		return chunkuploader.Failed(err), err
	}

	r.logger.Infof("Uploading %s (%s) to %s", filename, units.HumanSize(float64(source.Size())), describeFolder(folder))

	outcome, err := r.driver.Upload(ctx, session, source, progress)
	if err != nil {
		var chunkErr *mediaapi.UpstreamChunkError
		if errors.As(err, &chunkErr) {
			r.logger.Errorf("Upload of %s rejected: %s", filename, mediaapi.Reason(err))
		}
		return outcome, err
	}

	r.logger.Donef("Uploaded %s: %s", filename, outcome.ResourceURL)
	return outcome, nil
}

func describeFolder(folder string) string {
	if folder == "" {
		return "the root folder"
	}
	return "folder " + folder
}
