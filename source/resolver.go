// Package source turns upload arguments (local paths, file:// paths, remote
// URLs and s3:// objects) into seekable chunk sources.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/melbahja/got"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
)

const (
	fileScheme = "file://"
	s3Scheme   = "s3://"
)

// Resolved is an opened upload source. Close releases the source and removes
// any temporary copy made for it.
type Resolved struct {
	chunkuploader.Source
	Filename string
	Location string

	closers []func() error
}

// Close ...
func (r *Resolved) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

// S3ClientFactory creates the client used for s3:// sources.
type S3ClientFactory func(ctx context.Context) (S3API, error)

// Resolver opens upload sources.
type Resolver struct {
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	httpClient   *http.Client
	s3Client     S3ClientFactory
	logger       log.Logger
}

// NewResolver ...
func NewResolver(pathProvider pathutil.PathProvider, pathModifier pathutil.PathModifier, httpClient *http.Client, s3Client S3ClientFactory, logger log.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		pathProvider: pathProvider,
		pathModifier: pathModifier,
		httpClient:   httpClient,
		s3Client:     s3Client,
		logger:       logger,
	}
}

// Open resolves location to a Source.
// A file:// or plain path is opened in place. An http(s) URL is downloaded to
// a temporary directory first. An s3:// object is read with ranged requests.
func (r *Resolver) Open(ctx context.Context, location string) (*Resolved, error) {
	switch {
	case strings.HasPrefix(location, s3Scheme):
		return r.openS3(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return r.openRemote(ctx, location)
	default:
		return r.openLocal(location)
	}
}

func (r *Resolver) openLocal(location string) (*Resolved, error) {
	pth, err := r.pathModifier.AbsPath(strings.TrimPrefix(location, fileScheme))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", location, err)
	}

	file, err := chunkuploader.OpenFile(pth)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Source:   file,
		Filename: filepath.Base(pth),
		Location: pth,
		closers:  []func() error{file.Close},
	}, nil
}

func (r *Resolver) openRemote(ctx context.Context, location string) (*Resolved, error) {
	tmpDir, err := r.pathProvider.CreateTempDir("mediaproxy-source")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	removeTmpDir := func() error { return os.RemoveAll(tmpDir) }

	filename := mediaapi.InferFilename(location)
	localPath := filepath.Join(tmpDir, filepath.Base(filename))

	r.logger.Debugf("Downloading %s to %s", location, localPath)
	if err := Download(ctx, r.httpClient, location, localPath); err != nil {
		_ = removeTmpDir()
		return nil, fmt.Errorf("failed to download file from %s: %w", location, err)
	}

	file, err := chunkuploader.OpenFile(localPath)
	if err != nil {
		_ = removeTmpDir()
		return nil, err
	}

	return &Resolved{
		Source:   file,
		Filename: filename,
		Location: location,
		closers:  []func() error{removeTmpDir, file.Close},
	}, nil
}

func (r *Resolver) openS3(ctx context.Context, location string) (*Resolved, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, err
	}
	if r.s3Client == nil {
		return nil, fmt.Errorf("s3 sources are not configured")
	}

	client, err := r.s3Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	object, err := OpenS3Object(ctx, client, bucket, key, r.logger)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Source:   object,
		Filename: filepath.Base(key),
		Location: location,
	}, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", location, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%s is not an s3://bucket/key url", location)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%s does not name an object", location)
	}
	return u.Host, key, nil
}

// Download fetches url into dest with concurrent ranged requests.
func Download(ctx context.Context, client *http.Client, url, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}
