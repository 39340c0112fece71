package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	numHeadRetries = 3
	headRetryWait  = 2 * time.Second
)

// ErrS3ObjectNotFound is returned when the object does not exist.
var ErrS3ObjectNotFound = errors.New("object not found in s3 bucket")

// S3API is the subset of the S3 client used for reading objects.
type S3API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config ...
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO. Path style
	// addressing is used when set.
	Endpoint string
}

// NewS3ClientFactory creates clients from static or default credentials.
func NewS3ClientFactory(cfg S3Config, logger log.Logger) S3ClientFactory {
	return func(ctx context.Context) (S3API, error) {
		awsConfig, err := loadAWSCredentials(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, logger)
		if err != nil {
			return nil, fmt.Errorf("load aws credentials: %w", err)
		}

		return s3.NewFromConfig(*awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		}), nil
	}
}

// DefaultS3BlockSize is how much of an object one ranged GET fetches.
const DefaultS3BlockSize int64 = 16 * 1024 * 1024

// S3Object reads an object through ranged GETs of one block at a time. The
// last block is kept so that small sequential reads share a request.
// ReadAt uses the context the object was opened with.
type S3Object struct {
	ctx        context.Context
	downloader *manager.Downloader
	bucket     string
	key        string
	size       int64
	blockSize  int64

	mu         sync.Mutex
	blockStart int64
	block      []byte
}

// OpenS3Object looks up the object size. Lookups are retried unless the
// object is missing.
func OpenS3Object(ctx context.Context, client S3API, bucket, key string, logger log.Logger) (*S3Object, error) {
	var size int64
	err := retry.Times(numHeadRetries).Wait(headRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					return ErrS3ObjectNotFound, true
				default:
					logger.Debugf("head s3://%s/%s (attempt %d): %s", bucket, key, attempt+1, err)
					return fmt.Errorf("aws api error: %w", err), false
				}
			}
			return fmt.Errorf("generic aws error: %w", err), false
		}

		size = aws.ToInt64(out.ContentLength)
		return nil, true
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	return &S3Object{
		ctx:        ctx,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		key:        key,
		size:       size,
		blockSize:  DefaultS3BlockSize,
	}, nil
}

// Size ...
func (o *S3Object) Size() int64 {
	return o.size
}

// ReadAt implements io.ReaderAt.
func (o *S3Object) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= o.size {
			return n, io.EOF
		}
		if pos < o.blockStart || pos >= o.blockStart+int64(len(o.block)) {
			if err := o.fetch(pos); err != nil {
				return n, err
			}
		}
		n += copy(p[n:], o.block[pos-o.blockStart:])
	}
	return n, nil
}

func (o *S3Object) fetch(start int64) error {
	end := start + o.blockSize
	if end > o.size {
		end = o.size
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, end-start))
	n, err := o.downloader.Download(o.ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s range at %d: %w", o.bucket, o.key, start, err)
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}

	o.blockStart = start
	o.block = buf.Bytes()[:n]
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
