package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	conf "github.com/trunov/rote-media/internal/config"
)

var (
	ErrQueueFull = errors.New("upload queue is full")
	ErrClosed    = errors.New("storage is closed")
)

// putter is the part of the s3 upload manager the workers use.
type putter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type uploadReq struct {
	ctx         context.Context
	key         string
	contentType string
	payload     []byte

	done chan error
}

type S3 struct {
	AccountID          string
	Bucket             string
	Region             string // usually "auto" for R2
	Endpoint           string
	PublicURL          string
	AwsAccessKeyId     string
	AwsSecretAccessKey string

	Workers        int
	QueueSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration

	queue  chan uploadReq
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	S3Client *s3.Client
	Uploader putter

	log *slog.Logger
}

func NewStorage(cfg *conf.R2Config) (*S3, error) {
	r2c := &S3{
		AccountID:          cfg.AccountID,
		Bucket:             cfg.BucketName,
		Region:             "auto",
		Endpoint:           cfg.Endpoint,
		PublicURL:          cfg.PublicURL,
		AwsAccessKeyId:     cfg.AccessKeyID,
		AwsSecretAccessKey: cfg.SecretKey,
		Workers:            cfg.Workers,
		QueueSize:          cfg.QueueSize,
		MaxRetries:         cfg.MaxRetries,
		RetryBaseDelay:     300 * time.Millisecond,
	}
	if err := r2c.Run(); err != nil {
		return nil, err
	}

	return r2c, nil
}

func (s *S3) endpoint() string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
}

// Run builds the S3 client and starts the upload workers.
func (s *S3) Run() error {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AwsAccessKeyId, s.AwsSecretAccessKey, "",
		)),
		config.WithRegion(s.Region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	s.S3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.endpoint())
		o.UsePathStyle = true
	})
	s.start(manager.NewUploader(s.S3Client))

	s.log.Info("r2 client and worker pool initialized", "bucket", s.Bucket, "workers", s.Workers)
	return nil
}

func (s *S3) start(up putter) {
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.QueueSize <= 0 {
		s.QueueSize = s.Workers
	}
	s.log = slog.Default().With("component", "r2")
	s.Uploader = up
	s.queue = make(chan uploadReq, s.QueueSize)
	for i := 0; i < s.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close waits for all queued uploads to be processed.
func (s *S3) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// Upload queues payload for upload and waits for the result. If the queue is
// full it returns ErrQueueFull immediately. The worker pool is shared by
// every caller, so it bounds the number of concurrent PUTs process-wide.
func (s *S3) Upload(ctx context.Context, key string, contentType string, payload []byte) error {
	req := uploadReq{ctx: ctx, key: key, contentType: contentType, payload: payload, done: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	default:
		s.mu.RUnlock()
		return ErrQueueFull
	}
	s.mu.RUnlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *S3) worker() {
	defer s.wg.Done()
	for req := range s.queue {
		req.done <- s.put(req)
	}
}

func (s *S3) put(req uploadReq) error {
	attempt := 0
	for {
		attempt++
		_, err := s.Uploader.Upload(req.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.Bucket),
			Key:         aws.String(req.key),
			Body:        bytes.NewReader(req.payload),
			ContentType: aws.String(req.contentType),
		})
		if err == nil {
			return nil
		}

		if attempt > s.MaxRetries || req.ctx.Err() != nil {
			return fmt.Errorf("upload %q after %d attempts: %w", req.key, attempt, err)
		}

		backoff := s.backoffDelay(attempt)
		s.log.Warn("upload failed, retrying", "key", req.key, "attempt", attempt, "backoff", backoff, "err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-req.ctx.Done():
			timer.Stop()
			return fmt.Errorf("upload %q: %w", req.key, req.ctx.Err())
		}
	}
}

// backoffDelay doubles the base delay per attempt with ±5% jitter.
func (s *S3) backoffDelay(attempt int) time.Duration {
	delay := s.RetryBaseDelay << (attempt - 1)
	jitter := int64(delay) / 10
	if jitter <= 0 {
		return delay
	}
	return delay - time.Duration(jitter/2) + time.Duration(rand.Int64N(jitter))
}

func (s *S3) Download(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %q: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, "", fmt.Errorf("failed to read body for %q: %w", key, err)
	}

	return buf.Bytes(), aws.ToString(out.ContentType), nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *S3) URL(key string) string {
	base := s.PublicURL
	if base == "" {
		base = s.endpoint() + "/" + s.Bucket
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
