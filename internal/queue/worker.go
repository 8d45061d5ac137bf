package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/compress"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/entities"
	"github.com/trunov/rote-media/internal/redisholder"
)

type Storage interface {
	Download(ctx context.Context, key string) ([]byte, string, error)
	Upload(ctx context.Context, key, contentType string, payload []byte) error
	URL(key string) string
}

type Repository interface {
	SetCompressed(ctx context.Context, key, compressKey, compressURL string) error
}

type Transformer interface {
	Transform(ctx context.Context, f entities.File, opts compress.Options) (*compress.Asset, error)
}

type Worker struct {
	src      redisholder.Source
	cfg      config.CompressWorkerConfig
	pipeline config.PipelineConfig
	storage  Storage
	repo     Repository
	conv     Transformer
	producer *Producer
	log      *slog.Logger
}

// Init starts the compress worker in the background and returns the producer
// feeding it.
func Init(ctx context.Context, src redisholder.Source, cfg config.CompressWorkerConfig, pipeline config.PipelineConfig, storage Storage, repo Repository) *Producer {
	worker := NewWorker(src, cfg, pipeline, storage, repo)

	go func() {
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			worker.log.Error("stopped", "err", err)
			sentry.CaptureException(err)
		}
	}()

	return worker.producer
}

func NewWorker(src redisholder.Source, cfg config.CompressWorkerConfig, pipeline config.PipelineConfig, storage Storage, repo Repository) *Worker {
	return &Worker{
		src:      src,
		cfg:      cfg,
		pipeline: pipeline,
		storage:  storage,
		repo:     repo,
		conv:     compress.NewTransformer(nil),
		producer: NewProducer(src, cfg.Stream, cfg.MaxLen),
		log:      slog.Default().With("component", "compress-worker"),
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.src.Get().XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	w.log.Info("starting consumer", "group", w.cfg.Group, "stream", w.cfg.Stream, "workers", w.cfg.Workers)

	// Finish what this consumer left pending before it stopped, then adopt
	// messages orphaned by other consumers.
	w.recoverPending(ctx)
	w.autoClaim(ctx)

	errCh := make(chan error, w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		go func() {
			err := w.loop(ctx)
			if err != nil {
				w.log.Error("worker stopped with error", "worker", id, "err", err)
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		w.log.Info("context canceled, stopping all workers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// autoClaim takes ownership of messages delivered to a consumer that died
// before XACK, so they are handled instead of sitting in the pending list.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	// Don't steal messages that slow workers are still processing.
	minIdle := 30 * time.Second
	if t := w.cfg.BlockTimeout * time.Second * 6; t > minIdle {
		minIdle = t
	}

	for {
		msgs, start, err := w.src.Get().XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			_ = w.handle(ctx, m)
		}
		if start == "0-0" {
			return
		}
		next = start
	}
}

// recoverPending re-runs messages already delivered to this consumer but
// never acknowledged, e.g. because the process stopped mid-job.
func (w *Worker) recoverPending(ctx context.Context) {
	next := "0"
	for ctx.Err() == nil {
		streams, err := w.src.Get().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, next},
			Count:    100,
			Block:    -1,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				w.log.Warn("read pending", "err", err)
			}
			return
		}
		var n int
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = w.handle(ctx, m)
				next = m.ID
				n++
			}
		}
		if n == 0 {
			return
		}
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		// XREADGROUP with ">" delivers new messages and adds them to this
		// consumer's pending list until handle() acknowledges them.
		streams, err := w.src.Get().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout * time.Second,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("read group", "err", err)
			time.Sleep(time.Second)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = w.handle(ctx, m)
			}
		}
	}
}

// handle runs one job. The message is acknowledged only once its outcome is
// settled: done, given up, or re-added to the stream. A job interrupted by
// shutdown stays pending and is picked up again by recoverPending or
// autoClaim.
func (w *Worker) handle(ctx context.Context, m redis.XMessage) error {
	raw, ok := m.Values["payload"].(string)
	if !ok {
		err := fmt.Errorf("message %s: missing payload", m.ID)
		sentry.CaptureException(err)
		return errors.Join(err, w.ack(ctx, m.ID))
	}
	var job CompressJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		err = fmt.Errorf("message %s: decode payload: %w", m.ID, err)
		sentry.CaptureException(err)
		return errors.Join(err, w.ack(ctx, m.ID))
	}
	attempt := toInt64(m.Values["attempt"])

	if nb := toInt64(m.Values["not_before"]); nb > 0 {
		if err := sleepUntil(ctx, time.UnixMilli(nb)); err != nil {
			return err
		}
	}

	err := w.process(ctx, job)
	if err == nil {
		return w.ack(ctx, m.ID)
	}
	if ctx.Err() != nil {
		w.log.Info("interrupted, leaving job pending", "key", job.ObjectKey, "id", m.ID)
		return err
	}

	log := w.log.With("key", job.ObjectKey, "attempt", attempt+1)
	if attempt+1 >= int64(w.cfg.MaxAttempts) || errors.Is(err, compress.ErrDecode) {
		// corrupt input will not get better on retry
		log.Error("giving up on compress job", "err", err)
		sentry.CaptureException(fmt.Errorf("compress %s: %w", job.ObjectKey, err))
		return errors.Join(err, w.ack(ctx, m.ID))
	}

	backoff := w.cfg.BackoffBase * time.Second << attempt
	log.Warn("compress job failed, requeueing", "backoff", backoff, "err", err)

	// the retry and the ack land together or not at all
	_, txErr := w.src.Get().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := w.producer.add(ctx, pipe, job, attempt+1, time.Now().Add(backoff)); err != nil {
			return err
		}
		pipe.XAck(ctx, w.cfg.Stream, w.cfg.Group, m.ID)
		return nil
	})
	if txErr != nil {
		log.Error("requeue compress job, leaving it pending", "err", txErr)
		return errors.Join(err, txErr)
	}
	return err
}

func (w *Worker) ack(ctx context.Context, id string) error {
	return w.src.Get().XAck(context.WithoutCancel(ctx), w.cfg.Stream, w.cfg.Group, id).Err()
}

func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Worker) process(ctx context.Context, job CompressJob) error {
	orig, contentType, err := w.storage.Download(ctx, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("download %s: %w", job.ObjectKey, err)
	}

	mimeType := job.MimeType
	if mimeType == "" {
		mimeType = contentType
	}

	asset, err := w.conv.Transform(ctx, entities.File{
		Name:     job.ObjectKey,
		MimeType: mimeType,
		Size:     int64(len(orig)),
		Data:     orig,
	}, compress.Options{MaxEdge: w.pipeline.MaxEdge, Quality: w.pipeline.Quality})
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	if err := w.storage.Upload(ctx, job.CompressKey, asset.MimeType, asset.Data); err != nil {
		return fmt.Errorf("upload compressed: %w", err)
	}
	if err := w.repo.SetCompressed(ctx, job.ObjectKey, job.CompressKey, w.storage.URL(job.CompressKey)); err != nil {
		return fmt.Errorf("record compressed: %w", err)
	}
	return nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		x, _ := strconv.ParseInt(t, 10, 64)
		return x
	default:
		return 0
	}
}
