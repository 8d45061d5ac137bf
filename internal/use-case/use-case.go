package use_case

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trunov/rote-media/internal/cache"
	"github.com/trunov/rote-media/internal/compress"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/entities"
	"github.com/trunov/rote-media/internal/queue"
	"github.com/trunov/rote-media/internal/runner"
	"github.com/zeebo/blake3"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoQueue     = errors.New("compression queue unavailable")
)

type Storage interface {
	InsertAttachment(ctx context.Context, a entities.Attachment) (entities.Attachment, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, key string, contentType string, payload []byte) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type BatchStore interface {
	SaveBatch(ctx context.Context, b entities.Batch, ttl time.Duration) error
	GetBatch(ctx context.Context, id string) (entities.Batch, error)
}

type DedupeCache interface {
	GetJSON(ctx context.Context, key string, v any) error
	StoreJSON(ctx context.Context, key string, ttl time.Duration, v any) error
}

type CompressQueue interface {
	EnqueueCompress(ctx context.Context, job queue.CompressJob) error
}

type Transformer interface {
	Transform(ctx context.Context, f entities.File, opts compress.Options) (*compress.Asset, error)
}

// Deps groups the collaborators of the use case. Batches, Dedupe and Queue
// may be nil; the matching feature is then disabled.
type Deps struct {
	Storage     Storage
	Objects     ObjectStore
	Batches     BatchStore
	Dedupe      DedupeCache
	Queue       CompressQueue
	Transformer Transformer
}

type useCase struct {
	Deps
	cfg config.PipelineConfig
	log *slog.Logger
}

func New(deps Deps, cfg config.PipelineConfig) *useCase {
	if deps.Transformer == nil {
		deps.Transformer = compress.NewTransformer(nil)
	}
	return &useCase{
		Deps: deps,
		cfg:  cfg,
		log:  slog.Default().With("component", "upload"),
	}
}

var allowedPrefixes = []string{"image/", "video/", "audio/"}

var allowedTypes = map[string]struct{}{
	"application/pdf": {},
	"text/plain":      {},
	"text/markdown":   {},
}

// Allowed reports whether files of the given media type are accepted as
// attachments.
func Allowed(mimeType string) bool {
	mt, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	mt = strings.TrimSpace(mt)
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(mt, p) {
			return true
		}
	}
	_, ok := allowedTypes[mt]
	return ok
}

func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func OriginalKey(userID int64, id, ext string) string {
	return fmt.Sprintf("users/%d/uploads/%s%s", userID, id, ext)
}

func CompressedKey(userID int64, id, ext string) string {
	return fmt.Sprintf("users/%d/compressed/%s%s", userID, id, ext)
}

func dedupeKey(userID int64, hash string) string {
	return fmt.Sprintf("%d:%s", userID, hash)
}

// UploadBatch stores every file of the batch with at most concurrency files
// in flight. A failing file never aborts the others; its outcome is reported
// in the returned batch at the file's original index. concurrency <= 0 uses
// the configured default.
func (c *useCase) UploadBatch(ctx context.Context, userID int64, files []entities.File, concurrency int) (entities.Batch, error) {
	if userID <= 0 {
		return entities.Batch{}, fmt.Errorf("invalid user id %d", userID)
	}
	if concurrency <= 0 {
		concurrency = c.cfg.Concurrency
	}

	started := time.Now()
	batch := entities.Batch{
		ID:        uuid.NewString(),
		UserID:    userID,
		Total:     len(files),
		Items:     make([]entities.BatchItem, len(files)),
		StartedAt: started.UTC(),
	}
	log := c.log.With("batch", batch.ID, "user", userID)

	results := runner.Run(ctx, files, func(ctx context.Context, f entities.File, i int) error {
		item := c.uploadOne(ctx, log, userID, f)
		item.Index = i
		// each index is owned by exactly one lane
		batch.Items[i] = item
		if item.Status == entities.ItemRejected || item.Status == entities.ItemFailed {
			return errors.New(item.Error)
		}
		return nil
	}, runner.WithConcurrency(concurrency), runner.WithLaneHook(func(n int) {
		log.Info("batch started", "files", len(files), "lanes", n)
	}))

	for _, r := range results {
		it := &batch.Items[r.Index]
		if it.Status == "" {
			// never reached the worker, or the worker panicked
			it.Index = r.Index
			it.Name = files[r.Index].Name
			it.Status = entities.ItemFailed
			if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
				it.Status = entities.ItemCanceled
			}
			if r.Err != nil {
				it.Error = r.Err.Error()
			}
		}
		switch it.Status {
		case entities.ItemUploaded, entities.ItemDuplicate:
			batch.Succeeded++
		default:
			batch.Failed++
		}
	}
	batch.Duration = time.Since(started).Round(time.Millisecond).String()

	log.Info("batch finished", "succeeded", batch.Succeeded, "failed", batch.Failed, "duration", batch.Duration)

	if c.Batches != nil && len(files) > 0 {
		// saved even when the request was canceled
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.Batches.SaveBatch(saveCtx, batch, c.cfg.BatchTTL*time.Second); err != nil {
			log.Warn("save batch summary", "err", err)
		}
		cancel()
	}

	return batch, nil
}

func (c *useCase) uploadOne(ctx context.Context, log *slog.Logger, userID int64, f entities.File) entities.BatchItem {
	item := entities.BatchItem{Name: f.Name}
	fail := func(status entities.ItemStatus, err error) entities.BatchItem {
		item.Status = status
		item.Error = err.Error()
		log.Warn("file not stored", "file", f.Name, "status", status, "err", err)
		return item
	}

	if !Allowed(f.MimeType) {
		return fail(entities.ItemRejected, fmt.Errorf("%w: %s", ErrUnsupported, f.MimeType))
	}
	if len(f.Data) == 0 {
		return fail(entities.ItemRejected, errors.New("empty file"))
	}

	hash := ContentHash(f.Data)
	if c.Dedupe != nil {
		var prev entities.Attachment
		if err := c.Dedupe.GetJSON(ctx, dedupeKey(userID, hash), &prev); err == nil {
			item.Status = entities.ItemDuplicate
			item.Attachment = &prev
			return item
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Warn("dedupe lookup", "file", f.Name, "err", err)
		}
	}

	id := uuid.NewString()
	att := entities.Attachment{
		UserID:       userID,
		Key:          OriginalKey(userID, id, f.Ext),
		MimeType:     f.MimeType,
		Size:         int64(len(f.Data)),
		Hash:         hash,
		OriginalName: f.Name,
	}
	att.URL = c.Objects.URL(att.Key)

	if err := c.Objects.Upload(ctx, att.Key, f.MimeType, f.Data); err != nil {
		return fail(entities.ItemFailed, fmt.Errorf("upload original: %w", err))
	}
	uploaded := []string{att.Key}

	deferred := false
	if compress.Eligible(f.MimeType) {
		switch c.cfg.Mode {
		case config.CompressInline:
			key, err := c.compressInline(ctx, userID, id, f, &att)
			if key != "" {
				uploaded = append(uploaded, key)
			}
			if err != nil {
				// the original is kept; the client falls back to it
				item.CompressError = err.Error()
				log.Warn("compress failed, keeping original only", "file", f.Name, "err", err)
			}
		case config.CompressDeferred:
			if c.Queue == nil {
				item.CompressError = ErrNoQueue.Error()
				log.Warn("compress skipped", "file", f.Name, "err", ErrNoQueue)
				break
			}
			deferred = true
		}
	}

	stored, err := c.Storage.InsertAttachment(ctx, att)
	if err != nil {
		c.cleanup(ctx, log, uploaded)
		return fail(entities.ItemFailed, err)
	}

	if deferred {
		job := queue.CompressJob{
			ObjectKey:   stored.Key,
			MimeType:    stored.MimeType,
			CompressKey: CompressedKey(userID, id, compress.OutputExt),
		}
		if err := c.Queue.EnqueueCompress(ctx, job); err != nil {
			item.CompressError = fmt.Sprintf("enqueue compress job: %v", err)
			log.Warn("enqueue compress job", "file", f.Name, "err", err)
		}
	}

	// a deferred job fills compress_url later, so the row is not final yet
	if c.Dedupe != nil && !deferred {
		if err := c.Dedupe.StoreJSON(ctx, dedupeKey(userID, hash), c.cfg.DedupeTTL*time.Second, stored); err != nil {
			log.Warn("dedupe store", "file", f.Name, "err", err)
		}
	}

	item.Status = entities.ItemUploaded
	item.Attachment = &stored
	return item
}

// compressInline produces and uploads the compressed variant. It returns the
// key of the uploaded object, if any.
func (c *useCase) compressInline(ctx context.Context, userID int64, id string, f entities.File, att *entities.Attachment) (string, error) {
	asset, err := c.Transformer.Transform(ctx, f, compress.Options{MaxEdge: c.cfg.MaxEdge, Quality: c.cfg.Quality})
	if err != nil {
		return "", err
	}
	if asset == nil {
		return "", nil
	}

	key := CompressedKey(userID, id, asset.Ext)
	if err := c.Objects.Upload(ctx, key, asset.MimeType, asset.Data); err != nil {
		return "", fmt.Errorf("upload compressed: %w", err)
	}

	url := c.Objects.URL(key)
	att.CompressKey = &key
	att.CompressURL = &url
	att.Width = asset.Width
	att.Height = asset.Height
	return key, nil
}

func (c *useCase) cleanup(ctx context.Context, log *slog.Logger, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := c.Objects.Delete(ctx, k); err != nil {
			log.Warn("remove orphaned object", "key", k, "err", err)
		}
	}
}

func (c *useCase) Batch(ctx context.Context, id string) (entities.Batch, error) {
	if c.Batches == nil {
		return entities.Batch{}, errors.New("batch tracking is disabled")
	}
	return c.Batches.GetBatch(ctx, id)
}
