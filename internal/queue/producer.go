package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/redisholder"
)

type Producer struct {
	src    redisholder.Source
	stream string
	maxLen int64
}

func NewProducer(src redisholder.Source, stream string, maxLen int64) *Producer {
	return &Producer{src: src, stream: stream, maxLen: maxLen}
}

// EnqueueCompress appends the job to the stream as JSON so a worker can
// compress the stored original later.
func (p *Producer) EnqueueCompress(ctx context.Context, job CompressJob) error {
	return p.add(ctx, p.src.Get(), job, 0, time.Time{})
}

// add writes job through c, which may be a transaction pipeline. A non-zero
// notBefore is stored with the message so the delay survives restarts.
func (p *Producer) add(ctx context.Context, c redis.Cmdable, job CompressJob, attempt int64, notBefore time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	values := map[string]any{
		"payload": string(raw),
		"attempt": attempt,
	}
	if !notBefore.IsZero() {
		values["not_before"] = notBefore.UnixMilli()
	}
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
