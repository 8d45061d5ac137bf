package redismanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/entities"
	"github.com/trunov/rote-media/internal/redisholder"
)

var ErrNotFound = errors.New("batch not found")

const batchPrefix = "rote:batch:"

// Manager keeps batch summaries in Redis so clients can poll them after the
// upload request returns.
type Manager struct {
	src redisholder.Source
}

func NewManager(src redisholder.Source) *Manager {
	return &Manager{
		src: src,
	}
}

func BatchKey(id string) string { return batchPrefix + id }

func (m *Manager) SaveBatch(ctx context.Context, b entities.Batch, ttl time.Duration) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := m.src.Get().Set(ctx, BatchKey(b.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

func (m *Manager) GetBatch(ctx context.Context, id string) (entities.Batch, error) {
	var b entities.Batch
	raw, err := m.src.Get().Get(ctx, BatchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, fmt.Errorf("load batch %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return b, nil
}
