package redisholder

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Source yields the client to use for the next command. Components keep the
// Source rather than a client so they follow reconnects.
type Source interface {
	Get() redis.UniversalClient
}

// Holder hands out the current client; the health loop may replace it after
// a reconnect.
type Holder struct {
	v atomic.Value // redis.UniversalClient
}

func NewHolder(initial redis.UniversalClient) *Holder {
	h := &Holder{}
	h.v.Store(&initial)
	return h
}

func (h *Holder) Get() redis.UniversalClient {
	c, _ := h.v.Load().(*redis.UniversalClient)
	if c == nil {
		return nil
	}
	return *c
}

func (h *Holder) swap(newc redis.UniversalClient) redis.UniversalClient {
	old, _ := h.v.Swap(&newc).(*redis.UniversalClient)
	if old == nil {
		return nil
	}
	return *old
}

func (h *Holder) Ping(ctx context.Context) error {
	return h.Get().Ping(ctx).Err()
}

func (h *Holder) Close() error {
	if c := h.Get(); c != nil {
		return c.Close()
	}
	return nil
}
