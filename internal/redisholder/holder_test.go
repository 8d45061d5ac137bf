package redisholder

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/config"
)

func TestHolderSwap(t *testing.T) {
	a := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	b := redis.NewClient(&redis.Options{Addr: "127.0.0.1:2"})

	h := NewHolder(a)
	if h.Get() != a {
		t.Fatalf("Get should return the initial client")
	}
	if old := h.swap(b); old != a {
		t.Fatalf("swap should return the previous client")
	}
	if h.Get() != b {
		t.Fatalf("Get should return the swapped client")
	}
	_ = a.Close()
	_ = h.Close()
}

func TestBuild_NoNodes(t *testing.T) {
	if _, err := Build(context.Background(), &config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without nodes")
	}
}

func TestAddrs(t *testing.T) {
	cfg := &config.RedisConfig{Nodes: []config.RedisNode{{Host: "r1", Port: 6379}, {Host: "r2", Port: 6380}}}
	got := addrs(cfg)
	if len(got) != 2 || got[0] != "r1:6379" || got[1] != "r2:6380" {
		t.Fatalf("got %v", got)
	}
}
