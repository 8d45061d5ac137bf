package config

import (
	"fmt"
	"time"
)

// Durations are written in the config file as whole seconds.
type Config struct {
	Server         ServerConfig         `json:"server"`
	Upload         UploadConfig         `json:"upload"`
	Pipeline       PipelineConfig       `json:"pipeline"`
	Database       Database             `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	R2             R2Config             `json:"r2"`
	CompressWorker CompressWorkerConfig `json:"compress_worker"`
	Sentry         SentryConfig         `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type UploadConfig struct {
	MaxRequestBodyMB     int64 `json:"max_request_body"`
	MaxMultipartMemoryMB int64 `json:"max_multipart_memory"`
	MaxFiles             int   `json:"max_files"`
}

type CompressMode string

const (
	CompressInline   CompressMode = "inline"
	CompressDeferred CompressMode = "deferred"
	CompressOff      CompressMode = "off"
)

type PipelineConfig struct {
	Concurrency int           `json:"concurrency"`   // lanes per batch
	MaxEdge     int           `json:"max_edge"`      // long edge cap for compressed images, px
	Quality     float64       `json:"quality"`       // 0..1, 0 means the default policy
	Mode        CompressMode  `json:"compress_mode"` // inline | deferred | off
	DedupeTTL   time.Duration `json:"dedupe_ttl"`
	BatchTTL    time.Duration `json:"batch_ttl"`
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type R2Config struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Endpoint    string `json:"endpoint"`   // overrides the account endpoint, e.g. for MinIO
	PublicURL   string `json:"public_url"` // base for attachment URLs
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	MaxRetries  int    `json:"max_retries"`
}

type CompressWorkerConfig struct {
	Stream       string        `json:"stream"`        // redis stream name
	Group        string        `json:"group"`         // consumer group name
	Workers      int           `json:"workers"`       // number of concurrent goroutines
	MaxAttempts  int           `json:"max_attempts"`  // max retries before giving up
	MaxLen       int64         `json:"max_len"`       // stream max length before trim
	BackoffBase  time.Duration `json:"backoff_base"`  // base retry delay
	BlockTimeout time.Duration `json:"block_timeout"` // XREADGROUP block timeout
	Consumer     string        `json:"consumer"`
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
