package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Create new config instance
func NewConfig() *Config {
	return &Config{}
}

// Load configuration file in json format and fill in defaults.
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return c.Validate()
}

// Validate applies defaults and rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Upload.MaxRequestBodyMB <= 0 {
		c.Upload.MaxRequestBodyMB = 64
	}
	if c.Upload.MaxMultipartMemoryMB <= 0 {
		c.Upload.MaxMultipartMemoryMB = 32
	}
	if c.Upload.MaxFiles <= 0 {
		c.Upload.MaxFiles = 9
	}

	p := &c.Pipeline
	if p.Concurrency <= 0 {
		p.Concurrency = 3
	}
	if p.MaxEdge <= 0 {
		p.MaxEdge = 2560
	}
	if p.Quality < 0 || p.Quality > 1 {
		return fmt.Errorf("pipeline.quality must be within 0..1, got %v", p.Quality)
	}
	switch p.Mode {
	case "":
		p.Mode = CompressInline
	case CompressInline, CompressDeferred, CompressOff:
	default:
		return fmt.Errorf("unknown pipeline.compress_mode %q", p.Mode)
	}
	if p.DedupeTTL <= 0 {
		p.DedupeTTL = 3600
	}
	if p.BatchTTL <= 0 {
		p.BatchTTL = 86400
	}

	if c.R2.BucketName == "" {
		return errors.New("r2.bucket_name is required")
	}
	if c.R2.Workers <= 0 {
		c.R2.Workers = 8
	}
	if c.R2.QueueSize <= 0 {
		c.R2.QueueSize = 1000
	}
	if c.R2.MaxRetries <= 0 {
		c.R2.MaxRetries = 3
	}

	w := &c.CompressWorker
	if w.Stream == "" {
		w.Stream = "rote:compress"
	}
	if w.Group == "" {
		w.Group = "compressors"
	}
	if w.Consumer == "" {
		host, _ := os.Hostname()
		w.Consumer = "compressor-" + host
	}
	if w.Workers <= 0 {
		w.Workers = 2
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 5
	}
	if w.MaxLen <= 0 {
		w.MaxLen = 100000
	}
	if w.BackoffBase <= 0 {
		w.BackoffBase = 2
	}
	if w.BlockTimeout <= 0 {
		w.BlockTimeout = 5
	}
	return nil
}
