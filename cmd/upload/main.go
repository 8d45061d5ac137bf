// Command upload pushes local files through the attachment pipeline, the same
// way the HTTP endpoint does, and prints the batch summary as JSON.
//
//	upload --config config.json --user 1 --concurrency 3 ./photos note.pdf
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/pflag"
	"github.com/trunov/rote-media/internal/app"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/entities"
	use_case "github.com/trunov/rote-media/internal/use-case"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.json", "path to the JSON config file")
	userID := flags.Int64P("user", "u", 0, "owner of the uploaded attachments")
	concurrency := flags.IntP("concurrency", "n", 0, "files in flight at once (0 uses the config value)")
	mode := flags.String("compress-mode", "", "override pipeline.compress_mode: inline, deferred or off")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if flags.NArg() == 0 || *userID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: upload --user ID [flags] <file|dir>...")
		flags.PrintDefaults()
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg := config.NewConfig()
	if err := cfg.Read(*configPath); err != nil {
		slog.Error("read config", "err", err)
		return 1
	}
	if *mode != "" {
		cfg.Pipeline.Mode = config.CompressMode(*mode)
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid flags", "err", err)
			return 2
		}
	}

	if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.SentryDSN, Environment: cfg.Sentry.Environment}); err != nil {
		slog.Error("sentry.Init", "err", err)
		return 1
	}
	defer sentry.Flush(2 * time.Second)

	files, err := collect(flags.Args())
	if err != nil {
		slog.Error("collect files", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		sentry.CaptureException(err)
		slog.Error("init app", "err", err)
		return 1
	}
	defer a.Close()

	batch, err := a.UseCase.UploadBatch(ctx, *userID, files, *concurrency)
	if err != nil {
		slog.Error("upload", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(batch)

	if batch.Failed > 0 {
		return 1
	}
	return 0
}

// collect reads the named files and every regular file below the named
// directories, skipping dot files.
func collect(paths []string) ([]entities.File, error) {
	var files []entities.File
	add := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, use_case.NewFile(filepath.Base(path), data))
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := add(root); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return add(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
