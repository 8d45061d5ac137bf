package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/compress"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/entities"
	"github.com/trunov/rote-media/internal/redisholder"
)

type memStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memStorage) Download(_ context.Context, key string) ([]byte, string, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return b, m.types[key], nil
}

func (m *memStorage) Upload(_ context.Context, key, contentType string, payload []byte) error {
	m.objects[key] = payload
	m.types[key] = contentType
	return nil
}

func (m *memStorage) URL(key string) string { return "https://cdn/" + key }

type memRepo struct {
	compressed map[string]string
}

func (r *memRepo) SetCompressed(_ context.Context, key, compressKey, url string) error {
	r.compressed[key] = url
	return nil
}

type stubTransformer struct {
	asset  *compress.Asset
	err    error
	got    entities.File
	onCall func(ctx context.Context) error
}

func (s *stubTransformer) Transform(ctx context.Context, f entities.File, _ compress.Options) (*compress.Asset, error) {
	s.got = f
	if s.onCall != nil {
		if err := s.onCall(ctx); err != nil {
			return nil, err
		}
	}
	return s.asset, s.err
}

var testWorkerConfig = config.CompressWorkerConfig{
	Stream:      "rote:compress",
	Group:       "compressors",
	Consumer:    "c1",
	Workers:     1,
	MaxAttempts: 3,
	BackoffBase: 1,
}

func newTestWorker(st *memStorage, repo *memRepo, tr Transformer) *Worker {
	return newStreamWorker(nil, st, repo, tr)
}

func newStreamWorker(src redisholder.Source, st *memStorage, repo *memRepo, tr Transformer) *Worker {
	w := NewWorker(src, testWorkerConfig, config.PipelineConfig{}, st, repo)
	w.conv = tr
	return w
}

func newStream(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

// deliver adds values to the stream and reads them back through the group,
// leaving the message pending for the test consumer.
func deliver(t *testing.T, w *Worker, values map[string]any) redis.XMessage {
	t.Helper()
	ctx := context.Background()
	if err := w.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	rc := w.src.Get()
	if err := rc.XAdd(ctx, &redis.XAddArgs{Stream: testWorkerConfig.Stream, Values: values}).Err(); err != nil {
		t.Fatalf("XAdd: %v", err)
	}
	streams, err := rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    testWorkerConfig.Group,
		Consumer: testWorkerConfig.Consumer,
		Streams:  []string{testWorkerConfig.Stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil || len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("XReadGroup: %v %v", streams, err)
	}
	return streams[0].Messages[0]
}

func pendingCount(t *testing.T, rc redis.UniversalClient) int64 {
	t.Helper()
	p, err := rc.XPending(context.Background(), testWorkerConfig.Stream, testWorkerConfig.Group).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	return p.Count
}

func streamLen(t *testing.T, rc redis.UniversalClient) int64 {
	t.Helper()
	n, err := rc.XLen(context.Background(), testWorkerConfig.Stream).Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	return n
}

func jobValues(t *testing.T, job CompressJob, attempt int) map[string]any {
	t.Helper()
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]any{"payload": string(raw), "attempt": attempt}
}

func TestProcess_UploadsAndRecords(t *testing.T) {
	st := &memStorage{objects: map[string][]byte{"users/1/uploads/a.png": []byte("png")}, types: map[string]string{"users/1/uploads/a.png": "image/png"}}
	repo := &memRepo{compressed: map[string]string{}}
	tr := &stubTransformer{asset: &compress.Asset{Data: []byte("webp"), MimeType: "image/webp", Ext: ".webp"}}

	job := CompressJob{ObjectKey: "users/1/uploads/a.png", CompressKey: "users/1/compressed/a.webp"}
	if err := newTestWorker(st, repo, tr).process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if tr.got.MimeType != "image/png" {
		t.Fatalf("mime type should fall back to the stored content type, got %q", tr.got.MimeType)
	}
	if string(st.objects[job.CompressKey]) != "webp" || st.types[job.CompressKey] != "image/webp" {
		t.Fatalf("compressed object not uploaded")
	}
	if repo.compressed[job.ObjectKey] != "https://cdn/users/1/compressed/a.webp" {
		t.Fatalf("compress url not recorded: %v", repo.compressed)
	}
}

func TestProcess_SkipDoesNothing(t *testing.T) {
	st := &memStorage{objects: map[string][]byte{"k": []byte("gif")}, types: map[string]string{}}
	repo := &memRepo{compressed: map[string]string{}}

	job := CompressJob{ObjectKey: "k", MimeType: "image/gif", CompressKey: "c"}
	if err := newTestWorker(st, repo, &stubTransformer{}).process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := st.objects["c"]; ok || len(repo.compressed) != 0 {
		t.Fatalf("skipped job must not upload or record anything")
	}
}

func TestProcess_Errors(t *testing.T) {
	st := &memStorage{objects: map[string][]byte{"k": []byte("x")}, types: map[string]string{}}
	repo := &memRepo{compressed: map[string]string{}}

	if err := newTestWorker(st, repo, &stubTransformer{}).process(context.Background(), CompressJob{ObjectKey: "missing"}); err == nil {
		t.Fatalf("expected download error")
	}

	decodeErr := &compress.TransformError{Name: "k", Stage: compress.StageDecode, Err: errors.New("bad")}
	err := newTestWorker(st, repo, &stubTransformer{err: decodeErr}).process(context.Background(), CompressJob{ObjectKey: "k", MimeType: "image/png"})
	if !errors.Is(err, compress.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestHandle_AckAndRequeue(t *testing.T) {
	okJob := CompressJob{ObjectKey: "users/1/uploads/a.png", MimeType: "image/png", CompressKey: "users/1/compressed/a.webp"}
	missing := CompressJob{ObjectKey: "users/1/uploads/gone.png", MimeType: "image/png", CompressKey: "users/1/compressed/gone.webp"}
	webp := &compress.Asset{Data: []byte("webp"), MimeType: "image/webp", Ext: ".webp"}
	decodeErr := &compress.TransformError{Name: "a.png", Stage: compress.StageDecode, Err: errors.New("bad")}

	cases := []struct {
		name    string
		values  func(t *testing.T) map[string]any
		tr      *stubTransformer
		wantErr bool
		wantLen int64
		// the stream entry added for the retry, if any
		wantRetry int64
	}{
		{name: "success", values: func(t *testing.T) map[string]any { return jobValues(t, okJob, 0) }, tr: &stubTransformer{asset: webp}, wantLen: 1},
		{name: "transient failure is requeued", values: func(t *testing.T) map[string]any { return jobValues(t, missing, 0) }, tr: &stubTransformer{asset: webp}, wantErr: true, wantLen: 2, wantRetry: 1},
		{name: "second retry keeps counting", values: func(t *testing.T) map[string]any { return jobValues(t, missing, 1) }, tr: &stubTransformer{asset: webp}, wantErr: true, wantLen: 2, wantRetry: 2},
		{name: "last attempt gives up", values: func(t *testing.T) map[string]any { return jobValues(t, missing, 2) }, tr: &stubTransformer{asset: webp}, wantErr: true, wantLen: 1},
		{name: "decode error is not retried", values: func(t *testing.T) map[string]any { return jobValues(t, okJob, 0) }, tr: &stubTransformer{err: decodeErr}, wantErr: true, wantLen: 1},
		{name: "missing payload", values: func(*testing.T) map[string]any { return map[string]any{"attempt": 0} }, tr: &stubTransformer{}, wantErr: true, wantLen: 1},
		{name: "malformed payload", values: func(*testing.T) map[string]any { return map[string]any{"payload": "{", "attempt": 0} }, tr: &stubTransformer{}, wantErr: true, wantLen: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := newStream(t)
			st := &memStorage{objects: map[string][]byte{okJob.ObjectKey: []byte("png")}, types: map[string]string{}}
			repo := &memRepo{compressed: map[string]string{}}
			w := newStreamWorker(redisholder.NewHolder(rc), st, repo, tc.tr)

			m := deliver(t, w, tc.values(t))
			before := time.Now()
			err := w.handle(context.Background(), m)
			if (err != nil) != tc.wantErr {
				t.Fatalf("handle err=%v wantErr=%v", err, tc.wantErr)
			}

			if got := pendingCount(t, rc); got != 0 {
				t.Fatalf("settled message must be acknowledged, pending=%d", got)
			}
			if got := streamLen(t, rc); got != tc.wantLen {
				t.Fatalf("stream len=%d want %d", got, tc.wantLen)
			}
			if tc.wantRetry == 0 {
				return
			}

			last, err := rc.XRevRangeN(context.Background(), testWorkerConfig.Stream, "+", "-", 1).Result()
			if err != nil || len(last) != 1 {
				t.Fatalf("XRevRangeN: %v %v", last, err)
			}
			if got := toInt64(last[0].Values["attempt"]); got != tc.wantRetry {
				t.Fatalf("retry attempt=%d want %d", got, tc.wantRetry)
			}
			notBefore := time.UnixMilli(toInt64(last[0].Values["not_before"]))
			if !notBefore.After(before) {
				t.Fatalf("retry must carry a future not_before, got %v", notBefore)
			}
		})
	}
}

func TestHandle_ShutdownLeavesJobPending(t *testing.T) {
	rc := newStream(t)
	job := CompressJob{ObjectKey: "users/1/uploads/a.png", MimeType: "image/png", CompressKey: "users/1/compressed/a.webp"}
	st := &memStorage{objects: map[string][]byte{job.ObjectKey: []byte("png")}, types: map[string]string{}}
	repo := &memRepo{compressed: map[string]string{}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &stubTransformer{onCall: func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}}
	w := newStreamWorker(redisholder.NewHolder(rc), st, repo, tr)

	m := deliver(t, w, jobValues(t, job, 0))
	if err := w.handle(ctx, m); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := pendingCount(t, rc); got != 1 {
		t.Fatalf("interrupted job must stay pending, pending=%d", got)
	}
	if got := streamLen(t, rc); got != 1 {
		t.Fatalf("interrupted job must not be re-added, len=%d", got)
	}

	// a restarted worker finishes it
	w = newStreamWorker(redisholder.NewHolder(rc), st, repo, &stubTransformer{asset: &compress.Asset{Data: []byte("webp"), MimeType: "image/webp"}})
	w.recoverPending(context.Background())

	if got := pendingCount(t, rc); got != 0 {
		t.Fatalf("recovered job must be acknowledged, pending=%d", got)
	}
	if repo.compressed[job.ObjectKey] == "" {
		t.Fatalf("recovered job was not processed")
	}
}

func TestHandle_WaitsForNotBefore(t *testing.T) {
	rc := newStream(t)
	job := CompressJob{ObjectKey: "k", MimeType: "image/png", CompressKey: "c"}
	st := &memStorage{objects: map[string][]byte{"k": []byte("png")}, types: map[string]string{}}
	repo := &memRepo{compressed: map[string]string{}}
	tr := &stubTransformer{asset: &compress.Asset{Data: []byte("webp"), MimeType: "image/webp"}}
	w := newStreamWorker(redisholder.NewHolder(rc), st, repo, tr)

	values := jobValues(t, job, 1)
	values["not_before"] = time.Now().Add(time.Hour).UnixMilli()
	m := deliver(t, w, values)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.handle(ctx, m); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the delay to outlast ctx, got %v", err)
	}
	if tr.got.Name != "" {
		t.Fatalf("job ran before not_before")
	}
	if got := pendingCount(t, rc); got != 1 {
		t.Fatalf("delayed job must stay pending, pending=%d", got)
	}

	values = jobValues(t, job, 1)
	values["not_before"] = strconv.FormatInt(time.Now().Add(-time.Second).UnixMilli(), 10)
	if err := w.handle(context.Background(), deliver(t, w, values)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if repo.compressed["k"] == "" {
		t.Fatalf("due job was not processed")
	}
}

func TestEnqueueCompress_FreshJob(t *testing.T) {
	rc := newStream(t)
	p := NewProducer(redisholder.NewHolder(rc), testWorkerConfig.Stream, 0)
	if err := p.EnqueueCompress(context.Background(), CompressJob{ObjectKey: "k"}); err != nil {
		t.Fatalf("EnqueueCompress: %v", err)
	}
	msgs, err := rc.XRange(context.Background(), testWorkerConfig.Stream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v %v", msgs, err)
	}
	if _, ok := msgs[0].Values["not_before"]; ok {
		t.Fatalf("a fresh job must not be delayed")
	}
	if toInt64(msgs[0].Values["attempt"]) != 0 {
		t.Fatalf("fresh job attempt=%v", msgs[0].Values["attempt"])
	}
}

func TestToInt64(t *testing.T) {
	cases := map[any]int64{int(3): 3, int64(4): 4, "5": 5, "1767225600000": 1767225600000, "x": 0, nil: 0}
	for in, want := range cases {
		if got := toInt64(in); got != want {
			t.Fatalf("toInt64(%v)=%d want %d", in, got, want)
		}
	}
}
