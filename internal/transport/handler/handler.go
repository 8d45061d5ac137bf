package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/entities"
	"github.com/trunov/rote-media/internal/redismanager"
	use_case "github.com/trunov/rote-media/internal/use-case"
)

type UseCase interface {
	UploadBatch(ctx context.Context, userID int64, files []entities.File, concurrency int) (entities.Batch, error)
	Batch(ctx context.Context, id string) (entities.Batch, error)
}

// Check is a named dependency ping run by /healthz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	useCase   UseCase
	cfg       *config.Config
	validator *validator.Validate
	checks    []Check
	log       *slog.Logger
}

func New(useCase UseCase, cfg *config.Config, checks ...Check) *Handler {
	return &Handler{
		useCase:   useCase,
		cfg:       cfg,
		validator: validator.New(),
		checks:    checks,
		log:       slog.Default().With("component", "http"),
	}
}

func (h *Handler) UploadAttachments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	if err := r.ParseMultipartForm(h.cfg.Upload.MaxMultipartMemoryMB << 20); err != nil {
		writeMultipartError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	params := UploadParams{
		UserID:      parseInt64Default(r.Form.Get("userID"), 0),
		Concurrency: int(parseInt64Default(r.Form.Get("concurrency"), 0)),
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSONError(w, `missing files: form field key should be "files"`, http.StatusBadRequest)
		return
	}
	if len(headers) > h.cfg.Upload.MaxFiles {
		writeJSONError(w, fmt.Sprintf("too many files: %d, at most %d per request", len(headers), h.cfg.Upload.MaxFiles), http.StatusBadRequest)
		return
	}

	files := make([]entities.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			writeJSONError(w, fmt.Sprintf("an error occurred while reading %q: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		files = append(files, f)
	}

	batch, err := h.useCase.UploadBatch(r.Context(), params.UserID, files, params.Concurrency)
	if err != nil {
		h.log.Error("upload batch", "err", err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if batch.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, batch)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.useCase.Batch(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, redismanager.ErrNotFound) {
		writeJSONError(w, "batch not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			out[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[c.Name] = "ok"
	}
	writeJSON(w, status, out)
}

// readFile loads a multipart file and sniffs its media type from the content;
// the client-declared Content-Type is ignored.
func readFile(fh *multipart.FileHeader) (entities.File, error) {
	src, err := fh.Open()
	if err != nil {
		return entities.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return entities.File{}, err
	}
	return use_case.NewFile(fh.Filename, data), nil
}
