package upload

import (
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/httpx"
)

// MaxImages caps the photos attached to one report or completion.
const MaxImages = 10

var allowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

type Handler struct {
	store    Uploader
	maxBytes int64
	log      *logrus.Entry
}

func NewHandler(store Uploader, maxBytes int64, log *logrus.Entry) *Handler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{store: store, maxBytes: maxBytes, log: log}
}

// Routes mounts the public upload endpoint. limit wraps it with the caller's
// rate limiter and may be nil.
func (h *Handler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit != nil {
		r.With(limit).Post("/api/uploads", h.Upload)
		return
	}
	r.Post("/api/uploads", h.Upload)
}

// Upload accepts one multipart "file" field and a "folder" form value.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		httpx.WriteErr(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		httpx.WriteErr(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "could not read file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		httpx.WriteErr(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedTypes...) {
		httpx.WriteErr(w, http.StatusUnsupportedMediaType, "only jpeg, png and webp images are accepted")
		return
	}

	folder := r.FormValue("folder")
	if folder == "" {
		folder = FolderReports
	}
	res, err := h.store.Upload(r.Context(), folder, uuid.NewString()+mt.Extension(), data)
	switch {
	case errors.Is(err, ErrInvalidFile):
		httpx.WriteErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.WithError(err).WithField("folder", folder).Error("upload failed")
		httpx.WriteErr(w, http.StatusBadGateway, "upload backend unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}
