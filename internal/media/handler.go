package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"newsdesk/internal/audit"
	"newsdesk/internal/auth"
	"newsdesk/internal/observability"
)

const (
	maxUploadSizeBytes = 10 << 20
	maxFilenameLength  = 200
)

var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"application/pdf": true,
}

type Uploader interface {
	Upload(ctx context.Context, asset Asset) (Stored, error)
}

type Store interface {
	Create(ctx context.Context, m Media) (Media, error)
	ListByUploader(ctx context.Context, accountID string) ([]Media, error)
}

type Handler struct {
	uploader Uploader
	store    Store
	recorder audit.Recorder
	logger   *observability.Logger
}

func NewHandler(uploader Uploader, store Store, recorder audit.Recorder, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{uploader: uploader, store: store, recorder: recorder, logger: logger}
}

type uploadResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
	Media   Media  `json:"media"`
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "media uploader is not configured")
		return
	}
	accountID, _ := auth.AccountIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}
	if len(data) > maxUploadSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return
	}

	// The declared type is ignored; only sniffed content counts.
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0]))
	if !allowedTypes[contentType] {
		writeError(w, http.StatusBadRequest, "invalid file type")
		return
	}

	var associatedPost *string
	if postID := strings.TrimSpace(r.FormValue("postId")); postID != "" {
		if _, err := uuid.Parse(postID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid post id")
			return
		}
		associatedPost = &postID
	}

	filename := cleanFilename(header.Filename)
	stored, err := h.uploader.Upload(r.Context(), Asset{Filename: filename, ContentType: contentType, Data: data})
	if err != nil {
		h.logger.Error("media_upload_failed", map[string]any{"filename": filename, "error": err.Error()})
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload file")
		return
	}

	m, err := h.store.Create(r.Context(), Media{
		Filename:       filename,
		URL:            stored.URL,
		Mimetype:       contentType,
		Size:           int64(len(data)),
		UploadedBy:     accountID,
		AssociatedPost: associatedPost,
	})
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	if h.recorder != nil {
		err := h.recorder.Record(r.Context(), audit.Event{
			AccountID: accountID,
			Action:    audit.ActionUploadMedia,
			IP:        observability.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			h.logger.Error("audit_record_failed", map[string]any{"action": audit.ActionUploadMedia, "error": err.Error()})
		}
	}

	writeJSON(w, http.StatusOK, uploadResponse{Message: "upload successful", URL: m.URL, Media: m})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	items, err := h.store.ListByUploader(r.Context(), accountID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > maxFilenameLength {
		name = name[len(name)-maxFilenameLength:]
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
