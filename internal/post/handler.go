package post

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"newsdesk/internal/audit"
	"newsdesk/internal/auth"
	"newsdesk/internal/observability"
	"newsdesk/internal/throttle"
)

var allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
var allowedHost = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

const (
	maxJSONBodyBytes  = 2 << 20
	defaultPageSize   = 10
	maxPageSize       = 50
	maxListItems      = 50
	sideEffectTimeout = 3 * time.Second
)

type Store interface {
	List(ctx context.Context) ([]Post, error)
	ListPublished(ctx context.Context, filter ListFilter) ([]Post, error)
	GetPublishedBySlug(ctx context.Context, slug string) (Post, error)
	IncrementViews(ctx context.Context, slug string) (Post, error)
	Create(ctx context.Context, input Input, baseSlug, createdBy string) (Post, error)
	Update(ctx context.Context, id string, input Input, baseSlug string) (Post, error)
	Delete(ctx context.Context, id string) (Post, error)
}

// DailyCounter stores the per-day counters shown on the dashboard.
type DailyCounter interface {
	IncrementDailyViews(ctx context.Context, day time.Time, slug string) error
	IncrementPostsCreated(ctx context.Context, day time.Time) error
}

type Handler struct {
	store    Store
	counter  DailyCounter
	views    throttle.Limiter
	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewHandler(store Store, counter DailyCounter, views throttle.Limiter, recorder audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{
		store:    store,
		counter:  counter,
		views:    views,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (h *Handler) ListAdmin(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	p, err := h.store.Create(r.Context(), input, Slugify(firstNonEmpty(input.Slug, input.Title)), claims.Subject)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	if h.counter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), sideEffectTimeout)
		if err := h.counter.IncrementPostsCreated(ctx, h.now()); err != nil {
			h.logger.Error("summary_posts_created_failed", map[string]any{"post_id": p.ID, "error": err.Error()})
		}
		cancel()
	}
	h.record(r, claims, audit.ActionCreatePost, p.ID)

	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	var baseSlug string
	if input.Slug != "" {
		baseSlug = Slugify(input.Slug)
	}

	p, err := h.store.Update(r.Context(), id, input, baseSlug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update post")
		sentry.CaptureException(err)
		return
	}
	h.record(r, claims, audit.ActionUpdatePost, p.ID)

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	if _, err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		sentry.CaptureException(err)
		return
	}
	h.record(r, claims, audit.ActionDeletePost, id)

	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted successfully"})
}

func (h *Handler) ListPublic(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	posts, err := h.store.ListPublished(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, posts)
}

// GetBySlug returns a published post and counts the view unless the same client viewed it moments ago.
func (h *Handler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" || len(slug) > 200 {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	var (
		p   Post
		err error
	)
	if h.shouldCount(r, slug) {
		p, err = h.store.IncrementViews(r.Context(), slug)
		if err == nil {
			h.metrics.ViewCounted()
			h.countDailyView(r.Context(), p.Slug)
		}
	} else {
		p, err = h.store.GetPublishedBySlug(r.Context(), slug)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// shouldCount fails open: a throttle outage still counts the view.
func (h *Handler) shouldCount(r *http.Request, slug string) bool {
	if h.views == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(r.Context(), sideEffectTimeout)
	defer cancel()

	allowed, err := h.views.Allow(ctx, observability.ClientIP(r)+"|"+slug)
	if err != nil {
		h.logger.Warn("view_throttle_failed", map[string]any{"slug": slug, "error": err.Error()})
		return true
	}
	return allowed
}

func (h *Handler) countDailyView(ctx context.Context, slug string) {
	if h.counter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	if err := h.counter.IncrementDailyViews(ctx, h.now(), slug); err != nil {
		h.logger.Error("summary_views_failed", map[string]any{"slug": slug, "error": err.Error()})
	}
}

func (h *Handler) record(r *http.Request, claims auth.AccessClaims, action, targetID string) {
	if h.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sideEffectTimeout)
	defer cancel()

	err := h.recorder.Record(ctx, audit.Event{
		AccountID: claims.Subject,
		Action:    action,
		TargetID:  targetID,
		IP:        observability.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("audit_record_failed", map[string]any{"action": action, "target_id": targetID, "error": err.Error()})
	}
}

func parseFilter(w http.ResponseWriter, r *http.Request) (ListFilter, bool) {
	q := r.URL.Query()
	filter := ListFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Tag:      strings.TrimSpace(q.Get("tag")),
		Page:     1,
		Limit:    defaultPageSize,
	}

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return ListFilter{}, false
		}
		filter.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageSize {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return ListFilter{}, false
		}
		filter.Limit = limit
	}

	return filter, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return Input{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Slug = strings.TrimSpace(input.Slug)
	input.Category = firstNonEmpty(strings.TrimSpace(input.Category), defaultCategory)
	input.SubCategory = firstNonEmpty(strings.TrimSpace(input.SubCategory), defaultSubCategory)
	input.Source = strings.TrimSpace(input.Source)
	input.HeroImage.URL = strings.TrimSpace(input.HeroImage.URL)
	input.HeroImage.Alt = strings.TrimSpace(input.HeroImage.Alt)
	input.Status = firstNonEmpty(strings.TrimSpace(input.Status), StatusDraft)
	input.Tags = cleanList(input.Tags)
	input.Keywords = cleanList(input.Keywords)
	input.RelatedTickers = cleanList(input.RelatedTickers)
	input.ReferenceLinks = cleanList(input.ReferenceLinks)

	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return Input{}, false
	}
	if !utf8.ValidString(input.Title) || len(input.Title) > 300 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return Input{}, false
	}

	input.Content = SanitizeContent(input.Content)
	if strings.TrimSpace(input.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return Input{}, false
	}
	input.Excerpt = strings.TrimSpace(input.Excerpt)
	if input.Excerpt == "" {
		input.Excerpt = Excerpt(input.Content)
	}

	switch input.Status {
	case StatusDraft, StatusPublished:
	case StatusScheduled:
		if input.ScheduledFor == nil {
			writeError(w, http.StatusBadRequest, "scheduledFor is required for scheduled posts")
			return Input{}, false
		}
	default:
		writeError(w, http.StatusBadRequest, "status must be draft, scheduled or published")
		return Input{}, false
	}
	if input.ScheduledFor != nil {
		t := input.ScheduledFor.UTC()
		input.ScheduledFor = &t
	}

	if len(input.Tags) > maxListItems || len(input.Keywords) > maxListItems ||
		len(input.RelatedTickers) > maxListItems || len(input.ReferenceLinks) > maxListItems {
		writeError(w, http.StatusBadRequest, "too many list items")
		return Input{}, false
	}
	if input.HeroImage.URL != "" && !validLink(input.HeroImage.URL) {
		writeError(w, http.StatusBadRequest, "heroImage.url must be a valid link")
		return Input{}, false
	}
	for _, link := range input.ReferenceLinks {
		if !validLink(link) {
			writeError(w, http.StatusBadRequest, "referenceLinks must be valid links")
			return Input{}, false
		}
	}

	return input, true
}

func validLink(value string) bool {
	if len(value) > 500 || !isASCII(value) || !allowedURLChars.MatchString(value) {
		return false
	}
	parsedURL, err := url.ParseRequestURI(value)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}
	return parsedURL.User == nil && allowedHost.MatchString(parsedURL.Hostname())
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] > 126 {
			return false
		}
	}
	return true
}
