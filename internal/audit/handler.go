package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const notificationLimit = 15

type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type Notification struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reader.Recent(r.Context(), notificationLimit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to fetch notifications")
		return
	}

	out := make([]Notification, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToNotification(e))
	}

	writeJSON(w, http.StatusOK, out)
}

func ToNotification(e Entry) Notification {
	n := Notification{ID: e.ID, Type: "info", Time: e.CreatedAt}

	switch e.Action {
	case ActionCreatePost:
		n.Type = "success"
		n.Message = "A new post was created."
	case ActionUpdatePost:
		n.Message = "A post was updated."
	case ActionDeletePost:
		n.Type = "alert"
		n.Message = "A post was deleted."
	case ActionLogin:
		who := e.AccountEmail
		if who == "" {
			who = "Admin"
		}
		n.Message = who + " logged in."
	default:
		n.Message = strings.ReplaceAll(e.Action, "_", " ")
	}

	if e.TargetTitle != "" {
		n.Message += " (" + e.TargetTitle + ")"
	}

	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
