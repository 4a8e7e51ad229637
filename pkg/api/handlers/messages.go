package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"campuschat/pkg/auth"
	"campuschat/pkg/models"
	"campuschat/pkg/utils"
)

// RegisterMessages registers message-related routes on the provided router.
func (a *API) RegisterMessages(r *mux.Router) {
	r.HandleFunc("/threads/{threadID}/messages", a.createMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/seen", a.markSeen).Methods(http.MethodPost)
}

type sendRequest struct {
	Content string `json:"content"`
}

// createMessage handles POST /v1/threads/{threadID}/messages. A message
// that is empty after trimming is skipped with 204: not an error, and no
// fan-out event is produced.
func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := a.Svc.Append(r.Context(), threadID, auth.UserID(r.Context()), req.Content)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if msg.ID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

// listMessages handles GET /v1/threads/{threadID}/messages?since=&limit=.
// Results are in append order; `next` resumes a subsequent call.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	cursor := r.URL.Query().Get("since")
	limit := a.PageSize
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 && (a.PageSize <= 0 || lim < a.PageSize) {
			limit = lim
		}
	}
	msgs, next, err := a.Svc.ListSince(r.Context(), threadID, auth.UserID(r.Context()), cursor, limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string           `json:"thread"`
		Messages []models.Message `json:"messages"`
		Next     string           `json:"next"`
	}{Thread: threadID, Messages: msgs, Next: next})
}

// markSeen handles POST /v1/messages/{id}/seen. Idempotent: marking an
// already-seen, missing, or self-sent message reports seen=false without an
// error.
func (a *API) markSeen(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, changed, err := a.Svc.MarkSeen(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Seen    bool            `json:"seen"`
		Message *models.Message `json:"message,omitempty"`
	}{Seen: changed, Message: nonZero(&msg)})
}

func nonZero(m *models.Message) *models.Message {
	if m == nil || m.ID == "" {
		return nil
	}
	return m
}
