package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"campuschat/pkg/auth"
	"campuschat/pkg/utils"
)

// RegisterTyping registers the typing route on the provided router.
func (a *API) RegisterTyping(r *mux.Router) {
	r.HandleFunc("/threads/{threadID}/typing", a.setTyping).Methods(http.MethodPut)
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// setTyping handles PUT /v1/threads/{threadID}/typing. The state is
// ephemeral: a true write expires on its own after the inactivity window
// unless refreshed.
func (a *API) setTyping(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.Svc.SetTyping(r.Context(), threadID, auth.UserID(r.Context()), req.Typing); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
