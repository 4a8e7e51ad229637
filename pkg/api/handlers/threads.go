package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"campuschat/pkg/auth"
	"campuschat/pkg/models"
	"campuschat/pkg/utils"
)

// RegisterThreads registers thread-related routes on the provided router.
func (a *API) RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads/resolve", a.resolveThread).Methods(http.MethodPost)
	r.HandleFunc("/threads", a.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", a.getThread).Methods(http.MethodGet)
}

type resolveRequest struct {
	Kind        models.RefKind `json:"kind"`
	ReferenceID string         `json:"reference_id"`
	Counterpart string         `json:"counterpart"`
}

// resolveThread handles POST /v1/threads/resolve: the idempotent
// get-or-create. The verified caller is the initiator; either side of the
// pair resolves to the same thread.
func (a *API) resolveThread(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ref := models.Reference{Kind: req.Kind, ID: req.ReferenceID}
	th, err := a.Dir.GetOrCreate(r.Context(), ref, auth.UserID(r.Context()), req.Counterpart)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, th)
}

// getThread handles GET /v1/threads/{id}, returning metadata plus the
// participant set. Only members may look a thread up.
func (a *API) getThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	th, parts, err := a.Svc.Thread(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread       models.Thread        `json:"thread"`
		Participants []models.Participant `json:"participants"`
	}{Thread: th, Participants: parts})
}

// listThreads handles GET /v1/threads: the caller's conversations.
func (a *API) listThreads(w http.ResponseWriter, r *http.Request) {
	ths, err := a.Svc.ThreadsFor(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if ths == nil {
		ths = []models.Thread{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Threads []models.Thread `json:"threads"`
	}{Threads: ths})
}
