package handlers

import (
	"errors"
	"net/http"

	"campuschat/pkg/chat"
	"campuschat/pkg/directory"
	"campuschat/pkg/models"
	"campuschat/pkg/utils"
)

// API carries the wired core services into the HTTP handlers.
type API struct {
	Svc *chat.Service
	Dir *directory.Directory
	// PageSize caps messages per history fetch; Buffer sizes fan-out
	// subscriptions opened by the WebSocket bridge.
	PageSize int
	Buffer   int
}

// writeDomainErr maps the domain error taxonomy onto HTTP statuses.
// Storage failures fall through to 500 so clients can retry visibly.
func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotAuthenticated):
		utils.JSONError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, models.ErrNotParticipant):
		utils.JSONError(w, http.StatusForbidden, "not a thread participant")
	case errors.Is(err, models.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrValidation):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
