package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"campuschat/pkg/api/handlers"
	"campuschat/pkg/auth"
)

// Handler returns the chat API router. Everything under /v1 requires a
// verified user identity; gateway concerns (API keys, CORS, rate limits)
// are applied by the caller around the whole handler.
func Handler(a *handlers.API) http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireSignedUser)
	a.RegisterThreads(v1)
	a.RegisterMessages(v1)
	a.RegisterTyping(v1)
	a.RegisterWS(v1)

	return r
}
