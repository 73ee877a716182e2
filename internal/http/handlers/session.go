package handlers

import (
	"encoding/json"
	"net/http"
)

type sessionRequest struct {
	Token string `json:"token"`
}

func (a *App) PutSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Session.Set(req.Token); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "token is required")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	a.Session.Clear()
	w.WriteHeader(http.StatusNoContent)
}
