package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	counts := a.Engine.Counts()
	jobs := make(map[string]int, len(counts))
	for status, n := range counts {
		jobs[string(status)] = n
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"jobs":         jobs,
		"max_parallel": a.Engine.MaxParallel(),
		"session":      a.Session != nil && a.Session.Active(),
	})
}
