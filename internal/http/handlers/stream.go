package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamHeartbeat = 15 * time.Second

// StreamJobs pushes the full job list as a server-sent event whenever it
// changes.
func (a *App) StreamJobs(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.Logger.Warn().Err(err).Msg("stream: flush unsupported")
		return
	}

	updates, unsubscribe := a.Engine.Subscribe()
	defer unsubscribe()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case jobs, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(jobListResponse{Jobs: jobs})
			if err != nil {
				a.Logger.Error().Err(err).Msg("stream: encode snapshot")
				return
			}
			if _, err := fmt.Fprintf(w, "event: jobs\ndata: %s\n\n", payload); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
