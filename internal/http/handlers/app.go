package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/session"
	"mediaqueue/internal/storage"
)

const defaultMaxUploadBytes = 10 << 20

type App struct {
	Engine         *queue.Engine
	Uploader       storage.Uploader
	Session        *session.Store
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

func NewApp(engine *queue.Engine, uploader storage.Uploader, sess *session.Store, logger zerolog.Logger) *App {
	return &App{
		Engine:         engine,
		Uploader:       uploader,
		Session:        sess,
		Logger:         logger,
		MaxUploadBytes: defaultMaxUploadBytes,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps queue errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownFamily):
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrDuplicateSuppressed):
		a.error(w, http.StatusConflict, "duplicate_submission", "an identical request was just submitted")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStaleTransition):
		a.error(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
