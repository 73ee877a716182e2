package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if a.Uploader == nil {
		a.error(w, http.StatusServiceUnavailable, "storage_unavailable", "uploads are not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "file too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "file is empty")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media", "only images can be uploaded")
		return
	}

	url, err := a.Uploader.Upload(r.Context(), header.Filename, contentType, data)
	if err != nil {
		a.Logger.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		a.error(w, http.StatusBadGateway, "upload_failed", "upload failed")
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"url": url})
}
