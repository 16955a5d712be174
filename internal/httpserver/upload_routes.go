package httpserver

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/config"
)

// UploadRoutes returns a sub-router mounted at /api/uploads. It is the
// media collaborator the messaging core treats as opaque:
// - POST /          -> store the "media" form file, answer {url, media_type}
// - GET /{filename} -> serve a previously stored file
func UploadRoutes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	maxBytes := cfg.MaxUploadMB << 20

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("media")
		if err != nil {
			http.Error(w, "missing media file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		mediaType := header.Header.Get("Content-Type")
		if mediaType == "" {
			var sniff [512]byte
			n, _ := io.ReadFull(file, sniff[:])
			mediaType = http.DetectContentType(sniff[:n])
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				http.Error(w, "could not read file", http.StatusInternalServerError)
				return
			}
		}

		ext := filepath.Ext(header.Filename)
		filename := strconv.FormatInt(time.Now().UnixNano(), 10) + ext
		destPath := filepath.Join(cfg.UploadDir, filename)

		out, err := os.Create(destPath)
		if err != nil {
			http.Error(w, "could not create file", http.StatusInternalServerError)
			return
		}
		defer out.Close()

		if _, err := io.Copy(out, file); err != nil {
			http.Error(w, "could not save file", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"url":        path.Join("/api/uploads", filename),
			"media_type": mediaType,
		})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}
		// Prevent path traversal by not allowing separators.
		if filepath.Base(filename) != filename {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	})

	return r
}
