package web

import (
	"io"
	"net/http"
	"strconv"

	"pictocal/internal/images"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// handleUpload stores a raw image body. The filename query parameter is
// only logged; stored names come from the content hash.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Images == nil {
		writeError(w, http.StatusServiceUnavailable, "image storage disabled")
		return
	}
	limit := s.cfg.MaxUploadBytes()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ref, err := s.deps.Images.Put(data)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	appLog.Info("image uploaded", "owner", owner(r), "filename", r.URL.Query().Get("filename"), "key", ref.Key, "size", ref.Size)
	writeJSON(w, http.StatusOK, ref)
}

// monthImageRequest is the body of PUT /api/images/{key}.
type monthImageRequest struct {
	URL string `json:"url"`
}

func imageKeyParam(r *http.Request) (model.ImageKey, error) {
	return model.ParseImageKey(r.PathValue("key"))
}

func (s *Server) handlePutMonthImage(w http.ResponseWriter, r *http.Request) {
	key, err := imageKeyParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req monthImageRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes()*2, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	ref, err := s.deps.Diary.SetMonthImage(r.Context(), owner(r), key, req.URL)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String(), "url": ref})
}

func (s *Server) handleDeleteMonthImage(w http.ResponseWriter, r *http.Request) {
	key, err := imageKeyParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.deps.Diary.ClearMonthImage(r.Context(), owner(r), key); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImage serves a stored image. Keys are content hashes, so responses
// never change.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Images == nil {
		http.NotFound(w, r)
		return
	}
	key := r.PathValue("key")
	data, ct, err := s.deps.Images.Get(key)
	if err != nil {
		switch err {
		case images.ErrBadKey, images.ErrNotFound:
			http.NotFound(w, r)
		default:
			writeErr(w, r, err)
		}
		return
	}
	etag := `"` + key + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(data)
}
