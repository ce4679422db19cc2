package web

import (
	"net/http"

	"pictocal/internal/calendar"
	"pictocal/internal/model"
)

// maxSnapshotBody bounds POST /api/storage; snapshots may carry inline
// images.
const maxSnapshotBody = 64 << 20

func dateParam(r *http.Request) (calendar.DateKey, error) {
	k := calendar.DateKey(r.PathValue("date"))
	if !k.Valid() {
		return "", badRequest("invalid date %q, want YYYY-MM-DD", string(k))
	}
	return k, nil
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	k, err := dateParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	e, ok, err := s.deps.Diary.Get(r.Context(), owner(r), k)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// entryRequest is the body of POST /api/entries/{date}. A nil ImageURL
// leaves the day image alone; an empty one removes it.
type entryRequest struct {
	Content  string  `json:"content"`
	ImageURL *string `json:"imageUrl"`
	// Mode is "add" (blank text rejected) or "confirm" (blank text deletes).
	Mode string `json:"mode"`
}

func (s *Server) handlePostEntry(w http.ResponseWriter, r *http.Request) {
	k, err := dateParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes()*2, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	ctx, who := r.Context(), owner(r)
	var e model.Entry
	switch req.Mode {
	case "add":
		e, err = s.deps.Diary.Add(ctx, who, k, req.Content)
	case "confirm", "":
		e, err = s.deps.Diary.Confirm(ctx, who, k, req.Content)
	default:
		err = badRequest("unknown mode %q", req.Mode)
	}
	if err == nil && req.ImageURL != nil {
		e, err = s.deps.Diary.SetDayImage(ctx, who, k, *req.ImageURL)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if e.Content == "" && e.ImageURL == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	k, err := dateParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.deps.Diary.Delete(r.Context(), owner(r), k); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetStorage returns the whole diary as a snapshot, or 404 when
// nothing is stored yet.
func (s *Server) handleGetStorage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Diary.Load(r.Context(), owner(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if len(snap.DB) == 0 && len(snap.CustomImages) == 0 && len(snap.DayImages) == 0 {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePostStorage(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decodeJSON(w, r, maxSnapshotBody, &snap); err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := s.deps.Diary.Replace(r.Context(), owner(r), snap)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "File saved successfully",
		"notes":   len(d.Notes),
		"images":  len(d.Images),
	})
}
