package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pictocal/internal/capture"
	"pictocal/internal/csvio"
	"pictocal/internal/ics"
	appLog "pictocal/internal/log"
)

// maxImportBody bounds ICS and CSV uploads.
const maxImportBody = 16 << 20

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	s.handleRender(w, r, "pdf")
}

func (s *Server) handleExportPNG(w http.ResponseWriter, r *http.Request) {
	s.handleRender(w, r, "png")
}

// handleRender drives the headless browser against our own print view,
// passing the caller's credentials through.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request, format string) {
	if s.deps.Renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "export renderer not configured")
		return
	}
	cur, err := s.cursorFromQuery(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	opts := capture.Options{
		BaseURL:    s.cfg.Export.BaseURL,
		Cursor:     cur,
		Timeout:    s.cfg.Export.Timeout(),
		ChromePath: s.cfg.Export.ChromePath,
	}
	if !s.deps.Auth.Open() {
		opts.Username, opts.Password, _ = r.BasicAuth()
	}

	var (
		data []byte
		ct   string
	)
	switch format {
	case "pdf":
		data, err = s.deps.Renderer.RenderPDF(r.Context(), opts)
		ct = "application/pdf"
	default:
		data, err = s.deps.Renderer.CapturePNG(r.Context(), opts)
		ct = "image/png"
	}
	if err != nil {
		appLog.Error("export render failed", err, "format", format, "year", cur.Year, "month", cur.Month)
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}
	attachment(w, ct, capture.FileName(cur.Year, cur.Month, format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Diary.Diary(r.Context(), owner(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	body, err := ics.ExportNotes(d.Notes, "Pictocal", s.deps.Now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	attachment(w, "text/calendar; charset=utf-8", "pictocal.ics")
	_, _ = w.Write(body)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Diary.Diary(r.Context(), owner(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := csvio.Write(&buf, d.Notes, d.DayImages); err != nil {
		writeErr(w, r, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", "events.csv")
	_, _ = w.Write(buf.Bytes())
}

func readImport(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: "import too large"}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, badRequest("empty import")
	}
	return body, nil
}

func overwriteParam(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))
	return v
}

// handleImportICS merges the events of an uploaded calendar into the notes.
// Recurring events are expanded over the year given by ?year=, default the
// current one.
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r.URL.Query().Get("year"), s.today().Year())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	body, err := readImport(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
	notes, err := ics.ImportNotes(body, start, start.AddDate(1, 0, 0), s.loc)
	if err != nil {
		writeErr(w, r, badRequest("%v", err))
		return
	}
	written, err := s.deps.Diary.Merge(r.Context(), owner(r), notes, nil, overwriteParam(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"found": len(notes), "imported": written})
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	body, err := readImport(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := csvio.Read(bytes.NewReader(body))
	if err != nil {
		writeErr(w, r, badRequest("%v", err))
		return
	}
	notes, dayImages := res.Maps()
	written, err := s.deps.Diary.Merge(r.Context(), owner(r), notes, dayImages, overwriteParam(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"found": len(res.Records), "imported": written, "skipped": res.Skipped})
}

func (s *Server) handleOverlayRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Overlay.Enabled() {
		writeError(w, http.StatusNotFound, "no ics feeds configured")
		return
	}
	err := s.deps.Overlay.Refresh(r.Context())
	resp := map[string]any{"updatedAt": s.deps.Overlay.UpdatedAt()}
	if err != nil {
		resp["error"] = "some feeds failed, see the server log"
	}
	writeJSON(w, http.StatusOK, resp)
}
