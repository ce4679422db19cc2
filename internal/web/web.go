// Package web serves the diary: the JSON API, the month page, the print
// view used by the PDF export and the stored images.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pictocal/internal/auth"
	"pictocal/internal/calendar"
	"pictocal/internal/capture"
	"pictocal/internal/config"
	"pictocal/internal/diary"
	"pictocal/internal/ics"
	"pictocal/internal/images"
	appLog "pictocal/internal/log"
	"pictocal/internal/model"
)

// Renderer produces the PDF and PNG exports of a month.
type Renderer interface {
	RenderPDF(ctx context.Context, opts capture.Options) ([]byte, error)
	CapturePNG(ctx context.Context, opts capture.Options) ([]byte, error)
}

// Deps are the collaborators of a Server. Overlay and Renderer may be nil.
type Deps struct {
	Diary    *diary.Service
	Images   *images.Store
	Auth     *auth.Authenticator
	Overlay  *ics.Overlay
	Renderer Renderer

	// Now replaces time.Now; "today" is Now in the configured timezone.
	Now func() time.Time
}

// Server provides the HTTP API and pages.
type Server struct {
	cfg  *config.Config
	loc  *time.Location
	deps Deps
	mux  *http.ServeMux
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auth == nil {
		deps.Auth = auth.New(cfg.Auth)
	}
	s := &Server{
		cfg:  cfg,
		loc:  loc,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	h = s.deps.Auth.Middleware(h)
	h = recoverMiddleware(h)
	return requestLogger(h)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("POST /api/calendar/navigate", s.handleNavigate)

	s.mux.HandleFunc("GET /api/entries/{date}", s.handleGetEntry)
	s.mux.HandleFunc("POST /api/entries/{date}", s.handlePostEntry)
	s.mux.HandleFunc("DELETE /api/entries/{date}", s.handleDeleteEntry)

	s.mux.HandleFunc("GET /api/storage", s.handleGetStorage)
	s.mux.HandleFunc("POST /api/storage", s.handlePostStorage)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("PUT /api/images/{key}", s.handlePutMonthImage)
	s.mux.HandleFunc("DELETE /api/images/{key}", s.handleDeleteMonthImage)
	s.mux.HandleFunc("GET /images/{key}", s.handleImage)

	s.mux.HandleFunc("GET /api/export/pdf", s.handleExportPDF)
	s.mux.HandleFunc("GET /api/export/png", s.handleExportPNG)
	s.mux.HandleFunc("GET /api/export/ics", s.handleExportICS)
	s.mux.HandleFunc("GET /api/export/csv", s.handleExportCSV)
	s.mux.HandleFunc("POST /api/import/ics", s.handleImportICS)
	s.mux.HandleFunc("POST /api/import/csv", s.handleImportCSV)
	s.mux.HandleFunc("POST /api/overlay/refresh", s.handleOverlayRefresh)

	s.mux.HandleFunc("GET /print", s.handlePrint)
	s.mux.Handle("GET /static/", s.staticFileServer())
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	// Unknown API paths answer in JSON rather than with the page.
	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded stylesheet, script and default month
// backgrounds under /static/.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static files not available", http.StatusServiceUnavailable)
		})
	}
	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		fileServer.ServeHTTP(w, r)
	})
}

// owner is the diary owner of the request.
func owner(r *http.Request) string {
	if u, ok := auth.CurrentUser(r.Context()); ok {
		return u
	}
	return auth.LocalUser
}

// today is the current date in the configured timezone.
func (s *Server) today() time.Time {
	return s.deps.Now().In(s.loc)
}

// cursorFromQuery reads year, month (0-11) and day. No fields at all means
// today; otherwise missing year and month come from today and day is 1.
func (s *Server) cursorFromQuery(r *http.Request) (calendar.Cursor, error) {
	q := r.URL.Query()
	today := calendar.Today(s.today())
	if q.Get("year") == "" && q.Get("month") == "" && q.Get("day") == "" {
		return today, nil
	}

	year, err := intParam(q.Get("year"), today.Year)
	if err != nil {
		return calendar.Cursor{}, err
	}
	month, err := intParam(q.Get("month"), today.Month)
	if err != nil {
		return calendar.Cursor{}, err
	}
	day, err := intParam(q.Get("day"), 1)
	if err != nil {
		return calendar.Cursor{}, err
	}
	return calendar.NewCursor(year, month, day)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, badRequest("invalid number %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// requestError carries a client-facing message and status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// writeErr maps domain errors to statuses. Unknown errors are logged and
// reported as 500 without detail.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		writeError(w, re.status, re.msg)
	case errors.Is(err, calendar.ErrInvalidDate),
		errors.Is(err, calendar.ErrDayOutOfRange),
		errors.Is(err, model.ErrInvalidKey),
		errors.Is(err, model.ErrInvalidImageRef),
		errors.Is(err, diary.ErrEmptyNote),
		errors.Is(err, images.ErrEmpty),
		errors.Is(err, images.ErrBadKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, images.ErrNotImage):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, images.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, images.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
