// Package web serves the calendar API, the drag endpoints and the
// server-rendered /calendar page the snapshot job captures.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"clubcal/internal/config"
	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
	"clubcal/internal/recurrence"
	"clubcal/internal/refresh"
	"clubcal/internal/reschedule"
)

const (
	defaultDays = 7
	maxDays     = 62
	// maxNotices is how many drag failures /api/notifications keeps.
	maxNotices = 20
)

// Deps are the collaborators a Server works with. Refresh may be nil.
type Deps struct {
	Cache      *provider.RangeCache
	Normalizer *normalize.Normalizer
	Refresh    *refresh.Runner
}

// Server provides the HTTP API over one calendar.
type Server struct {
	cfg     *config.Config
	loc     *time.Location
	mux     *http.ServeMux
	cache   *provider.RangeCache
	norm    *normalize.Normalizer
	refresh *refresh.Runner
	coord   *reschedule.Coordinator
	rows    *rowTables
	now     func() time.Time

	noticeMu sync.Mutex
	notices  []notice
}

// notice is a drag failure reported back to the UI.
type notice struct {
	EventID string    `json:"eventId"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NewServer constructs a new Server. The drag coordinator commits through
// deps.Cache so that a confirmed move invalidates every cached range.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	loc := cfg.Location()
	norm := deps.Normalizer
	if norm == nil {
		norm = normalize.New(loc, nil)
	}
	s := &Server{
		cfg:     cfg,
		loc:     loc,
		mux:     http.NewServeMux(),
		cache:   deps.Cache,
		norm:    norm,
		refresh: deps.Refresh,
		rows:    newRowTables(),
		now:     time.Now,
	}
	s.coord = reschedule.New(deps.Cache, norm, nil, s.rows, reschedule.NotifierFunc(s.addNotice), reschedule.Options{
		SnapMinutes:     cfg.Drag.SnapMinutes,
		PixelsPerMinute: cfg.Drag.PixelsPerMinute,
	})
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Coordinator exposes the drag coordinator, mainly for tests.
func (s *Server) Coordinator() *reschedule.Coordinator { return s.coord }

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="clubcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreate)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)

	s.mux.HandleFunc("GET /api/layout/day", s.handleDayLayout)
	s.mux.HandleFunc("GET /api/layout/span", s.handleSpanLayout)

	s.mux.HandleFunc("POST /api/drag/{id}/start", s.handleDragStart)
	s.mux.HandleFunc("POST /api/drag/{id}/move", s.handleDragMove)
	s.mux.HandleFunc("POST /api/drag/{id}/drop", s.handleDragDrop)
	s.mux.HandleFunc("POST /api/drag/{id}/cancel", s.handleDragCancel)
	s.mux.HandleFunc("GET /api/notifications", s.handleNotifications)

	s.mux.HandleFunc("GET /api/recurrence/describe", s.handleDescribe)
	s.mux.HandleFunc("GET /api/recurrence/options", s.handleOptions)

	if s.refresh != nil {
		s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
		s.mux.HandleFunc("GET /api/refresh", s.handleRefreshStatus)
	}

	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	anchor, err := parseAnchor(q.Get("anchor"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule := q.Get("rule")
	if rule != "" {
		if !strings.HasPrefix(strings.ToUpper(rule), recurrence.Prefix) {
			rule = recurrence.Prefix + rule
		}
		if _, err := recurrence.Parse(rule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"rule": rule,
		"text": recurrence.Describe(anchor, rule),
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAnchor(r.URL.Query().Get("anchor"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recurrence.Options(anchor))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.refresh.Run(r.Context())
	if errors.Is(err, refresh.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	// Task failures are reported through the status.
	writeJSON(w, http.StatusOK, s.refresh.Status())
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.refresh.Status())
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	s.noticeMu.Lock()
	out := append([]notice{}, s.notices...)
	s.noticeMu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addNotice(n reschedule.Notification) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	s.notices = append(s.notices, notice{EventID: n.EventID, Message: n.Message, At: s.now()})
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

// statusFor maps domain and provider errors to HTTP statuses.
func statusFor(err error) int {
	var conflict *provider.ConflictError
	var persist *provider.PersistenceError
	switch {
	case errors.As(err, &conflict),
		errors.Is(err, reschedule.ErrCommitInFlight),
		errors.Is(err, reschedule.ErrAlreadyDragging),
		errors.Is(err, reschedule.ErrNotDragging):
		return http.StatusConflict
	case errors.Is(err, provider.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrNotFound),
		errors.Is(err, reschedule.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrInvalidEvent),
		errors.Is(err, provider.ErrCutoffRequired),
		errors.Is(err, normalize.ErrMalformedEvent),
		errors.Is(err, recurrence.ErrMalformedRecurrence),
		errors.Is(err, reschedule.ErrScopeRequired):
		return http.StatusBadRequest
	case errors.As(err, &persist):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, err.Error())
}

// dayRange reads start (YYYY-MM-DD, default today) and days (default
// defDays) from the query and returns the midnight of each day in loc.
func dayRange(r *http.Request, loc *time.Location, now time.Time, defDays int) ([]time.Time, error) {
	q := r.URL.Query()
	start := model.StartOfDay(now.In(loc))
	if v := q.Get("start"); v != "" {
		t, err := time.ParseInLocation(model.DateLayout, v, loc)
		if err != nil {
			return nil, errors.New("start must be YYYY-MM-DD")
		}
		start = t
	}
	days := parseIntDefault(q.Get("days"), defDays)
	if days <= 0 || days > maxDays {
		return nil, errors.New("days must be between 1 and " + strconv.Itoa(maxDays))
	}
	out := make([]time.Time, days)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out, nil
}

// parseAnchor accepts a date or an RFC3339 instant; empty means now.
func parseAnchor(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.ParseInLocation(model.DateLayout, v, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("anchor must be YYYY-MM-DD or RFC3339")
	}
	return t.In(loc), nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
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
