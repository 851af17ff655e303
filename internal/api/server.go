// Package api exposes the REST surface: catalog listings, live
// positions, orbit paths, pass prediction, selection, and the observer
// endpoint. Handlers read tracker snapshots and the element store; they
// never block on propagation.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/auth"
	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/health"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/orbitpath"
	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/tracker"
	"github.com/orbitwatch/orbitwatch/internal/visibility"
)

// Deps collects everything the handlers read from.
type Deps struct {
	Store     *tle.Store
	Tracker   *tracker.Tracker
	Paths     *orbitpath.Cache
	Selection *catalog.Manager
	// Stream handles websocket upgrades; nil disables the /ws route.
	Stream http.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	s := &Server{deps: deps, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool {
		return deps.Tracker.Snapshot() != nil
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/satellites", s.handleList)
	mux.HandleFunc("GET /api/v1/satellites/{id}", s.handleDetail)
	mux.HandleFunc("GET /api/v1/satellites/{id}/position", s.handlePosition)
	mux.HandleFunc("GET /api/v1/satellites/{id}/path", s.handlePath)
	mux.HandleFunc("GET /api/v1/satellites/{id}/nextpass", s.handleNextPass)

	mux.HandleFunc("GET /api/v1/selection", s.handleSelectionGet)
	mux.HandleFunc("GET /api/v1/selection/{key}", s.handleSelectionDetail)
	mux.HandleFunc("POST /api/v1/selection", s.handleSelectionPost)
	mux.HandleFunc("DELETE /api/v1/selection", s.handleSelectionReset)
	mux.HandleFunc("DELETE /api/v1/selection/{key}", s.handleSelectionDelete)

	mux.HandleFunc("GET /api/v1/observer", s.handleObserverGet)
	mux.HandleFunc("PUT /api/v1/observer", s.handleObserverPut)

	mux.HandleFunc("GET /api/v1/visible", s.handleVisible)
	mux.HandleFunc("GET /api/v1/conjunctions", s.handleConjunctions)

	if deps.Stream != nil {
		mux.Handle("GET /ws", deps.Stream)
	}

	// Middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type listedObject struct {
	Name           string    `json:"name"`
	NoradID        int       `json:"norad_id"`
	Epoch          time.Time `json:"epoch"`
	PeriodMinutes  float64   `json:"period_minutes"`
	InclinationDeg float64   `json:"inclination_deg"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ds := s.deps.Store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "element data not loaded")
		return
	}

	objects := make([]listedObject, 0, ds.Set.Len())
	for _, rec := range ds.Set.Records {
		objects = append(objects, listedObject{
			Name:           rec.Name,
			NoradID:        rec.NoradID,
			Epoch:          rec.Epoch,
			PeriodMinutes:  rec.PeriodMinutes(),
			InclinationDeg: rec.InclinationDeg,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source":       ds.Source,
		"fetched_at":   ds.FetchedAt,
		"epoch_oldest": ds.EpochRange.Min,
		"epoch_newest": ds.EpochRange.Max,
		"count":        len(objects),
		"satellites":   objects,
	})
}

// recordFromPath resolves the {id} path segment to an element record.
func (s *Server) recordFromPath(w http.ResponseWriter, r *http.Request) (*tle.Record, *tle.Dataset, bool) {
	ds := s.deps.Store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "element data not loaded")
		return nil, nil, false
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "catalog number must be numeric")
		return nil, nil, false
	}
	rec, ok := ds.Set.ByNorad(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown catalog number")
		return nil, nil, false
	}
	return rec, ds, true
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"name":            rec.Name,
		"norad_id":        rec.NoradID,
		"epoch":           rec.Epoch,
		"period_minutes":  rec.PeriodMinutes(),
		"inclination_deg": rec.InclinationDeg,
		"eccentricity":    rec.Eccentricity,
		"mean_motion":     rec.MeanMotion,
	}
	if snap := s.deps.Tracker.Snapshot(); snap != nil {
		for _, obj := range snap.Objects {
			if obj.NoradID == rec.NoradID {
				resp["state"] = obj
				resp["state_time"] = snap.Time
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	snap := s.deps.Tracker.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no tracking pass completed yet")
		return
	}
	for _, obj := range snap.Objects {
		if obj.NoradID == rec.NoradID {
			writeJSON(w, http.StatusOK, map[string]any{"time": snap.Time, "object": obj})
			return
		}
	}
	writeError(w, http.StatusNotFound, "object not in current snapshot")
}

type pathPoint struct {
	Time   time.Time `json:"time"`
	LatDeg float64   `json:"lat_deg"`
	LonDeg float64   `json:"lon_deg"`
	AltM   float64   `json:"alt_m"`
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	rec, ds, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}

	start := time.Now().UTC()
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = parsed.UTC()
	}

	path, err := s.deps.Paths.Get(rec, ds.FetchedAt, start)
	if err != nil {
		if errors.Is(err, orbitpath.ErrNoPath) {
			writeError(w, http.StatusNotFound, "orbit path unavailable")
			return
		}
		s.logger.Error("path sampling failed", "norad_id", rec.NoradID, "error", err)
		writeError(w, http.StatusInternalServerError, "path sampling failed")
		return
	}

	points := make([]pathPoint, 0, len(path.Points))
	for _, pt := range path.Points {
		points = append(points, pathPoint{
			Time:   pt.Time,
			LatDeg: pt.Geodetic.LatDeg,
			LonDeg: pt.Geodetic.LonDeg,
			AltM:   pt.Geodetic.AltM,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"norad_id":     rec.NoradID,
		"start":        path.Start,
		"step_seconds": int(path.Step.Seconds()),
		"span_seconds": int(path.Span().Seconds()),
		"points":       points,
	})
}

func (s *Server) handleNextPass(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	obs, hasObs := s.deps.Tracker.Observer()
	if !hasObs {
		writeError(w, http.StatusConflict, "no observer configured")
		return
	}

	minutes, found := visibility.TimeToRise(rec.Propagator(), obs, time.Now().UTC(), visibility.DefaultRiseSearchMinutes)
	resp := map[string]any{
		"norad_id":       rec.NoradID,
		"found":          found,
		"search_minutes": visibility.DefaultRiseSearchMinutes,
	}
	if found {
		resp["minutes_to_rise"] = minutes
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelectionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"selection": s.deps.Selection.Selection()})
}

func (s *Server) handleSelectionPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"name\": ...}")
		return
	}

	ds := s.deps.Store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "element data not loaded")
		return
	}
	rec, ok := ds.Set.Lookup(req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown object name")
		return
	}

	if s.deps.Selection.Mode() == catalog.MultiSelect {
		s.deps.Selection.Toggle(rec)
	} else {
		s.deps.Selection.Select(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"selection": s.deps.Selection.Selection()})
}

// handleSelectionDetail returns the descriptive catalog record for an
// object by name, resolving it through the session cache.
func (s *Server) handleSelectionDetail(w http.ResponseWriter, r *http.Request) {
	ds := s.deps.Store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "element data not loaded")
		return
	}
	rec, ok := ds.Set.Lookup(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown object name")
		return
	}

	detail, err := s.deps.Selection.Details(r.Context(), rec.Key(), rec.Name, rec.NoradID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog lookup cancelled")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSelectionReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Selection.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectionDelete(w http.ResponseWriter, r *http.Request) {
	s.deps.Selection.Deselect(tle.NormalizeKey(r.PathValue("key")))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObserverGet(w http.ResponseWriter, r *http.Request) {
	obs, ok := s.deps.Tracker.Observer()
	if !ok {
		writeError(w, http.StatusNotFound, "no observer configured")
		return
	}
	const radToDeg = 180.0 / math.Pi
	writeJSON(w, http.StatusOK, map[string]any{
		"latitude":  obs.LatRad * radToDeg,
		"longitude": obs.LonRad * radToDeg,
		"altitude":  obs.AltM,
	})
}

func (s *Server) handleObserverPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid observer body")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := s.deps.Tracker.SetObserver(req.Latitude, req.Longitude, req.Altitude); err != nil {
		writeError(w, http.StatusConflict, "observer already configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "observer set"})
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no tracking pass completed yet")
		return
	}
	if !snap.HasObserver {
		writeError(w, http.StatusConflict, "no observer configured")
		return
	}

	rows := make([]visibility.ReportRow, 0)
	for _, obj := range snap.Objects {
		if obj.Visible {
			rows = append(rows, visibility.ReportRow{
				Name:   obj.Name,
				LatDeg: obj.LatDeg,
				LonDeg: obj.LonDeg,
				AltM:   obj.AltM,
			})
		}
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := visibility.WriteCSV(w, rows); err != nil {
			s.logger.Error("write csv report", "error", err)
		}
	case "table":
		w.Header().Set("Content-Type", "text/plain")
		if err := visibility.WriteTable(w, rows); err != nil {
			s.logger.Error("write table report", "error", err)
		}
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"time":    snap.Time,
			"count":   len(rows),
			"visible": rows,
		})
	}
}

// handleConjunctions runs a close-approach analysis. With ?a= and ?b=
// catalog numbers it reports the closest approach of that pair; without
// them it screens the loaded set pairwise and reports approaches under
// the threshold.
func (s *Server) handleConjunctions(w http.ResponseWriter, r *http.Request) {
	ds := s.deps.Store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "element data not loaded")
		return
	}

	q := r.URL.Query()
	cfg := conjunction.DefaultConfig()
	if raw := q.Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		cfg.Window = time.Duration(hours) * time.Hour
	}
	if raw := q.Get("threshold_km"); raw != "" {
		km, err := strconv.ParseFloat(raw, 64)
		if err != nil || km <= 0 {
			writeError(w, http.StatusBadRequest, "threshold_km must be a positive number")
			return
		}
		cfg.ThresholdKm = km
	}
	start := time.Now().UTC()
	if raw := q.Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = parsed.UTC()
	}

	rawA, rawB := q.Get("a"), q.Get("b")
	if (rawA == "") != (rawB == "") {
		writeError(w, http.StatusBadRequest, "a and b must be given together")
		return
	}

	if rawA != "" {
		recA, ok := s.recordByNorad(w, ds, rawA)
		if !ok {
			return
		}
		recB, ok := s.recordByNorad(w, ds, rawB)
		if !ok {
			return
		}
		approach, err := conjunction.ClosestApproach(recA.Propagator(), recB.Propagator(), start, cfg)
		if err != nil {
			s.logger.Warn("conjunction analysis failed", "error", err)
			writeError(w, http.StatusUnprocessableEntity, "object not propagable across the window")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"start":                 start,
			"analysis_window_hours": cfg.Window.Hours(),
			"approach":              approach,
		})
		return
	}

	approaches := conjunction.Screen(ds.Set.Records, start, cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"start":                 start,
		"analysis_window_hours": cfg.Window.Hours(),
		"threshold_km":          cfg.ThresholdKm,
		"count":                 len(approaches),
		"threats":               approaches,
	})
}

// recordByNorad resolves a catalog number query parameter.
func (s *Server) recordByNorad(w http.ResponseWriter, ds *tle.Dataset, raw string) (*tle.Record, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "catalog number must be numeric")
		return nil, false
	}
	rec, ok := ds.Set.ByNorad(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown catalog number")
		return nil, false
	}
	return rec, true
}

// probePath reports paths that should log at DEBUG, not INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware chain.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
