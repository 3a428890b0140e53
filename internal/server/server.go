package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/cropscan/internal/app"
	"github.com/raysh454/cropscan/internal/connectivity"
	"github.com/raysh454/cropscan/internal/diagnosis"
	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"
	"github.com/raysh454/cropscan/internal/scanstore"
	"github.com/raysh454/cropscan/internal/syncer"
)

// maxLoggedBody caps how much of a request body is copied into logs.
const maxLoggedBody = 2048

// Server is the local HTTP + WebSocket API over the scan store and sync
// coordinator.
type Server struct {
	cfg      Config
	app      *app.Application
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Application == nil {
		return nil, errors.New("server: nil application")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Application.Logger
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.ListenAddr == "" && cfg.Application.Config != nil {
		cfg.ListenAddr = cfg.Application.Config.ListenAddr
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:    cfg,
		app:    cfg.Application,
		router: r,
		logger: logger.With(logging.Field{Key: "component", Value: "server"}),
		upgrader: websocket.Upgrader{
			// The API binds to loopback; any local origin may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("GET, POST"))
	r.Options("/scans/{id}", s.optionsHandler("GET, DELETE"))
	r.Options("/scans/{id}/synced", s.optionsHandler("POST"))
	r.Options("/diagnose", s.optionsHandler("POST"))
	r.Options("/sync", s.optionsHandler("POST"))
	r.Options("/connectivity", s.optionsHandler("GET, POST"))

	// Scans
	r.Get("/scans", s.handleListScans)
	r.Post("/scans", s.handleCreateScan)
	r.Get("/scans/unsynced", s.handleListUnsynced)
	r.Get("/scans/stats", s.handleStats)
	r.Get("/scans/{id}", s.handleGetScan)
	r.Delete("/scans/{id}", s.handleDeleteScan)
	r.Post("/scans/{id}/synced", s.handleMarkSynced)

	// Capture flow
	r.Post("/diagnose", s.handleDiagnose)

	// Sync
	r.Post("/sync", s.handleSync)
	r.Get("/sync/status", s.handleSyncStatus)

	// Connectivity bridge
	r.Get("/connectivity", s.handleGetConnectivity)
	r.Post("/connectivity", s.handlePushConnectivity)

	// Remote lookups
	r.Get("/alerts/nearby", s.handleNearbyAlerts)
	r.Get("/models/latest", s.handleLatestModel)

	// WebSocket for sync progress
	r.Get("/ws/sync", s.handleSyncWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			logged := bodyBytes
			if len(logged) > maxLoggedBody {
				logged = logged[:maxLoggedBody]
			}
			fields = append(fields, logging.Field{Key: "body", Value: string(logged)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storageStatus maps scan store errors to HTTP statuses.
func storageStatus(err error) int {
	switch {
	case errors.Is(err, scanstore.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, scanstore.ErrScanNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanstore.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func scanID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid scan id")
	}
	return id, nil
}

// --- HTTP handlers ---

// Scans

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.app.Store.GetAllScans(r.Context())
	if err != nil {
		s.logger.Warn("listing scans", logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	s.logger.Info("listed scans", logging.Field{Key: "count", Value: len(scans)})
	writeJSON(w, http.StatusOK, scans)
}

// syncedFlag accepts is_synced as a JSON bool or as the 0/1 integer the
// scans table stores.
type syncedFlag bool

func (f *syncedFlag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("is_synced must be a boolean or 0/1, got %s", b)
	}
	return nil
}

type createScanRequest struct {
	model.ScanRecord
	IsSynced syncedFlag `json:"is_synced"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("decoding create scan body", logging.Err(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec := req.ScanRecord
	rec.IsSynced = bool(req.IsSynced)
	rec.ID = 0
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(scanstore.TimestampLayout)
	}

	if _, err := s.app.Store.SaveScan(r.Context(), &rec); err != nil {
		s.logger.Warn("saving scan", logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	s.logger.Info("saved scan", logging.Field{Key: "scan_id", Value: rec.ID}, logging.Field{Key: "is_synced", Value: rec.IsSynced})
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListUnsynced(w http.ResponseWriter, r *http.Request) {
	scans, err := s.app.Store.GetUnsyncedScans(r.Context())
	if err != nil {
		s.logger.Warn("listing unsynced scans", logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Store.Stats(r.Context())
	if err != nil {
		s.logger.Warn("computing scan stats", logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := scanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.app.Store.GetScan(r.Context(), id)
	if err != nil {
		if !errors.Is(err, scanstore.ErrScanNotFound) {
			s.logger.Warn("getting scan", logging.Field{Key: "scan_id", Value: id}, logging.Err(err))
		}
		writeError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id, err := scanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Store.DeleteScan(r.Context(), id); err != nil {
		s.logger.Warn("deleting scan", logging.Field{Key: "scan_id", Value: id}, logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	s.logger.Info("deleted scan", logging.Field{Key: "scan_id", Value: id})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMarkSynced(w http.ResponseWriter, r *http.Request) {
	id, err := scanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Store.MarkAsSynced(r.Context(), id); err != nil {
		s.logger.Warn("marking scan synced", logging.Field{Key: "scan_id", Value: id}, logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// Capture flow

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req app.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("decoding diagnose body", logging.Err(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	out, err := s.app.Diagnoser.Diagnose(r.Context(), req)
	if err != nil {
		var ue *diagnosis.UploadError
		switch {
		case errors.Is(err, app.ErrInvalidCapture):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &ue):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Warn("diagnosing capture", logging.Err(err))
			writeError(w, storageStatus(err), err.Error())
		}
		return
	}

	status := http.StatusOK
	if out.Scan != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// Sync

type syncStatus struct {
	Syncing    bool                `json:"syncing"`
	Online     bool                `json:"online"`
	Unsynced   int                 `json:"unsynced"`
	LastReport *syncer.PassReport  `json:"last_report,omitempty"`
	State      *connectivity.State `json:"connectivity,omitempty"`
}

func (s *Server) status(r *http.Request) (*syncStatus, error) {
	stats, err := s.app.Store.Stats(r.Context())
	if err != nil {
		return nil, err
	}
	st, _ := s.app.Connectivity.Current(r.Context())
	return &syncStatus{
		Syncing:    s.app.Syncer.IsSyncing(),
		Online:     st.Online(),
		Unsynced:   stats.Unsynced,
		LastReport: s.app.Syncer.LastReport(),
		State:      &st,
	}, nil
}

// handleSync starts a manual pass. With ?wait=true the pass runs inline and
// its report is returned.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		report, ran := s.app.Syncer.SyncNow(r.Context())
		if !ran {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if !s.app.Syncer.TriggerNow() {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	s.logger.Info("manual sync started")
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(r)
	if err != nil {
		s.logger.Warn("building sync status", logging.Err(err))
		writeError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Connectivity

func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	st, _ := s.app.Connectivity.Current(r.Context())
	writeJSON(w, http.StatusOK, st)
}

// handlePushConnectivity lets the device's network monitor report a state
// change. Reporting online starts a pass if none is running.
func (s *Server) handlePushConnectivity(w http.ResponseWriter, r *http.Request) {
	var st connectivity.State
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		s.logger.Warn("decoding connectivity body", logging.Err(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.app.Connectivity.Publish(st)
	s.logger.Info("connectivity reported",
		logging.Field{Key: "online", Value: st.Online()},
		logging.Field{Key: "type", Value: st.Type})
	writeJSON(w, http.StatusAccepted, map[string]bool{"online": st.Online(), "syncing": s.app.Syncer.IsSyncing()})
}

// Remote lookups

func (s *Server) handleNearbyAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("latitude"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("longitude"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "latitude and longitude query parameters are required")
		return
	}

	alerts, err := s.app.Diagnosis.NearbyAlerts(r.Context(), lat, lon)
	if err != nil {
		s.logger.Warn("fetching nearby alerts", logging.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleLatestModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.app.Diagnosis.LatestModel(r.Context())
	if err != nil {
		s.logger.Warn("fetching latest model", logging.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// WebSockets

// handleSyncWS streams coordinator events until the client disconnects.
// The first message is the current sync status.
func (s *Server) handleSyncWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	events, cancel := s.app.Syncer.Subscribe(32)
	defer cancel()

	if st, err := s.status(r); err == nil {
		if err := conn.WriteJSON(st); err != nil {
			return
		}
	}

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
