package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workwatch/internal/alerts"
	"workwatch/internal/config"
	"workwatch/internal/eventlog"
	"workwatch/internal/metrics"
	"workwatch/internal/model"
	"workwatch/internal/session"
)

// Control queues counter commands on the pipeline worker.
type Control interface {
	Reset() bool
}

type SinkLister interface {
	Sinks() []string
}

// Deps are the components the operator surface reads and drives. Nil
// members disable the endpoints that need them.
type Deps struct {
	Config   *config.Manager
	Metrics  *metrics.Store
	Notices  *alerts.Store
	Board    *alerts.Board
	Log      eventlog.EntryStore
	Session  *session.Session
	Control  Control
	Sinks    SinkLister
	Gatherer prometheus.Gatherer
	// OnConfig runs after the detection tunables were changed through the API.
	OnConfig func(*config.Config)
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	User       string          `json:"user"`
	Since      string          `json:"since,omitempty"`
	Detection  detectionStatus `json:"detection"`
	Ingest     ingestStatus    `json:"ingest"`
	Sinks      []string        `json:"sinks"`
	API        apiStatus       `json:"api"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	UDP       bool `json:"udp"`
	FileTail  bool `json:"file_tail"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	ConfidenceFloor float64           `json:"confidence_floor"`
	AlertThreshold  int               `json:"alert_threshold"`
	ResetInterval   string            `json:"reset_interval"`
	MinAlertGap     string            `json:"min_alert_gap"`
	MaxEntries      int               `json:"max_entries"`
	Conditions      []conditionStatus `json:"conditions"`
}

type conditionStatus struct {
	Name           string `json:"name"`
	Cause          string `json:"cause"`
	AlertThreshold int    `json:"alert_threshold,omitempty"`
	ResetInterval  string `json:"reset_interval,omitempty"`
}

// detectionUpdate is a partial update; absent fields keep their value.
type detectionUpdate struct {
	ConfidenceFloor *float64 `json:"confidence_floor"`
	AlertThreshold  *int     `json:"alert_threshold"`
	ResetInterval   *string  `json:"reset_interval"`
	MinAlertGap     *string  `json:"min_alert_gap"`
	MaxEntries      *int     `json:"max_entries"`
}

func NewServer(deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{deps: deps, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/conditions", s.handleConditions)
	mux.HandleFunc("/conditions/", s.handleConditions)
	mux.HandleFunc("/log", s.handleLog)
	mux.HandleFunc("/log/clear", s.handleLogClear)
	mux.HandleFunc("/prompts", s.handlePrompts)
	mux.HandleFunc("/prompts/", s.handlePromptAck)
	mux.HandleFunc("/notices", s.handleNotices)
	mux.HandleFunc("/session/login", s.handleLogin)
	mux.HandleFunc("/session/logout", s.handleLogout)
	mux.HandleFunc("/session/history", s.handleSessionHistory)
	mux.HandleFunc("/config/detection", s.handleDetection)
	mux.HandleFunc("/admin/reset", s.handleReset)
	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func Start(ctx context.Context, deps Deps, logger *slog.Logger, version string) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(deps, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.deps.Config.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.deps.Config.Path(),
		User:       model.UnknownUser,
		Detection:  detectionView(cfg),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		Sinks: []string{},
		API:   apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.deps.Session != nil {
		if u := s.deps.Session.Current(); u != "" {
			resp.User = u
			resp.Since = s.deps.Session.Since().UTC().Format(time.RFC3339)
		}
	}
	if s.deps.Sinks != nil {
		resp.Sinks = s.deps.Sinks.Sinks()
	}
	writeJSON(w, http.StatusOK, resp)
}

func detectionView(cfg *config.Config) detectionStatus {
	d := cfg.Detection
	out := detectionStatus{
		ConfidenceFloor: d.ConfidenceFloor,
		AlertThreshold:  d.AlertThreshold,
		ResetInterval:   d.ResetInterval.String(),
		MinAlertGap:     d.MinAlertGap.String(),
		MaxEntries:      cfg.Log.MaxEntries,
		Conditions:      make([]conditionStatus, 0, len(d.Conditions)),
	}
	for _, c := range d.Conditions {
		cs := conditionStatus{Name: c.Name, Cause: d.Cause(c.Name), AlertThreshold: c.AlertThreshold}
		if c.ResetInterval > 0 {
			cs.ResetInterval = c.ResetInterval.String()
		}
		out.Conditions = append(out.Conditions, cs)
	}
	return out
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Metrics == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	source := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/conditions"), "/")
	if source != "" {
		states, updated, ok := s.deps.Metrics.Get(source)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":     source,
			"updated_at": updated.Format(time.RFC3339Nano),
			"conditions": states,
		})
		return
	}
	all := s.deps.Metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": all,
		"count":   len(all),
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Log == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.deps.Log.Query(r.Context(), limit)
	resp := map[string]any{"entries": entries, "count": len(entries)}
	if err != nil {
		if !errors.Is(err, eventlog.ErrDegraded) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["degraded"] = true
	}
	if entries == nil {
		resp["entries"] = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Log == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Log.Clear(r.Context()); err != nil {
		if s.logger != nil {
			s.logger.Error("log clear failed", "err", err)
		}
		if s.deps.Notices != nil {
			s.deps.Notices.Error("log", err.Error())
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var list []model.Prompt
	if s.deps.Board != nil {
		list = s.deps.Board.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": list, "count": len(list)})
}

// handlePromptAck serves POST /prompts/<condition>/ack[?source=].
func (s *Server) handlePromptAck(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/prompts/")
	condition, action, ok := strings.Cut(rest, "/")
	if !ok || action != "ack" || condition == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Board == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	closed, err := s.deps.Board.Ack(r.URL.Query().Get("source"), condition)
	if err != nil {
		if errors.Is(err, alerts.ErrNoPrompt) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("prompt acknowledged", "condition", condition, "closed", len(closed))
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": closed})
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Notices == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notices": []model.Notice{}, "count": 0})
		return
	}
	var list []model.Notice
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Notices.Since(ts)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list = s.deps.Notices.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": list, "count": len(list)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Session == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req struct {
		User string `json:"user"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Session.Login(req.User); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("user logged in", "user", s.deps.Session.Current())
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": s.deps.Session.Current()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Session == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	prev := s.deps.Session.Logout()
	if s.logger != nil && prev != "" {
		s.logger.Info("user logged out", "user", prev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": prev})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Session == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.History())
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, detectionView(s.deps.Config.Get()))
	case http.MethodPost:
		var req detectionUpdate
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		current := s.deps.Config.Get()
		next := *current
		if err := req.apply(&next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := config.ValidateDetection(next.Detection); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.deps.Config.Update(&next); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if s.deps.OnConfig != nil {
			s.deps.OnConfig(&next)
		}
		if s.logger != nil {
			s.logger.Info("detection config updated",
				"alert_threshold", next.Detection.AlertThreshold,
				"reset_interval", next.Detection.ResetInterval,
				"confidence_floor", next.Detection.ConfidenceFloor,
			)
		}
		writeJSON(w, http.StatusOK, detectionView(&next))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (u detectionUpdate) apply(cfg *config.Config) error {
	if u.ConfidenceFloor != nil {
		cfg.Detection.ConfidenceFloor = *u.ConfidenceFloor
	}
	if u.AlertThreshold != nil {
		cfg.Detection.AlertThreshold = *u.AlertThreshold
	}
	if u.ResetInterval != nil {
		d, err := time.ParseDuration(*u.ResetInterval)
		if err != nil {
			return err
		}
		cfg.Detection.ResetInterval = d
	}
	if u.MinAlertGap != nil {
		d, err := time.ParseDuration(*u.MinAlertGap)
		if err != nil {
			return err
		}
		cfg.Detection.MinAlertGap = d
	}
	if u.MaxEntries != nil {
		if *u.MaxEntries <= 0 {
			return errors.New("max_entries must be > 0")
		}
		cfg.Log.MaxEntries = *u.MaxEntries
	}
	return nil
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Control == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !s.deps.Control.Reset() {
		writeError(w, http.StatusServiceUnavailable, errors.New("worker command queue full"))
		return
	}
	if s.deps.Board != nil {
		s.deps.Board.Clear()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
