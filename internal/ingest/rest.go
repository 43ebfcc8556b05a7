package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/model"
	"workwatch/internal/normalize"
)

const maxRESTBody = 16 << 20

type RESTServer struct {
	ctx    context.Context
	cfg    *config.Manager
	out    chan<- model.Frame
	logger *slog.Logger
}

func NewRESTServer(ctx context.Context, cfg *config.Manager, out chan<- model.Frame, logger *slog.Logger) *RESTServer {
	return &RESTServer{ctx: ctx, cfg: cfg, out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", s.handleFrames)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// StartREST serves POST /frames until ctx is done. It returns nil when the
// source is disabled.
func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.Frame, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(ctx, cfg, out, logger)
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRESTBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	list, err := ParseJSONList(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := s.cfg.Get()
	accepted, failed, dropped := 0, 0, 0
	for _, fields := range list {
		fr, err := normalize.Normalize(*fields, cfg)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("frame normalize error", "ingest", "rest", "err", err)
			}
			failed++
			continue
		}
		fr.Ingest = "rest"
		if SendNonBlocking(s.ctx, s.out, fr, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
		"dropped":  dropped,
	})
}
