package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"workwatch/internal/alerts"
	"workwatch/internal/api"
	"workwatch/internal/config"
	"workwatch/internal/dispatch"
	"workwatch/internal/engine"
	"workwatch/internal/ingest"
	"workwatch/internal/metrics"
	"workwatch/internal/model"
	"workwatch/internal/pipeline"
	"workwatch/internal/session"
)

var runUser string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the detection stream and dispatch alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runUser, "user", "u", "", "operator name to attribute alerts to until the next login")
	rootCmd.AddCommand(runCmd)
}

func runService(ctx context.Context) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := newLogger(cfg)
	logger.Info("workwatch starting", "version", Version, "config", mgr.Path())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coll, err := metrics.NewCollectors(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	notices := alerts.NewStore(200)
	board := alerts.NewBoard()
	sess := session.New()
	if runUser != "" {
		if err := sess.Login(runUser); err != nil {
			return err
		}
	}

	backend, err := openLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.close(); err != nil {
			logger.Warn("closing event log failed", "err", err)
		}
	}()

	disp := dispatch.New(dispatch.Options{
		Workers:    cfg.Sinks.Async.Workers,
		QueueSize:  cfg.Sinks.Async.QueueSize,
		Timeout:    cfg.Sinks.Async.Timeout,
		Logger:     logger,
		Collectors: coll,
		Notices:    notices,
	})
	closers := registerSinks(ctx, disp, cfg, backend.store, board, notices, logger)
	logger.Info("sinks registered", "sinks", disp.Sinks())

	states := metrics.NewStore(0)
	eng := engine.NewEngine(cfg, logger, states, disp, sess, engine.WithCollectors(coll))

	cls, closeClassifier, err := buildClassifier(cfg.Pipeline)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeClassifier(); err != nil {
			logger.Warn("classifier exited with error", "err", err)
		}
	}()

	frames := make(chan model.Frame, cfg.Ingest.ChannelBuffer)
	worker := pipeline.NewWorker(ingest.NewChannelSource(frames), cls, eng, pipeline.Options{
		ClassifyTimeout:     cfg.Pipeline.ClassifyTimeout,
		MaxClassifyFailures: cfg.Pipeline.MaxClassifyFailures,
		Logger:              logger,
		Collectors:          coll,
		Notices:             notices,
	})
	board.OnAck(func(p model.Prompt) {
		worker.Rearm(p.Source, p.Condition)
	})

	applyConfig := func(c *config.Config) {
		eng.UpdateConfig(c)
		if backend.csv != nil {
			backend.csv.SetMaxEntries(c.Log.MaxEntries)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	parser := ingest.NewParser()
	ingest.StartREST(gctx, mgr, frames, logger)
	ingest.StartTCPStream(gctx, mgr, parser, frames, logger)
	ingest.StartUDP(gctx, mgr, parser, frames, logger)
	ingest.StartFileTail(gctx, mgr, parser, frames, logger)
	ingest.StartKafka(gctx, mgr, parser, frames, logger)
	api.Start(gctx, api.Deps{
		Config:   mgr,
		Metrics:  states,
		Notices:  notices,
		Board:    board,
		Log:      backend.store,
		Session:  sess,
		Control:  worker,
		Sinks:    disp,
		Gatherer: reg,
		OnConfig: applyConfig,
	}, logger, Version)

	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		mgr.Watch(3*time.Second, func(c *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
			applyConfig(c)
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
			notices.Warn("config", err.Error())
		}, gctx.Done())
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := disp.Close(shutdownCtx); err != nil {
		logger.Warn("async sinks did not drain before shutdown", "err", err)
	}
	for _, c := range closers {
		c()
	}

	if runErr != nil {
		if errors.Is(runErr, pipeline.ErrClassifierUnavailable) {
			logger.Error("pipeline stopped", "err", runErr)
		}
		return runErr
	}
	logger.Info("workwatch stopped")
	return nil
}
