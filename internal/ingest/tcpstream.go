package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	ServeTCPStream(ctx, ln, cfg, parser, out, logger)
}

// ServeTCPStream accepts connections on ln until ctx is done. Each connection
// carries one frame record per line.
func ServeTCPStream(ctx context.Context, ln net.Listener, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, parser, out, logger)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRESTBody)
	for scanner.Scan() {
		handleLine(ctx, cfg, parser, out, logger, "tcp_stream", scanner.Text())
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
