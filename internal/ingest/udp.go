package ingest

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

func StartUDP(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return
	}
	udpAddr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", current.Addr)
	}
	go ServeUDP(ctx, conn, cfg, parser, out, logger)
}

// ServeUDP reads datagrams until ctx is done and closes conn on return. A
// datagram may hold several newline separated records.
func ServeUDP(ctx context.Context, conn net.PacketConn, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	defer conn.Close()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if logger != nil {
				logger.Warn("udp read error", "err", err)
			}
			if !BackoffSleep(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			handleLine(ctx, cfg, parser, out, logger, "udp", line)
		}
	}
}
