package ingest

import (
	"context"
	"log/slog"

	"workwatch/internal/config"
	"workwatch/internal/model"
	"workwatch/internal/normalize"
)

// handleLine parses, normalises and forwards one text record. It reports
// whether a frame was queued.
func handleLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger, ingest, line string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil {
		if logger != nil {
			logger.Warn("frame parse error", "ingest", ingest, "err", err)
		}
		return false
	}
	if fields == nil {
		return false
	}
	fr, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("frame normalize error", "ingest", ingest, "err", err)
		}
		return false
	}
	fr.Ingest = ingest
	return SendNonBlocking(ctx, out, fr, logger)
}
