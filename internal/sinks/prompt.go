package sinks

import (
	"context"

	"workwatch/internal/alerts"
	"workwatch/internal/model"
)

// PromptSink raises an operator prompt on the board.
type PromptSink struct {
	board *alerts.Board
}

func NewPromptSink(board *alerts.Board) *PromptSink {
	return &PromptSink{board: board}
}

func (s *PromptSink) Name() string { return "prompt" }

func (s *PromptSink) Deliver(_ context.Context, ep model.Episode) error {
	s.board.Raise(ep)
	return nil
}
