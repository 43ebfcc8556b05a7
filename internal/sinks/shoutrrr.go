package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"workwatch/internal/model"
)

// ShoutrrrSink sends the episode text to every configured shoutrrr URL
// (Telegram, Discord, Slack, ntfy and others).
type ShoutrrrSink struct {
	sender *router.ServiceRouter
	title  string
}

func NewShoutrrrSink(urls []string, title string, timeout time.Duration) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one shoutrrr url is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSink{sender: sender, title: title}, nil
}

func (s *ShoutrrrSink) Name() string { return "shoutrrr" }

func (s *ShoutrrrSink) Deliver(_ context.Context, ep model.Episode) error {
	params := stypes.Params{}
	if s.title != "" {
		params.SetTitle(s.title)
	}
	for _, err := range s.sender.Send(FormatMessage(ep), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}
