package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"workwatch/internal/model"
)

// Capturer grabs a screenshot of the monitored station.
type Capturer interface {
	Capture(ctx context.Context) (image []byte, imageType string, err error)
}

// CommandCapturer runs a command that writes an image to stdout.
type CommandCapturer struct {
	Command []string
	Type    string
}

func (c CommandCapturer) Capture(ctx context.Context) ([]byte, string, error) {
	if len(c.Command) == 0 {
		return nil, "", errors.New("empty capture command")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, "", err
	}
	if len(out) == 0 {
		return nil, "", errors.New("capture command produced no image")
	}
	typ := c.Type
	if typ == "" {
		typ = "image/png"
	}
	return out, typ, nil
}

type TelegramConfig struct {
	APIURL       string
	Token        string
	ChatID       string
	ParseMode    string
	CaptureDelay time.Duration
	SnapshotDir  string
}

// TelegramSink posts the episode to a chat through the Bot API: one
// sendPhoto carrying both the image and the text, or sendMessage when no
// image is available. Each episode is sent at most once.
type TelegramSink struct {
	cfg     TelegramConfig
	client  *http.Client
	capture Capturer
	logger  *slog.Logger
}

func NewTelegramSink(cfg TelegramConfig, client *http.Client, capture Capturer, logger *slog.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramSink{cfg: cfg, client: client, capture: capture, logger: logger}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, ep model.Episode) error {
	text := FormatMessage(ep)
	image, imageType := ep.Image, ep.ImageType
	if len(image) == 0 && s.capture != nil {
		var err error
		image, imageType, err = s.captureAfterDelay(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.logger != nil {
				s.logger.Warn("screen capture failed, sending text only", "episode_id", ep.ID, "err", err)
			}
		}
	}
	if len(image) == 0 {
		return s.sendMessage(ctx, text)
	}
	filename := "screenshot_" + ep.Timestamp.Format("20060102_150405") + imageExt(imageType)
	if s.cfg.SnapshotDir != "" {
		if err := saveSnapshot(s.cfg.SnapshotDir, filename, image); err != nil && s.logger != nil {
			s.logger.Warn("saving snapshot failed", "dir", s.cfg.SnapshotDir, "err", err)
		}
	}
	return s.sendPhoto(ctx, text, filename, image)
}

func (s *TelegramSink) captureAfterDelay(ctx context.Context) ([]byte, string, error) {
	if s.cfg.CaptureDelay > 0 {
		timer := time.NewTimer(s.cfg.CaptureDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	return s.capture.Capture(ctx)
}

func (s *TelegramSink) endpoint(method string) string {
	return s.cfg.APIURL + "/bot" + s.cfg.Token + "/" + method
}

func (s *TelegramSink) sendMessage(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", s.cfg.ChatID)
	form.Set("text", text)
	if s.cfg.ParseMode != "" {
		form.Set("parse_mode", s.cfg.ParseMode)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *TelegramSink) sendPhoto(ctx context.Context, caption, filename string, image []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("chat_id", s.cfg.ChatID)
	_ = w.WriteField("caption", caption)
	if s.cfg.ParseMode != "" {
		_ = w.WriteField("parse_mode", s.cfg.ParseMode)
	}
	part, err := w.CreateFormFile("photo", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("sendPhoto"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(req)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSink) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return redactToken(err, s.cfg.Token)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var tr telegramResponse
	_ = json.Unmarshal(data, &tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		desc := tr.Description
		if desc == "" {
			desc = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, desc)
	}
	return nil
}

func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

func imageExt(imageType string) string {
	switch strings.ToLower(imageType) {
	case "image/jpeg", "image/jpg", "jpeg", "jpg":
		return ".jpg"
	}
	return ".png"
}

func saveSnapshot(dir, name string, image []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), image, 0o644)
}
