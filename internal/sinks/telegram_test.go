package sinks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPI = "https://telegram.test"

func newTelegramForTest(t *testing.T, capture Capturer, snapshotDir string) (*TelegramSink, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	sink, err := NewTelegramSink(TelegramConfig{
		APIURL:      testAPI,
		Token:       "123:secret",
		ChatID:      "42",
		ParseMode:   "Markdown",
		SnapshotDir: snapshotDir,
	}, &http.Client{Transport: mt}, capture, nil)
	require.NoError(t, err)
	return sink, mt
}

type staticCapture struct {
	image []byte
	err   error
	calls int
}

func (c *staticCapture) Capture(context.Context) ([]byte, string, error) {
	c.calls++
	return c.image, "image/png", c.err
}

func TestTelegramSendsPhotoWithCaption(t *testing.T) {
	dir := t.TempDir()
	sink, mt := newTelegramForTest(t, nil, dir)
	var fields map[string]string
	var photo []byte
	mt.RegisterResponder(http.MethodPost, testAPI+"/bot123:secret/sendPhoto",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				return nil, err
			}
			fields = map[string]string{
				"chat_id":    req.FormValue("chat_id"),
				"caption":    req.FormValue("caption"),
				"parse_mode": req.FormValue("parse_mode"),
			}
			f, _, err := req.FormFile("photo")
			if err != nil {
				return nil, err
			}
			photo, _ = io.ReadAll(f)
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	ep := testEpisode()
	ep.Image = []byte("jpeg-bytes")
	ep.ImageType = "image/jpeg"
	require.NoError(t, sink.Deliver(context.Background(), ep))

	assert.Equal(t, 1, mt.GetTotalCallCount())
	assert.Equal(t, "42", fields["chat_id"])
	assert.Equal(t, "Markdown", fields["parse_mode"])
	assert.Equal(t, FormatMessage(ep), fields["caption"])
	assert.Equal(t, []byte("jpeg-bytes"), photo)

	saved, err := os.ReadFile(filepath.Join(dir, "screenshot_20260102_100000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), saved)
}

func TestTelegramUsesCaptureWhenNoImage(t *testing.T) {
	capture := &staticCapture{image: []byte("png-bytes")}
	sink, mt := newTelegramForTest(t, capture, "")
	mt.RegisterResponder(http.MethodPost, testAPI+"/bot123:secret/sendPhoto",
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	require.NoError(t, sink.Deliver(context.Background(), testEpisode()))
	assert.Equal(t, 1, capture.calls)
	assert.Equal(t, 1, mt.GetCallCountInfo()["POST "+testAPI+"/bot123:secret/sendPhoto"])
}

func TestTelegramFallsBackToMessage(t *testing.T) {
	capture := &staticCapture{err: errors.New("no display")}
	sink, mt := newTelegramForTest(t, capture, "")
	var text string
	mt.RegisterResponder(http.MethodPost, testAPI+"/bot123:secret/sendMessage",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseForm(); err != nil {
				return nil, err
			}
			text = req.PostForm.Get("text")
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	ep := testEpisode()
	require.NoError(t, sink.Deliver(context.Background(), ep))
	assert.Equal(t, FormatMessage(ep), text)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestTelegramReportsAPIError(t *testing.T) {
	sink, mt := newTelegramForTest(t, nil, "")
	mt.RegisterResponder(http.MethodPost, testAPI+"/bot123:secret/sendMessage",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`))

	err := sink.Deliver(context.Background(), testEpisode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestTelegramTransportErrorHidesToken(t *testing.T) {
	sink, mt := newTelegramForTest(t, nil, "")
	mt.RegisterResponder(http.MethodPost, testAPI+"/bot123:secret/sendMessage",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	err := sink.Deliver(context.Background(), testEpisode())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestNewTelegramSinkValidates(t *testing.T) {
	_, err := NewTelegramSink(TelegramConfig{ChatID: "1"}, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewTelegramSink(TelegramConfig{Token: "t"}, nil, nil, nil)
	assert.Error(t, err)
}
