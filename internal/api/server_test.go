package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"workwatch/internal/alerts"
	"workwatch/internal/config"
	"workwatch/internal/eventlog"
	"workwatch/internal/metrics"
	"workwatch/internal/model"
	"workwatch/internal/session"
)

type fakeControl struct {
	resets int
}

func (f *fakeControl) Reset() bool {
	f.resets++
	return true
}

type fixture struct {
	srv     http.Handler
	deps    Deps
	control *fakeControl
	applied *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	collectors, err := metrics.NewCollectors(reg)
	if err != nil {
		t.Fatalf("collectors: %v", err)
	}
	collectors.FrameProcessed("cam1")
	f := &fixture{control: &fakeControl{}}
	f.deps = Deps{
		Config:   config.NewStaticManager(config.DefaultConfig()),
		Metrics:  metrics.NewStore(0),
		Notices:  alerts.NewStore(10),
		Board:    alerts.NewBoard(),
		Log:      eventlog.NewCSVLog(filepath.Join(t.TempDir(), "log.csv"), 100, nil),
		Session:  session.New(),
		Control:  f.control,
		Gatherer: reg,
		OnConfig: func(c *config.Config) { f.applied = c },
	}
	f.srv = NewServer(f.deps, nil, "test").Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStatusReportsSessionUser(t *testing.T) {
	f := newFixture(t)
	var st statusResponse
	decode(t, f.do(t, http.MethodGet, "/status", ""), &st)
	if st.User != model.UnknownUser || st.Detection.AlertThreshold != 200 {
		t.Fatalf("unexpected status %+v", st)
	}

	if rec := f.do(t, http.MethodPost, "/session/login", `{"user":"  alice "}`); rec.Code != http.StatusOK {
		t.Fatalf("login status %d", rec.Code)
	}
	decode(t, f.do(t, http.MethodGet, "/status", ""), &st)
	if st.User != "alice" {
		t.Fatalf("user %q", st.User)
	}
	if rec := f.do(t, http.MethodPost, "/session/login", `{"user":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty login status %d", rec.Code)
	}
	f.do(t, http.MethodPost, "/session/logout", "")
	if f.deps.Session.Current() != "" {
		t.Fatalf("expected logout")
	}

	var history []session.Event
	decode(t, f.do(t, http.MethodGet, "/session/history", ""), &history)
	if len(history) != 2 || history[0].Action != "login" || history[1].User != "alice" || history[1].Action != "logout" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestLogListAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		if err := f.deps.Log.Append(ctx, model.LogEntry{TimeDetected: base.Add(time.Duration(i) * time.Second), Cause: "Phone detected!", Name: "bob"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var resp struct {
		Entries []model.LogEntry `json:"entries"`
		Count   int              `json:"count"`
	}
	decode(t, f.do(t, http.MethodGet, "/log?limit=2", ""), &resp)
	if resp.Count != 2 {
		t.Fatalf("count %d", resp.Count)
	}
	if rec := f.do(t, http.MethodGet, "/log?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/log/clear", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear status %d", rec.Code)
	}
	decode(t, f.do(t, http.MethodGet, "/log", ""), &resp)
	if resp.Count != 0 {
		t.Fatalf("expected empty log, got %d", resp.Count)
	}
}

func TestPromptAck(t *testing.T) {
	f := newFixture(t)
	var acked []model.Prompt
	f.deps.Board.OnAck(func(p model.Prompt) { acked = append(acked, p) })
	f.deps.Board.Raise(model.Episode{ID: "e1", Source: "cam1", Condition: "phone", Message: "Phone detected!"})

	var list struct {
		Count int `json:"count"`
	}
	decode(t, f.do(t, http.MethodGet, "/prompts", ""), &list)
	if list.Count != 1 {
		t.Fatalf("prompts %d", list.Count)
	}
	if rec := f.do(t, http.MethodPost, "/prompts/phone/ack?source=cam2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("wrong source status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/prompts/phone/ack", ""); rec.Code != http.StatusOK {
		t.Fatalf("ack status %d", rec.Code)
	}
	if len(acked) != 1 || acked[0].Source != "cam1" {
		t.Fatalf("unexpected ack callback %+v", acked)
	}
	if rec := f.do(t, http.MethodGet, "/prompts/phone/ack", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("get ack status %d", rec.Code)
	}
}

func TestDetectionUpdate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/config/detection", `{"alert_threshold":50,"reset_interval":"30s","max_entries":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}
	got := f.deps.Config.Get()
	if got.Detection.AlertThreshold != 50 || got.Detection.ResetInterval != 30*time.Second || got.Log.MaxEntries != 20 {
		t.Fatalf("config not updated: %+v", got.Detection)
	}
	if f.applied == nil || f.applied.Detection.AlertThreshold != 50 {
		t.Fatalf("OnConfig not called")
	}

	for _, body := range []string{`{"alert_threshold":0}`, `{"reset_interval":"soon"}`, `{"confidence_floor":2}`, `{`} {
		if rec := f.do(t, http.MethodPost, "/config/detection", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d", body, rec.Code)
		}
	}
	if f.deps.Config.Get().Detection.AlertThreshold != 50 {
		t.Fatalf("rejected update must not change config")
	}
}

func TestConditionsAndReset(t *testing.T) {
	f := newFixture(t)
	f.deps.Metrics.Update("cam1", []model.ConditionState{{Source: "cam1", Condition: "phone", Count: 3}})
	if rec := f.do(t, http.MethodGet, "/conditions/cam1", ""); rec.Code != http.StatusOK {
		t.Fatalf("conditions status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/conditions/cam9", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing source status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/admin/reset", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("reset status %d", rec.Code)
	}
	if f.control.resets != 1 {
		t.Fatalf("expected reset to be queued")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "workwatch_frames_processed_total") {
		t.Fatalf("expected frames metric in exposition")
	}
}
