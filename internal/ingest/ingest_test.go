package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"workwatch/internal/config"
	"workwatch/internal/model"
)

func testManager() *config.Manager {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.Timezone = "UTC"
	return config.NewStaticManager(cfg)
}

func receive(t *testing.T, ch <-chan model.Frame) model.Frame {
	t.Helper()
	select {
	case fr := <-ch:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return model.Frame{}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Frame, 1)
	if !SendNonBlocking(context.Background(), out, model.Frame{Source: "a"}, nil) {
		t.Fatalf("expected first send to succeed")
	}
	if SendNonBlocking(context.Background(), out, model.Frame{Source: "b"}, nil) {
		t.Fatalf("expected full channel to drop")
	}
}

func TestChannelSource(t *testing.T) {
	ch := make(chan model.Frame, 1)
	src := NewChannelSource(ch)
	ch <- model.Frame{Source: "cam1"}
	fr, err := src.Next(context.Background())
	if err != nil || fr.Source != "cam1" {
		t.Fatalf("unexpected %+v %v", fr, err)
	}
	close(ch)
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewChannelSource(make(chan model.Frame)).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRESTFrames(t *testing.T) {
	out := make(chan model.Frame, 4)
	srv := NewRESTServer(context.Background(), testManager(), out, nil)
	body := `[{"source":"cam1","detections":[{"label":"phone","confidence":0.9}]},{"source":"cam1","timestamp":"nope"}]`
	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["accepted"] != 1 || resp["failed"] != 1 {
		t.Fatalf("unexpected response %v", resp)
	}
	fr := receive(t, out)
	if fr.Ingest != "rest" || len(fr.Detections) != 1 {
		t.Fatalf("unexpected frame %+v", fr)
	}
}

func TestRESTRejects(t *testing.T) {
	srv := NewRESTServer(context.Background(), testManager(), make(chan model.Frame, 1), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewBufferString("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTCPStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	out := make(chan model.Frame, 4)
	ServeTCPStream(ctx, ln, testManager(), NewParser(), out, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("garbage=x\ncam3 person=0.9\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := receive(t, out)
	if fr.Source != "cam3" || fr.Ingest != "tcp_stream" {
		t.Fatalf("unexpected frame %+v", fr)
	}
}

func TestUDP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	out := make(chan model.Frame, 4)
	go ServeUDP(ctx, conn, testManager(), NewParser(), out, nil)

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("cam4 phone=0.8\ncam5 food=0.7")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := receive(t, out); fr.Source != "cam4" {
		t.Fatalf("unexpected frame %+v", fr)
	}
	if fr := receive(t, out); fr.Source != "cam5" {
		t.Fatalf("unexpected frame %+v", fr)
	}
}

func TestTailFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	if err := os.WriteFile(path, []byte(`{"source":"old","labels":["phone"]}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make(chan model.Frame, 4)
	go TailFile(ctx, path, true, testManager(), NewParser(), out, nil)
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString(`{"source":"new","labels":["phone"]}` + "\n")
	_ = f.Close()

	fr := receive(t, out)
	if fr.Source != "new" || fr.Ingest != "file_tail" {
		t.Fatalf("unexpected frame %+v", fr)
	}
}

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumeKafkaUsesKeyAsSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("cam9"), Value: []byte(`{"labels":["drowsy"]}`)},
	}}
	out := make(chan model.Frame, 1)
	go consumeKafka(ctx, reader, testManager(), NewParser(), out, nil)
	fr := receive(t, out)
	if fr.Source != "cam9" || fr.Ingest != "kafka" {
		t.Fatalf("unexpected frame %+v", fr)
	}
}
