package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"workwatch/internal/model"
)

const (
	statusOK    = 0
	statusError = 1
	maxReply    = 16 << 20
)

// Process drives an external detector over its stdin and stdout.
//
// Request:  [uint32 BE length][image bytes]
// Response: [uint32 BE length][status byte][body]
//
// A status of 0 carries a JSON array of {"label","confidence"}; a status of
// 1 carries [uint32 BE length][message] describing a per-frame failure.
type Process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	broken bool
}

func NewProcess(command []string) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnavailable)
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, command[0], err)
	}
	return &Process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *Process) Classify(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	if len(frame.Image) == 0 {
		return nil, errors.New("frame carries no image")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken {
		return nil, ErrUnavailable
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := p.exchange(frame.Image)
		done <- result{body, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The stream is out of sync once a reply is abandoned.
		p.broken = true
		p.kill()
		<-done
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
	if res.err != nil {
		p.broken = true
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.err)
	}
	return decodeReply(res.body)
}

func (p *Process) exchange(data []byte) ([]byte, error) {
	if err := binary.Write(p.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(data); err != nil {
		return nil, err
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(p.stdout, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxReply {
		return nil, fmt.Errorf("reply of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(p.stdout, body); err != nil {
		return nil, err
	}
	return body, nil
}

func decodeReply(body []byte) ([]model.Detection, error) {
	if len(body) == 0 {
		return nil, errors.New("empty classifier reply")
	}
	switch body[0] {
	case statusOK:
		var dets []model.Detection
		if err := json.Unmarshal(body[1:], &dets); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		return dets, nil
	case statusError:
		r := bytes.NewReader(body[1:])
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("decode classifier error: %w", err)
		}
		if n > uint32(r.Len()) {
			return nil, fmt.Errorf("decode classifier error: message length %d exceeds reply", n)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("decode classifier error: %w", err)
		}
		return nil, fmt.Errorf("classifier error: %s", msg)
	}
	return nil, fmt.Errorf("unknown classifier status %d", body[0])
}

func (p *Process) kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.stdin.Close()
	_ = p.stdout.Close()
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken = true
	_ = p.stdin.Close()
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}
