package sinks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"workwatch/internal/model"
)

// Clip is a decoded alert sound as interleaved signed 16-bit little endian
// PCM.
type Clip struct {
	Path       string
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

func LoadClip(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, fmt.Errorf("%s: missing format", path)
	}
	frames := len(buf.Data) / buf.Format.NumChannels
	var dur time.Duration
	if buf.Format.SampleRate > 0 {
		dur = time.Duration(frames) * time.Second / time.Duration(buf.Format.SampleRate)
	}
	return &Clip{
		Path:       path,
		PCM:        toS16LE(buf.Data, int(dec.BitDepth)),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Duration:   dur,
	}, nil
}

func toS16LE(samples []int, bitDepth int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		switch {
		case bitDepth == 8:
			s = (s - 128) << 8
		case bitDepth > 16:
			s >>= bitDepth - 16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// Player renders a clip until it ends or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, clip *Clip) error
}

// SoundSink plays the alert clip. Deliver only hands the clip to the
// playback goroutine; a new request cancels the one in flight and starts
// after it has stopped, so at most one playback runs at a time.
type SoundSink struct {
	clip   *Clip
	player Player
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func NewSoundSink(clip *Clip, player Player, logger *slog.Logger) *SoundSink {
	return &SoundSink{clip: clip, player: player, logger: logger}
}

func (s *SoundSink) Name() string { return "sound" }

func (s *SoundSink) Deliver(_ context.Context, ep model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sound sink closed")
	}
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		err := s.player.Play(ctx, s.clip)
		if err != nil && !errors.Is(err, context.Canceled) && s.logger != nil {
			s.logger.Warn("alert sound playback failed", "episode_id", ep.ID, "err", err)
		}
	}()
	return nil
}

// Close stops the current playback and waits for it to end.
func (s *SoundSink) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
