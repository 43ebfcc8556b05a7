package sinks

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/gen2brain/malgo"
)

// NativePlayer plays clips on the default output device.
type NativePlayer struct{}

func (NativePlayer) Play(ctx context.Context, clip *Clip) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(clip.Channels)
	cfg.SampleRate = uint32(clip.SampleRate)

	frameSize := 2 * clip.Channels
	finished := make(chan struct{})
	var once sync.Once
	pos := 0
	onSend := func(out, _ []byte, frameCount uint32) {
		want := int(frameCount) * frameSize
		if want > len(out) {
			want = len(out)
		}
		n := copy(out[:want], clip.PCM[pos:])
		pos += n
		for i := n; i < want; i++ {
			out[i] = 0
		}
		if pos >= len(clip.PCM) {
			once.Do(func() { close(finished) })
		}
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return err
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return err
	}
	defer device.Stop() //nolint:errcheck

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandPlayer runs an external player with the clip path appended to the
// arguments.
type CommandPlayer struct {
	Command []string
}

func (p CommandPlayer) Play(ctx context.Context, clip *Clip) error {
	if len(p.Command) == 0 {
		return errors.New("empty player command")
	}
	args := append(append([]string{}, p.Command[1:]...), clip.Path)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
