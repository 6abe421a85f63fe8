package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/persona/pkg/audio"
)

// defaultFrame is the audio duration delivered per chunk.
const defaultFrame = 20 * time.Millisecond

// FileMicrophone reads raw PCM from a file, a FIFO or a device node and
// converts it to the recognizer's format. A fresh handle is opened for every
// session, so a FIFO fed by an external recorder yields one recording per
// turn.
type FileMicrophone struct {
	// Path is the file to read.
	Path string

	// Source is the format of the data in Path. Defaults to 16 kHz mono.
	Source audio.Format

	// Target is the format delivered to the recognizer. Defaults to Source.
	Target audio.Format

	// Frame is the audio duration per chunk. Defaults to 20ms.
	Frame time.Duration

	// Realtime paces chunks at playback speed, which a recorded file needs
	// to behave like a live microphone.
	Realtime bool
}

var _ Microphone = (*FileMicrophone)(nil)

// Open implements [Microphone].
func (m *FileMicrophone) Open(ctx context.Context) (<-chan []byte, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}
	return ReaderSource(ctx, f, m.Source, m.Target, m.Frame, m.Realtime), nil
}

// ReaderSource streams PCM from r in frame-sized chunks converted from src
// to dst. r is closed when the stream ends if it implements io.Closer.
func ReaderSource(ctx context.Context, r io.Reader, src, dst audio.Format, frame time.Duration, realtime bool) <-chan []byte {
	if !src.Valid() {
		src = audio.Mono16k
	}
	if !dst.Valid() {
		dst = src
	}
	if frame <= 0 {
		frame = defaultFrame
	}
	size := max(src.BytesFor(frame), src.FrameBytes())

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}

		var tick <-chan time.Time
		if realtime {
			t := time.NewTicker(frame)
			defer t.Stop()
			tick = t.C
		}

		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				if tick != nil {
					select {
					case <-tick:
					case <-ctx.Done():
						return
					}
				}
				select {
				case out <- audio.Convert(buf[:n], src, dst):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("capture: microphone read failed", "err", err)
				}
				return
			}
		}
	}()
	return out
}
