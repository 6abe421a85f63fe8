package playback

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrWong99/persona/pkg/audio"
)

// WriterSpeaker writes PCM to an io.Writer, converting from the synthesizer
// format to the device format.
type WriterSpeaker struct {
	W io.Writer

	// Source is the synthesizer output format. Defaults to 16 kHz mono.
	Source audio.Format

	// Target is the format written to W. Defaults to Source.
	Target audio.Format

	// Realtime holds each chunk for its playback duration so that Stop
	// takes effect at the current position rather than after the whole
	// reply has been buffered.
	Realtime bool
}

var _ Speaker = (*WriterSpeaker)(nil)

// Play implements [Speaker].
func (s *WriterSpeaker) Play(ctx context.Context, chunks <-chan []byte) error {
	src, dst := s.Source, s.Target
	if !src.Valid() {
		src = audio.Mono16k
	}
	if !dst.Valid() {
		dst = src
	}
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if _, err := s.W.Write(audio.Convert(c, src, dst)); err != nil {
				return fmt.Errorf("playback: write: %w", err)
			}
			if s.Realtime {
				if err := sleep(ctx, src.DurationOf(len(c))); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileSpeaker writes each utterance to a file, a FIFO or a device node.
// The file is opened per utterance and truncated unless Append is set.
type FileSpeaker struct {
	Path     string
	Source   audio.Format
	Target   audio.Format
	Realtime bool
	Append   bool
}

var _ Speaker = (*FileSpeaker)(nil)

// Play implements [Speaker].
func (s *FileSpeaker) Play(ctx context.Context, chunks <-chan []byte) error {
	flags := os.O_WRONLY | os.O_CREATE
	if s.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("playback: open speaker: %w", err)
	}
	defer f.Close()

	w := &WriterSpeaker{W: f, Source: s.Source, Target: s.Target, Realtime: s.Realtime}
	return w.Play(ctx, chunks)
}
