package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/persona/internal/conversation"
	"github.com/MrWong99/persona/pkg/types"
)

// Controller is the command surface the console drives.
type Controller interface {
	Start()
	Stop()
	Cancel()
}

const consoleHelp = "commands: s = start listening, x = stop listening, c = cancel, q = quit"

// Console reads one-letter commands from a line-oriented input and prints
// conversation changes. Render may be called from any goroutine.
type Console struct {
	in  io.Reader
	ctl Controller

	mu   sync.Mutex
	out  io.Writer
	last conversation.Snapshot
	seen bool
}

// NewConsole returns a Console that reads commands from in, applies them to
// ctl and prints to out.
func NewConsole(in io.Reader, out io.Writer, ctl Controller) *Console {
	return &Console{in: in, out: out, ctl: ctl}
}

// Run processes commands until "q", the end of input or ctx is done. A
// blocked read of in is abandoned, not interrupted, when ctx ends.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	c.println(consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("app: read console: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.exec(line); quit {
				return nil
			}
		}
	}
}

func (c *Console) exec(line string) (quit bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "s", "start":
		c.ctl.Start()
	case "x", "stop":
		c.ctl.Stop()
	case "c", "cancel":
		c.ctl.Cancel()
	case "q", "quit", "exit":
		return true
	default:
		c.println(consoleHelp)
	}
	return false
}

// Render prints what changed since the previous snapshot.
func (c *Console) Render(s conversation.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last
	first := !c.seen
	c.last, c.seen = s, true

	if first {
		if !s.RecognitionSupported {
			fmt.Fprintf(c.out, "warning: %s\n", types.KindRecognitionUnsupported.Message())
		}
		if !s.SynthesisSupported {
			fmt.Fprintf(c.out, "warning: %s\n", types.KindSynthesisUnsupported.Message())
		}
	}
	if first || s.State != prev.State {
		fmt.Fprintf(c.out, "[%s]\n", s.State)
	}
	if s.Transcript != "" && s.Transcript != prev.Transcript {
		fmt.Fprintf(c.out, "you: %s\n", s.Transcript)
	}
	if s.Reply != "" && s.Reply != prev.Reply {
		fmt.Fprintf(c.out, "reply: %s\n", s.Reply)
	}
	if s.Err != "" && !s.Err.Unsupported() && (s.Err != prev.Err || s.ErrDetail != prev.ErrDetail) {
		fmt.Fprintf(c.out, "error: %s\n", s.Err.Message())
		if s.ErrDetail != "" {
			fmt.Fprintf(c.out, "  %s\n", s.ErrDetail)
		}
	}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
