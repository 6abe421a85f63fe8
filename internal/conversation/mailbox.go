package conversation

import (
	"sync"

	"github.com/MrWong99/persona/pkg/speech/capture"
	"github.com/MrWong99/persona/pkg/speech/playback"
)

type messageKind int

const (
	cmdStart messageKind = iota + 1
	cmdStop
	cmdCancel
	cmdSync
	evCapture
	evPlayback
	evReply
)

func (k messageKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdCancel:
		return "cancel"
	case cmdSync:
		return "sync"
	case evCapture:
		return "capture"
	case evPlayback:
		return "playback"
	case evReply:
		return "reply"
	default:
		return "unknown"
	}
}

// message is one entry in the orchestrator's mailbox. Events carry the ID
// of the turn they were produced for; commands carry an ack channel that
// the loop closes once the command has been applied.
type message struct {
	kind messageKind
	turn string
	ack  chan struct{}

	capture  capture.Event
	playback playback.Event
	reply    string
	err      error
}

// mailbox is an unbounded FIFO queue. post never blocks, so adapters may
// post from inside their own critical sections.
type mailbox struct {
	mu    sync.Mutex
	queue []message
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (b *mailbox) post(m message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued so far.
func (b *mailbox) take() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}
