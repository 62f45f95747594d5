// Package chat holds the client side of the assistant: a conversation state
// machine that drives one streamed request at a time, and an HTTP client for
// the chat gateway.
//
// A Session is an explicitly created value. Callers that need one
// conversation visible across screens pass the same *Session around; nothing
// in this package is global.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/RichardoC/forumtech/internal/models"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrBusy       = errors.New("a request is already in flight")
	ErrEmptyInput = errors.New("input is empty")
	ErrClosed     = errors.New("session is closed")
	// ErrCleared is returned by Submit when Clear or Close discarded the
	// conversation while its request was running.
	ErrCleared = errors.New("conversation was cleared")
)

// ChunkReader yields text fragments in arrival order. Recv returns io.EOF
// once the stream completed normally.
type ChunkReader interface {
	Recv() (string, error)
	Close() error
}

// Streamer opens one streamed completion for a full conversation.
type Streamer interface {
	Stream(ctx context.Context, history []models.Message) (ChunkReader, error)
}

// Snapshot is a copy of the session state safe to hand to a renderer.
type Snapshot struct {
	State    State
	Messages []models.Message
	Input    string
	// Err is the displayable message of the last failure, empty otherwise.
	Err string
}

// Loading reports whether a request is in flight.
func (s Snapshot) Loading() bool {
	return s.State == StateSubmitting || s.State == StateStreaming
}

type Option func(*Session)

// WithObserver registers fn to be called after every transition and every
// received chunk, always outside the lock. Submit notifies from its own
// goroutine while SetInput and Clear notify from their callers, so fn must be
// safe for concurrent use.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

type Session struct {
	streamer Streamer
	observer func(Snapshot)
	logger   *zap.Logger

	mu       sync.Mutex
	input    string
	messages []models.Message
	state    State
	errMsg   string
	cancel   context.CancelFunc
	// gen changes on Clear so a running Submit can tell its conversation is
	// gone.
	gen    uint64
	closed bool
}

func NewSession(streamer Streamer, opts ...Option) *Session {
	s := &Session{
		streamer: streamer,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
	s.notify()
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{State: s.state, Messages: msgs, Input: s.input, Err: s.errMsg}
}

func (s *Session) notify() {
	if s.observer == nil {
		return
	}
	s.observer(s.Snapshot())
}

// Submit sends the current input as a user message and consumes the
// streamed answer. It blocks until the stream ends and returns nil on a
// clean finish. On failure the session is left in StateError with any
// partial answer kept, and the error is returned.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.state == StateSubmitting || s.state == StateStreaming:
		s.mu.Unlock()
		return ErrBusy
	case strings.TrimSpace(s.input) == "":
		s.mu.Unlock()
		return ErrEmptyInput
	}

	s.messages = append(s.messages, models.Message{Role: models.RoleUser, Content: s.input})
	s.input = ""
	s.errMsg = ""
	s.state = StateSubmitting
	history := make([]models.Message, len(s.messages))
	copy(history, s.messages)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	gen := s.gen
	s.mu.Unlock()
	defer cancel()
	s.notify()

	s.logger.Debug("Submitting conversation", zap.Int("messages", len(history)))

	reader, err := s.streamer.Stream(ctx, history)
	if err != nil {
		return s.fail(gen, err)
	}
	defer reader.Close()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrCleared
	}
	// The trailing assistant message stays open while in StateStreaming.
	s.messages = append(s.messages, models.Message{Role: models.RoleAssistant})
	s.state = StateStreaming
	s.mu.Unlock()
	s.notify()

	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return s.finish(gen)
		}
		if err != nil {
			return s.fail(gen, err)
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return ErrCleared
		}
		last := &s.messages[len(s.messages)-1]
		last.Content += chunk
		s.mu.Unlock()
		s.notify()
	}
}

func (s *Session) finish(gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrCleared
	}
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrCleared
	}
	s.state = StateError
	s.errMsg = err.Error()
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Warn("Chat request failed", zap.Error(err))
	s.notify()
	return err
}

// Clear discards the conversation and returns to StateIdle, cancelling any
// request in flight. Clearing an empty idle session does nothing.
func (s *Session) Clear() {
	s.mu.Lock()
	if s.state == StateIdle && len(s.messages) == 0 && s.input == "" && s.errMsg == "" {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
}

// Close tears the session down. A request in flight is cancelled and later
// submissions fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Session) resetLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.messages = nil
	s.input = ""
	s.errMsg = ""
	s.state = StateIdle
}
