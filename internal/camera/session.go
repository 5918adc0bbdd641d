package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// ErrInvalidTransition is returned for a session operation not allowed in the current state
var ErrInvalidTransition = errors.New("invalid camera state transition")

// State is the camera session state
type State int32

const (
	StateIdle State = iota
	StateStarted
	StatePreviewing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StatePreviewing:
		return "previewing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText encodes the state name for JSON status responses
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionStatus is a snapshot of a session
type SessionStatus struct {
	State        State  `json:"state"`
	Device       Device `json:"device"`
	Frames       uint64 `json:"frames"`        // frames forwarded while previewing
	Discarded    uint64 `json:"discarded"`     // frames that arrived outside preview
	SourceErrors uint64 `json:"source_errors"` // reported by sources implementing ErrorCounter
}

// Session drives a Source through Idle -> Started -> Previewing and forwards
// frames to the sink only while previewing. A stopped session is final.
type Session struct {
	mu    sync.Mutex
	state atomic.Int32
	src   Source
	sink  FrameHandler
	log   *logger.Module

	frames    atomic.Uint64
	discarded atomic.Uint64
}

// NewSession creates an idle session
func NewSession(src Source, sink FrameHandler, log *logger.Module) *Session {
	if log == nil {
		log = logger.For("Camera")
	}
	return &Session{src: src, sink: sink, log: log}
}

// State returns the current state
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) error {
	if cur := s.State(); cur != from {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, cur)
	}
	s.state.Store(int32(to))
	s.log.Debug("%s -> %s", from, to)
	return nil
}

// Open starts the source
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.State(); cur != StateIdle {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, cur)
	}
	if err := s.src.Start(ctx, s.handle); err != nil {
		return fmt.Errorf("start %s: %w", s.src.Device().Path, err)
	}
	s.log.Info("Opened %s", s.src.Device())
	return s.transition(StateIdle, StateStarted)
}

// StartPreview begins forwarding frames
func (s *Session) StartPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StateStarted, StatePreviewing)
}

// StopPreview stops forwarding frames but keeps the device open
func (s *Session) StopPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StatePreviewing, StateStarted)
}

// Close stops the source. Closing a stopped session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State()
	if prev == StateStopped {
		return nil
	}
	s.state.Store(int32(StateStopped))

	if prev == StateIdle {
		return nil
	}
	if err := s.src.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", s.src.Device().Path, err)
	}
	s.log.Info("Closed %s (%d frames, %d discarded)", s.src.Device().Path, s.frames.Load(), s.discarded.Load())
	return nil
}

// Status returns a snapshot of the session
func (s *Session) Status() SessionStatus {
	st := SessionStatus{
		State:     s.State(),
		Device:    s.src.Device(),
		Frames:    s.frames.Load(),
		Discarded: s.discarded.Load(),
	}
	if ec, ok := s.src.(ErrorCounter); ok {
		st.SourceErrors = ec.Errors()
	}
	return st
}

func (s *Session) handle(frame *types.RawFrame) {
	if s.State() != StatePreviewing {
		s.discarded.Add(1)
		return
	}
	s.frames.Add(1)
	s.sink(frame)
}
