// Package uci owns the lifecycle of one external search-engine process and
// its line-oriented text protocol. The session is a pure protocol pump: it
// knows handshake tokens and line shapes, never chess semantics. Search
// output is forwarded to a single registered listener.
package uci

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	defaultQuitGrace        = 2 * time.Second
)

var (
	ErrProtocolFault     = errors.New("uci: engine transport fault")
	ErrHandshakeTimeout  = errors.New("uci: engine handshake timeout")
	ErrSessionTerminated = errors.New("uci: session terminated")
	ErrNotStarted        = errors.New("uci: session not started")
)

type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateBusy
	StateTerminated
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Listener receives the streaming output of the running search. The session
// holds at most one listener; it is cleared when a terminal best-move line
// arrives and rejected with HandleFault on transport faults or termination.
type Listener interface {
	HandleInfo(line string)
	HandleBestMove(move string)
	HandleFault(err error)
}

type Config struct {
	HandshakeTimeout time.Duration
	QuitGrace        time.Duration
	Logger           *zap.Logger
}

// Session drives one engine process through the handshake and keeps the
// command stream ordered: commands sent before the engine is ready are
// queued FIFO and flushed on the readiness acknowledgement.
type Session struct {
	dial   Dialer
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	tr       Transport
	queue    []string
	listener Listener
	ready    chan struct{}
	done     chan struct{}
	faultErr error
}

func NewSession(dial Dialer, cfg Config) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.QuitGrace <= 0 {
		cfg.QuitGrace = defaultQuitGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{dial: dial, cfg: cfg, logger: logger, state: StateUninitialized}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the engine transport and performs the identification and
// readiness handshake. It blocks until the engine acknowledges readiness,
// the handshake times out, or ctx is cancelled. Start may be called again
// after Terminate or a fault.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateTerminated, StateFaulted:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("uci: start from state %s", state)
	}

	tr, err := s.dial()
	if err != nil {
		s.state = StateFaulted
		s.faultErr = err
		s.mu.Unlock()
		return fmt.Errorf("dial engine: %w", err)
	}

	s.tr = tr
	s.state = StateHandshaking
	s.queue = nil
	s.faultErr = nil
	s.ready = make(chan struct{})
	s.done = make(chan struct{})
	ready, done := s.ready, s.done
	s.mu.Unlock()

	go s.readLoop(tr, done)

	if err := tr.Send("uci"); err != nil {
		s.fault(err)
		return fmt.Errorf("send uci: %w", err)
	}

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-done:
		return s.faultError()
	case <-timer.C:
		s.fault(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		s.fault(ctx.Err())
		return ctx.Err()
	}
}

// EnsureReady blocks the caller until the session is ready or the handshake
// fails.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateBusy:
		s.mu.Unlock()
		return nil
	case StateFaulted:
		err := s.faultErr
		s.mu.Unlock()
		return err
	case StateUninitialized, StateTerminated:
		s.mu.Unlock()
		return ErrNotStarted
	}
	ready, done := s.ready, s.done
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-done:
		return s.faultError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one protocol command. Before the engine is ready the command
// is queued and flushed, in order, upon the readiness acknowledgement.
func (s *Session) Send(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}

	s.mu.Lock()
	switch s.state {
	case StateFaulted:
		err := s.faultErr
		s.mu.Unlock()
		return err
	case StateUninitialized, StateTerminated:
		s.mu.Unlock()
		return ErrNotStarted
	case StateHandshaking:
		s.queue = append(s.queue, cmd)
		s.mu.Unlock()
		return nil
	}
	if s.state == StateReady && isGoCommand(cmd) {
		s.state = StateBusy
	}
	tr := s.tr
	s.mu.Unlock()

	if err := tr.Send(cmd); err != nil {
		s.fault(err)
		return err
	}
	return nil
}

// SetListener registers the receiver for search output, replacing any
// previous one.
func (s *Session) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Session) ClearListener() {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

// Protocol command helpers.

func (s *Session) NewGame() error { return s.Send("ucinewgame") }

func (s *Session) SetOption(name, value string) error {
	return s.Send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// Position selects the position for the next search. Empty and "startpos"
// select the standard initial position.
func (s *Session) Position(fen string) error {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return s.Send("position startpos")
	}
	return s.Send("position fen " + fen)
}

// Go starts a search bounded by depth and/or movetime; with neither bound
// the engine's default depth applies.
func (s *Session) Go(depth, movetimeMillis int) error {
	tokens := []string{"go"}
	if depth > 0 {
		tokens = append(tokens, "depth", strconv.Itoa(depth))
	}
	if movetimeMillis > 0 {
		tokens = append(tokens, "movetime", strconv.Itoa(movetimeMillis))
	}
	return s.Send(strings.Join(tokens, " "))
}

func (s *Session) Stop() error { return s.Send("stop") }

// Terminate asks the engine to quit, force-closes the transport after a
// grace period, rejects the in-flight listener, and leaves the session
// restartable.
func (s *Session) Terminate() error {
	s.mu.Lock()
	if s.state == StateUninitialized || s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateTerminated
	tr := s.tr
	done := s.done
	l := s.listener
	s.listener = nil
	s.queue = nil
	s.mu.Unlock()

	if l != nil {
		l.HandleFault(ErrSessionTerminated)
	}
	if tr == nil {
		return nil
	}
	if prev != StateFaulted {
		_ = tr.Send("quit")
		select {
		case <-done:
		case <-time.After(s.cfg.QuitGrace):
		}
	}
	err := tr.Close()
	select {
	case <-done:
	case <-time.After(s.cfg.QuitGrace):
	}
	s.logger.Info("engine_terminated")
	return err
}

func (s *Session) readLoop(tr Transport, done chan struct{}) {
	for line := range tr.Lines() {
		s.dispatch(strings.TrimSpace(line))
	}
	close(done)
	s.fault(ErrProtocolFault)
}

func (s *Session) dispatch(line string) {
	switch {
	case line == "":
	case strings.Contains(line, "uciok"):
		s.mu.Lock()
		tr := s.tr
		s.mu.Unlock()
		if tr != nil {
			if err := tr.Send("isready"); err != nil {
				s.fault(err)
			}
		}
	case strings.Contains(line, "readyok"):
		s.becomeReady()
	case strings.HasPrefix(line, "info "):
		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l != nil {
			l.HandleInfo(line)
		}
	case strings.HasPrefix(line, "bestmove"):
		move, ok := ParseBestMove(line)
		if !ok {
			return
		}
		s.mu.Lock()
		l := s.listener
		s.listener = nil
		if s.state == StateBusy {
			s.state = StateReady
		}
		s.mu.Unlock()
		if l != nil {
			l.HandleBestMove(move)
		}
	}
}

// becomeReady flips the session to ready on the first readiness ack and
// flushes the queued commands in FIFO order. Later readiness acks (after
// ucinewgame probes) change nothing.
func (s *Session) becomeReady() {
	s.mu.Lock()
	if s.state != StateHandshaking {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	pending := s.queue
	s.queue = nil
	tr := s.tr
	close(s.ready)
	for _, cmd := range pending {
		if s.state == StateReady && isGoCommand(cmd) {
			s.state = StateBusy
		}
		if err := tr.Send(cmd); err != nil {
			s.mu.Unlock()
			s.fault(err)
			return
		}
	}
	s.mu.Unlock()
	s.logger.Debug("engine_ready", zap.Int("flushed", len(pending)))
}

func (s *Session) fault(err error) {
	s.mu.Lock()
	if s.state == StateTerminated || s.state == StateFaulted {
		s.mu.Unlock()
		return
	}
	if err == nil {
		err = ErrProtocolFault
	}
	s.state = StateFaulted
	s.faultErr = err
	l := s.listener
	s.listener = nil
	tr := s.tr
	s.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	if l != nil {
		l.HandleFault(err)
	}
	s.logger.Warn("engine_fault", zap.Error(err))
}

func (s *Session) faultError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultErr != nil {
		return s.faultErr
	}
	return ErrProtocolFault
}

func isGoCommand(cmd string) bool {
	return cmd == "go" || strings.HasPrefix(cmd, "go ")
}
