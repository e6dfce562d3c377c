package wire

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Session errors. Send gating errors are local and recoverable: the
// caller may wait for the right state and retry. A closed session stays
// closed.
var (
	// ErrSessionNotAuthenticated is returned when an order message is
	// attempted outside the Authenticated state. Nothing reaches the wire.
	ErrSessionNotAuthenticated = errors.New("session not authenticated")
	// ErrSessionClosed is returned for any send or receive on a closed
	// session.
	ErrSessionClosed = errors.New("session closed")
	// ErrHeartbeatTimeout is reported when no HeartbeatAck arrives within
	// the configured timeout after a Heartbeat was sent.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrUnexpectedMessage is returned when a message is illegal in the
	// session's current state (a login response with no login pending,
	// a second login on a live session). Fatal on the receive path.
	ErrUnexpectedMessage = errors.New("message unexpected in session state")
	// ErrAuthenticationFailed is recorded as the close reason when the
	// engine rejects a login.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// SessionState is the connection's authentication state.
type SessionState int

const (
	// StateUnauthenticated is the initial state of a fresh connection.
	StateUnauthenticated SessionState = iota
	// StateAuthenticating means a login request was sent and the session
	// is waiting for the response.
	StateAuthenticating
	// StateAuthenticated means the engine accepted the login. Order
	// traffic and heartbeats are legal only here.
	StateAuthenticated
	// StateClosed is terminal, reachable from every state.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session tracks one connection's authentication state and heartbeat
// liveness, and gates which message types may be sent or accepted in each
// state. Every send and receive path goes through the same two methods so
// legality is checked in exactly one place. The session never touches the
// transport; when it reaches StateClosed the connection owner is expected
// to tear the transport down.
//
// A session is owned by a single connection and must not be shared across
// connections. The mutex only serializes the connection's own read, write
// and heartbeat goroutines.
type Session struct {
	mu    sync.Mutex
	state SessionState
	token string

	clock      func() time.Time
	ackTimeout time.Duration

	lastHeartbeatSent time.Time
	lastHeartbeatAck  time.Time

	closeReason error
}

// NewSession creates a session in StateUnauthenticated. ackTimeout bounds
// how long a sent Heartbeat may go unacknowledged; clock supplies the
// current time and defaults to time.Now.
func NewSession(ackTimeout time.Duration, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		state:      StateUnauthenticated,
		clock:      clock,
		ackTimeout: ackTimeout,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the token of the current login attempt. It is set when a
// LoginRequest passes the send gate and is read-only until a new attempt
// begins.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// CloseReason returns the error that closed the session, or nil while it
// is still open or was closed without error.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// ExpectedFamily returns the header family the next inbound frame belongs
// to. Until authentication completes the peer speaks the auth family;
// afterwards the order family.
func (s *Session) ExpectedFamily() Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		return FamilyOrder
	}
	return FamilyAuth
}

// GateSend checks that sending m is legal in the current state and
// applies the resulting transition. On error nothing may be transmitted.
func (s *Session) GateSend(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	switch msg := m.(type) {
	case LoginRequest:
		if s.state != StateUnauthenticated {
			return pkgerrors.Wrapf(ErrUnexpectedMessage, "send login request while %s", s.state)
		}
		s.state = StateAuthenticating
		s.token = msg.Token
		return nil
	case LoginResponse:
		// Engine side: answering a pending login.
		if s.state != StateAuthenticating {
			return pkgerrors.Wrapf(ErrUnexpectedMessage, "send login response while %s", s.state)
		}
		if msg.Success {
			s.state = StateAuthenticated
		} else {
			s.closeLocked(ErrAuthenticationFailed)
		}
		return nil
	case SubmitOrder, OrderResponse:
		if s.state != StateAuthenticated {
			return ErrSessionNotAuthenticated
		}
		return nil
	case Heartbeat:
		if s.state != StateAuthenticated {
			return ErrSessionNotAuthenticated
		}
		return nil
	case HeartbeatAck:
		if s.state != StateAuthenticated {
			return ErrSessionNotAuthenticated
		}
		return nil
	}
	return pkgerrors.Wrapf(ErrUnexpectedMessage, "send type %d", m.Type())
}

// ObserveReceive checks that receiving m is legal in the current state
// and applies the resulting transition. A rejected login moves the
// session to StateClosed; the caller notices via State and CloseReason.
func (s *Session) ObserveReceive(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	switch msg := m.(type) {
	case LoginRequest:
		// Engine side: a fresh connection presenting its token.
		if s.state != StateUnauthenticated {
			return pkgerrors.Wrapf(ErrUnexpectedMessage, "login request while %s", s.state)
		}
		s.state = StateAuthenticating
		s.token = msg.Token
		return nil
	case LoginResponse:
		if s.state != StateAuthenticating {
			return pkgerrors.Wrapf(ErrUnexpectedMessage, "login response while %s", s.state)
		}
		if msg.Success {
			s.state = StateAuthenticated
		} else {
			s.closeLocked(ErrAuthenticationFailed)
		}
		return nil
	case SubmitOrder, OrderResponse, Heartbeat:
		if s.state != StateAuthenticated {
			return ErrSessionNotAuthenticated
		}
		return nil
	case HeartbeatAck:
		if s.state != StateAuthenticated {
			return ErrSessionNotAuthenticated
		}
		s.lastHeartbeatAck = s.clock()
		return nil
	}
	return pkgerrors.Wrapf(ErrUnexpectedMessage, "receive type %d", m.Type())
}

// NoteHeartbeatSent starts the liveness clock for a Heartbeat probe.
// Kept separate from GateSend: the gate only rules on legality, and the
// caller records the probe once it has actually been queued for
// transmission. A probe that never made it past a full send buffer must
// not be able to time the session out.
func (s *Session) NoteHeartbeatSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return
	}
	s.lastHeartbeatSent = s.clock()
}

// HeartbeatOutstanding reports whether a sent Heartbeat is still waiting
// for its acknowledgment. The connection sends no new probe while one is
// outstanding; otherwise every probe would restart the liveness clock and
// the timeout could never fire.
func (s *Session) HeartbeatOutstanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastHeartbeatSent.IsZero() && s.lastHeartbeatAck.Before(s.lastHeartbeatSent)
}

// CheckLiveness closes the session if the last sent Heartbeat has gone
// unacknowledged for longer than the configured timeout. The transition
// happens at most once; afterwards ErrSessionClosed is returned.
func (s *Session) CheckLiveness() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.lastHeartbeatSent.IsZero() {
		return nil
	}
	if !s.lastHeartbeatAck.Before(s.lastHeartbeatSent) {
		return nil
	}
	if s.clock().Sub(s.lastHeartbeatSent) < s.ackTimeout {
		return nil
	}

	s.closeLocked(ErrHeartbeatTimeout)
	return ErrHeartbeatTimeout
}

// Fail closes the session recording err as the reason: transport errors,
// decode failures and protocol violations all land here. Idempotent; the
// first reason wins.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(err)
}

// Close moves the session to StateClosed for orderly teardown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(nil)
}

func (s *Session) closeLocked(reason error) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.closeReason = reason
}
