package wire

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for liveness tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// authenticate walks a fresh session through a successful login.
func authenticate(t *testing.T, s *Session) {
	t.Helper()

	if err := s.GateSend(LoginRequest{Token: "tok"}); err != nil {
		t.Fatalf("GateSend(LoginRequest) failed: %v", err)
	}
	if err := s.ObserveReceive(LoginResponse{Success: true}); err != nil {
		t.Fatalf("ObserveReceive(LoginResponse) failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", s.State())
	}
}

func TestSession_InitialState(t *testing.T) {
	s := NewSession(time.Second, nil)

	if s.State() != StateUnauthenticated {
		t.Errorf("state = %v, want unauthenticated", s.State())
	}
	if s.Token() != "" {
		t.Errorf("token = %q, want empty", s.Token())
	}
	if s.ExpectedFamily() != FamilyAuth {
		t.Errorf("expected family = %v, want auth", s.ExpectedFamily())
	}
}

func TestSession_LoginFlow(t *testing.T) {
	s := NewSession(time.Second, nil)

	if err := s.GateSend(LoginRequest{Token: "tok"}); err != nil {
		t.Fatalf("GateSend failed: %v", err)
	}
	if s.State() != StateAuthenticating {
		t.Errorf("state = %v, want authenticating", s.State())
	}
	if s.Token() != "tok" {
		t.Errorf("token = %q, want tok", s.Token())
	}
	if s.ExpectedFamily() != FamilyAuth {
		t.Errorf("expected family = %v, want auth while authenticating", s.ExpectedFamily())
	}

	if err := s.ObserveReceive(LoginResponse{Success: true, Message: "ok"}); err != nil {
		t.Fatalf("ObserveReceive failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", s.State())
	}
	if s.ExpectedFamily() != FamilyOrder {
		t.Errorf("expected family = %v, want order once authenticated", s.ExpectedFamily())
	}
}

func TestSession_LoginRejected(t *testing.T) {
	s := NewSession(time.Second, nil)

	if err := s.GateSend(LoginRequest{Token: "bad"}); err != nil {
		t.Fatalf("GateSend failed: %v", err)
	}
	if err := s.ObserveReceive(LoginResponse{Success: false, Message: "invalid token"}); err != nil {
		t.Fatalf("ObserveReceive failed: %v", err)
	}

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if !errors.Is(s.CloseReason(), ErrAuthenticationFailed) {
		t.Errorf("close reason = %v, want ErrAuthenticationFailed", s.CloseReason())
	}
}

func TestSession_SubmitOrderGating(t *testing.T) {
	order := SubmitOrder{OrderID: "O1", UserID: "U1", Symbol: "AAPL", Side: Buy, Quantity: 1, Price: 10}

	s := NewSession(time.Second, nil)
	if err := s.GateSend(order); !errors.Is(err, ErrSessionNotAuthenticated) {
		t.Errorf("unauthenticated: err = %v, want ErrSessionNotAuthenticated", err)
	}

	if err := s.GateSend(LoginRequest{Token: "tok"}); err != nil {
		t.Fatalf("GateSend(LoginRequest) failed: %v", err)
	}
	if err := s.GateSend(order); !errors.Is(err, ErrSessionNotAuthenticated) {
		t.Errorf("authenticating: err = %v, want ErrSessionNotAuthenticated", err)
	}

	if err := s.ObserveReceive(LoginResponse{Success: true}); err != nil {
		t.Fatalf("ObserveReceive failed: %v", err)
	}
	if err := s.GateSend(order); err != nil {
		t.Errorf("authenticated: GateSend failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %v, orders must not change state", s.State())
	}
}

func TestSession_GatingIsRecoverable(t *testing.T) {
	s := NewSession(time.Second, nil)
	order := SubmitOrder{OrderID: "O1", UserID: "U1", Symbol: "AAPL", Side: Buy, Quantity: 1, Price: 10}

	// A rejected send must not poison the session
	if err := s.GateSend(order); !errors.Is(err, ErrSessionNotAuthenticated) {
		t.Fatalf("err = %v, want ErrSessionNotAuthenticated", err)
	}
	if s.State() != StateUnauthenticated {
		t.Errorf("state = %v, want unauthenticated after rejected send", s.State())
	}

	authenticate(t, s)
	if err := s.GateSend(order); err != nil {
		t.Errorf("GateSend after authentication failed: %v", err)
	}
}

func TestSession_DoubleLogin(t *testing.T) {
	s := NewSession(time.Second, nil)
	authenticate(t, s)

	if err := s.GateSend(LoginRequest{Token: "again"}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("err = %v, want ErrUnexpectedMessage", err)
	}
	// The original token stays
	if s.Token() != "tok" {
		t.Errorf("token = %q, want tok", s.Token())
	}
}

func TestSession_UnexpectedLoginResponse(t *testing.T) {
	s := NewSession(time.Second, nil)

	if err := s.ObserveReceive(LoginResponse{Success: true}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("err = %v, want ErrUnexpectedMessage", err)
	}
}

func TestSession_ClosedRejectsEverything(t *testing.T) {
	s := NewSession(time.Second, nil)
	authenticate(t, s)
	s.Fail(errors.New("transport gone"))

	if err := s.GateSend(Heartbeat{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("GateSend: err = %v, want ErrSessionClosed", err)
	}
	if err := s.ObserveReceive(HeartbeatAck{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ObserveReceive: err = %v, want ErrSessionClosed", err)
	}
	if err := s.CheckLiveness(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("CheckLiveness: err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_FailFirstReasonWins(t *testing.T) {
	s := NewSession(time.Second, nil)
	first := errors.New("first")

	s.Fail(first)
	s.Fail(errors.New("second"))

	if s.CloseReason() != first {
		t.Errorf("close reason = %v, want first", s.CloseReason())
	}
}

// sendHeartbeat walks a probe through the full send path: gate, then the
// queued-for-transmission bookkeeping.
func sendHeartbeat(t *testing.T, s *Session) {
	t.Helper()

	if err := s.GateSend(Heartbeat{}); err != nil {
		t.Fatalf("GateSend(Heartbeat) failed: %v", err)
	}
	s.NoteHeartbeatSent()
}

func TestSession_HeartbeatTimeout(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)
	authenticate(t, s)

	sendHeartbeat(t, s)

	// Within the timeout nothing happens
	clock.advance(500 * time.Millisecond)
	if err := s.CheckLiveness(); err != nil {
		t.Fatalf("CheckLiveness within timeout: %v", err)
	}

	// Past the timeout the session closes, exactly once
	clock.advance(time.Second)
	if err := s.CheckLiveness(); !errors.Is(err, ErrHeartbeatTimeout) {
		t.Fatalf("err = %v, want ErrHeartbeatTimeout", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if !errors.Is(s.CloseReason(), ErrHeartbeatTimeout) {
		t.Errorf("close reason = %v, want ErrHeartbeatTimeout", s.CloseReason())
	}

	// The second check reports the closed session, not a second timeout
	if err := s.CheckLiveness(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second check: err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_HeartbeatAckResetsLiveness(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)
	authenticate(t, s)

	sendHeartbeat(t, s)

	clock.advance(900 * time.Millisecond)
	if err := s.ObserveReceive(HeartbeatAck{}); err != nil {
		t.Fatalf("ObserveReceive(HeartbeatAck) failed: %v", err)
	}

	// The probe was acknowledged; no amount of waiting closes the session
	// until a new probe goes unanswered
	clock.advance(time.Hour)
	if err := s.CheckLiveness(); err != nil {
		t.Errorf("CheckLiveness after ack: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", s.State())
	}
}

func TestSession_HeartbeatOutstanding(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)
	authenticate(t, s)

	if s.HeartbeatOutstanding() {
		t.Error("outstanding before any probe sent")
	}

	sendHeartbeat(t, s)
	if !s.HeartbeatOutstanding() {
		t.Error("probe sent but not outstanding")
	}

	clock.advance(100 * time.Millisecond)
	if err := s.ObserveReceive(HeartbeatAck{}); err != nil {
		t.Fatalf("ObserveReceive(HeartbeatAck) failed: %v", err)
	}
	if s.HeartbeatOutstanding() {
		t.Error("still outstanding after ack")
	}
}

func TestSession_NoHeartbeatNoTimeout(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)
	authenticate(t, s)

	// Liveness only starts counting once a probe was sent
	clock.advance(time.Hour)
	if err := s.CheckLiveness(); err != nil {
		t.Errorf("CheckLiveness with no probe sent: %v", err)
	}
}

func TestSession_GatedButUnqueuedHeartbeat(t *testing.T) {
	// The gate alone does not start the liveness clock. A probe that passes
	// GateSend but never reaches the send queue must not be able to time the
	// session out.
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)
	authenticate(t, s)

	if err := s.GateSend(Heartbeat{}); err != nil {
		t.Fatalf("GateSend(Heartbeat) failed: %v", err)
	}
	if s.HeartbeatOutstanding() {
		t.Error("outstanding without NoteHeartbeatSent")
	}

	clock.advance(time.Hour)
	if err := s.CheckLiveness(); err != nil {
		t.Errorf("CheckLiveness: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", s.State())
	}
}

func TestSession_NoteHeartbeatSentRequiresAuth(t *testing.T) {
	clock := newFakeClock()
	s := NewSession(time.Second, clock.Now)

	s.NoteHeartbeatSent()
	if s.HeartbeatOutstanding() {
		t.Error("outstanding recorded on an unauthenticated session")
	}
}

func TestSession_HeartbeatGating(t *testing.T) {
	s := NewSession(time.Second, nil)

	if err := s.GateSend(Heartbeat{}); !errors.Is(err, ErrSessionNotAuthenticated) {
		t.Errorf("err = %v, want ErrSessionNotAuthenticated", err)
	}
	if err := s.ObserveReceive(HeartbeatAck{}); !errors.Is(err, ErrSessionNotAuthenticated) {
		t.Errorf("err = %v, want ErrSessionNotAuthenticated", err)
	}
}

func TestSession_EngineSideFlow(t *testing.T) {
	// The mirrored gate: engine receives the login and answers it
	s := NewSession(time.Second, nil)

	if err := s.ObserveReceive(LoginRequest{Token: "tok"}); err != nil {
		t.Fatalf("ObserveReceive(LoginRequest) failed: %v", err)
	}
	if s.State() != StateAuthenticating {
		t.Errorf("state = %v, want authenticating", s.State())
	}
	if s.Token() != "tok" {
		t.Errorf("token = %q, want tok", s.Token())
	}

	if err := s.GateSend(LoginResponse{Success: true, Message: "ok"}); err != nil {
		t.Fatalf("GateSend(LoginResponse) failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", s.State())
	}

	if err := s.ObserveReceive(SubmitOrder{OrderID: "O1", UserID: "U1", Symbol: "AAPL", Side: Buy, Quantity: 1, Price: 1}); err != nil {
		t.Errorf("ObserveReceive(SubmitOrder) failed: %v", err)
	}
	if err := s.GateSend(OrderResponse{Raw: []byte{1}}); err != nil {
		t.Errorf("GateSend(OrderResponse) failed: %v", err)
	}
}

func TestSession_EngineSideLoginRejected(t *testing.T) {
	s := NewSession(time.Second, nil)

	if err := s.ObserveReceive(LoginRequest{Token: "bad"}); err != nil {
		t.Fatalf("ObserveReceive failed: %v", err)
	}
	if err := s.GateSend(LoginResponse{Success: false, Message: "invalid token"}); err != nil {
		t.Fatalf("GateSend failed: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed after rejecting login", s.State())
	}
}

func TestSessionState_String(t *testing.T) {
	cases := map[SessionState]string{
		StateUnauthenticated: "unauthenticated",
		StateAuthenticating:  "authenticating",
		StateAuthenticated:   "authenticated",
		StateClosed:          "closed",
		SessionState(42):     "unknown",
	}

	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", state, got, want)
		}
	}
}
