package wire

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the send buffer is full and cannot
	// accept more messages. This indicates backpressure; use WriteBlocking
	// or WriteTimeout to wait for buffer space.
	ErrBufferFull = errors.New("send buffer full")
)

// Default configuration values.
const (
	// defaultBufferSize is the default size of the send channel buffer.
	defaultBufferSize = 1
	// defaultMaxFrameSize matches the engine's 8KB frame cap.
	defaultMaxFrameSize = 8192
	// defaultHeartbeatInterval is how often a Heartbeat probe is sent.
	defaultHeartbeatInterval = 5 * time.Second
	// defaultAckTimeout is how long a Heartbeat may go unacknowledged.
	defaultAckTimeout = 15 * time.Second

	// readChunkSize is how much is requested from the socket per read.
	// A single read may complete zero, one or several frames.
	readChunkSize = 4096
)

// Conn is one client connection to the exchange order endpoint. It owns
// the underlying TCP connection, the inbound byte cursor, the codec and
// the session state machine, and runs read, write and heartbeat loops
// for asynchronous communication. All protocol legality checks go
// through the session, so an out-of-state send never produces bytes on
// the wire.
type Conn struct {
	rawConn *net.TCPConn
	cursor  Cursor
	codec   Codec
	session *Session
	logger  Logger

	opts options

	sendMsg     chan []byte
	loginResult chan error
	closed      atomic.Bool
	cancel      context.CancelFunc
}

// NewConn creates a new connection wrapper around the given TCP
// connection. It applies the provided options and validates them before
// returning. Returns an error if the required onMessage handler is
// missing.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.heartbeatInterval <= 0 {
		opts.heartbeatInterval = defaultHeartbeatInterval
	}

	if opts.ackTimeout <= 0 {
		opts.ackTimeout = defaultAckTimeout
	}

	if opts.clock == nil {
		opts.clock = time.Now
	}

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		rawConn:     c,
		session:     NewSession(opts.ackTimeout, opts.clock),
		logger:      opts.logger,
		opts:        opts,
		sendMsg:     make(chan []byte, opts.bufferSize),
		loginResult: make(chan error, 1),
	}
}

// Dial connects to the exchange order endpoint at addr and wraps the
// connection. The returned Conn does nothing until Run is called.
func Dial(addr string, opt ...Option) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	raw, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, err
	}
	conn, err := NewConn(raw, opt...)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// Session exposes the connection's session state machine.
func (c *Conn) Session() *Session {
	return c.session
}

// Run starts the connection's read, write and heartbeat loops and blocks
// until an error occurs or the context is canceled. The connection is
// automatically closed when Run returns; any fatal protocol error is
// recorded as the session's close reason before teardown.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_frame_size", c.opts.maxFrameSize,
		"heartbeat_interval", c.opts.heartbeatInterval,
		"ack_timeout", c.opts.ackTimeout)

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	group.Go(func() error {
		return c.heartbeatLoop(child)
	})

	err := group.Wait()
	c.closeConn(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Close gracefully closes the connection.
// It cancels the loops and closes the underlying TCP connection.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	c.session.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Login sends a LoginRequest and waits for the engine's response. On a
// rejected login the session is closed; the returned error carries the
// engine's message.
func (c *Conn) Login(ctx context.Context, token string) error {
	if err := c.WriteBlocking(ctx, LoginRequest{Token: token}); err != nil {
		return err
	}

	select {
	case err := <-c.loginResult:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitOrder sends one order. Only legal on an authenticated session;
// the response arrives through the message handler. Responses pair with
// orders positionally, so pipelined orders on one connection are answered
// in submission order.
func (c *Conn) SubmitOrder(ctx context.Context, order SubmitOrder) error {
	return c.WriteBlocking(ctx, order)
}

// prepare encodes the message and gates it against the session. Encoding
// comes first: it is pure, so an oversized or invalid message is rejected
// before the session state moves. On any error no bytes are produced.
func (c *Conn) prepare(m Message) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	bytes, err := c.codec.Encode(m)
	if err != nil {
		return nil, err
	}
	if len(bytes) > c.opts.maxFrameSize {
		return nil, pkgerrors.Wrapf(ErrFrameTooLarge, "encoded frame is %d bytes, max %d", len(bytes), c.opts.maxFrameSize)
	}

	if err := c.session.GateSend(m); err != nil {
		return nil, err
	}
	return bytes, nil
}

// noteQueued updates session bookkeeping for a message that reached the
// send queue. Heartbeat liveness starts counting here, not in the gate:
// a probe that was refused by a full buffer never left the process and
// must not be able to time the session out.
func (c *Conn) noteQueued(m Message) {
	if _, ok := m.(Heartbeat); ok {
		c.session.NoteHeartbeatSent()
	}
}

// Write sends a message without blocking (fire-and-forget). The message
// is gated against the session, encoded and queued for sending.
//
// Returns:
//   - nil: message was successfully queued (not yet sent)
//   - ErrBufferFull: send buffer is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - ErrSessionNotAuthenticated / ErrSessionClosed: gated by the session
//   - encoding error: if the codec rejects the message
//
// For guaranteed delivery, use WriteBlocking or WriteTimeout instead.
func (c *Conn) Write(m Message) error {
	bytes, err := c.prepare(m)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		c.noteQueued(m)
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking sends a message, blocking until it is queued or the
// context is canceled. This is the safest write method for guaranteed
// delivery.
func (c *Conn) WriteBlocking(ctx context.Context, m Message) error {
	bytes, err := c.prepare(m)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		c.noteQueued(m)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout sends a message, waiting up to timeout for buffer space.
// Returns ErrBufferFull if the timeout expires first.
func (c *Conn) WriteTimeout(m Message, timeout time.Duration) error {
	bytes, err := c.prepare(m)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- bytes:
		c.noteQueued(m)
		return nil
	case <-time.After(timeout):
		return ErrBufferFull
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop reads from the connection into the cursor and drains every
// complete frame out of it: decode, session check, handler, in exact
// arrival order. Framing and decode errors are fatal; the byte stream
// cannot be trusted to be aligned after one.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.ackTimeout * 2))

			n, err := c.rawConn.Read(buf)
			if n > 0 {
				c.cursor.Append(buf[:n])
				if err := c.drainFrames(); err != nil {
					c.session.Fail(err)
					return err
				}
			}
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					// Liveness is the heartbeat loop's concern.
					continue
				}
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					c.session.Fail(err)
					return err
				}
			}
		}
	}
}

// drainFrames extracts, decodes and dispatches every complete frame
// buffered in the cursor.
func (c *Conn) drainFrames() error {
	for {
		frame, err := TryExtractFrame(&c.cursor, c.opts.maxFrameSize)
		if errors.Is(err, ErrNeedMoreData) {
			return nil
		}
		if err != nil {
			return err
		}

		message, err := c.codec.Decode(frame, c.session.ExpectedFamily())
		if err != nil {
			return err
		}

		if err := c.dispatch(message); err != nil {
			return err
		}
	}
}

// dispatch runs one decoded message through the session and the handler.
func (c *Conn) dispatch(m Message) error {
	if err := c.session.ObserveReceive(m); err != nil {
		return err
	}

	if resp, ok := m.(LoginResponse); ok {
		var result error
		if !resp.Success {
			result = pkgerrors.Wrap(ErrAuthenticationFailed, resp.Message)
		}
		select {
		case c.loginResult <- result:
		default:
		}
		if result != nil {
			return result
		}
	}

	return c.opts.onMessage(m)
}

// writeLoop continuously sends queued frames to the connection.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends one encoded frame with a deadline.
// If an error occurs and onError returns Continue, the error is
// suppressed and writing continues.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.ackTimeout * 2))

	_, err := c.rawConn.Write(data)

	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			c.session.Fail(err)
			return err
		}
	}

	return nil
}

// heartbeatLoop periodically sends a Heartbeat probe while the session is
// authenticated and enforces the acknowledgment timeout. A missed ack is
// the protocol's only disconnect-detection signal.
func (c *Conn) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.session.CheckLiveness(); err != nil {
				if errors.Is(err, ErrHeartbeatTimeout) {
					c.logger.Warn("heartbeat timeout", "addr", c.Addr())
					return err
				}
				// Closed by another loop; let its error win.
				return nil
			}

			if c.session.State() != StateAuthenticated || c.session.HeartbeatOutstanding() {
				continue
			}

			if err := c.Write(Heartbeat{}); err != nil && !errors.Is(err, ErrBufferFull) {
				return err
			}
		}
	}
}

// closeConn marks the connection as closed, records the close reason on
// the session and closes the underlying TCP connection.
func (c *Conn) closeConn(err error) {
	c.closed.Store(true)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.session.Fail(err)
	} else {
		c.session.Close()
	}
	c.rawConn.Close()
}
