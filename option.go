package wire

import (
	"time"
)

// ErrorAction defines the action to take when a transport error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger Logger
	clock  func() time.Time

	onMessage func(message Message) error
	// onError is called when a transport error occurs. Protocol errors
	// (framing, decoding, session violations) always disconnect and do
	// not consult this callback.
	onError func(error) ErrorAction

	bufferSize        int           // size of the send channel
	maxFrameSize      int           // maximum declared length of a single frame
	heartbeatInterval time.Duration // how often a Heartbeat probe is sent
	ackTimeout        time.Duration // how long a Heartbeat may go unacknowledged
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the send
// channel buffer. A larger buffer allows more messages to be queued
// before blocking.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// MaxFrameSizeOption returns an Option that sets the maximum declared
// length a single inbound or outbound frame may have. Frames above this
// limit are rejected with ErrFrameTooLarge.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// HeartbeatIntervalOption returns an Option that sets how often the
// connection sends a Heartbeat probe while authenticated.
func HeartbeatIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = interval
	}
}

// AckTimeoutOption returns an Option that sets how long a sent Heartbeat
// may go unacknowledged before the session is closed with
// ErrHeartbeatTimeout.
func AckTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.ackTimeout = timeout
	}
}

// ClockOption returns an Option that sets the clock used for heartbeat
// bookkeeping. Defaults to time.Now; tests inject a fake clock.
func ClockOption(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// OnErrorOption returns an Option that sets the transport error callback.
// Return Disconnect to close the connection, or Continue to suppress the
// error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption returns an Option that sets the message handler
// callback. This callback is required and is invoked for each decoded
// inbound message, in the exact order the frames arrived.
func OnMessageOption(cb func(Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
