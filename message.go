package wire

// MessageType is the single-byte discriminant that follows the length
// prefix in every frame. The two message families reuse discriminant
// values with incompatible header layouts, so a discriminant alone does
// not identify a schema; see Family.
type MessageType uint8

// Wire discriminants.
const (
	TypeLoginRequest  MessageType = 1
	TypeLoginResponse MessageType = 2
	TypeSubmitOrder   MessageType = 1
	TypeOrderResponse MessageType = 4
	TypeHeartbeat     MessageType = 5
	TypeHeartbeatAck  MessageType = 6
)

// Family identifies which header layout a discriminant belongs to.
// The authentication family and the order family share discriminant
// values but have different fixed-field layouts; the session state
// determines which family the next inbound frame belongs to. Heartbeat
// and HeartbeatAck are header-only and decode the same in either family.
type Family uint8

const (
	// FamilyAuth covers LoginRequest and LoginResponse.
	FamilyAuth Family = iota
	// FamilyOrder covers SubmitOrder and OrderResponse.
	FamilyOrder
)

// Side is the order side.
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

// Order types observed on the wire. The field is caller-defined beyond
// these values.
const (
	OrderTypeMarket uint8 = 0
	OrderTypeLimit  uint8 = 1
)

// Message is the tagged union over protocol message variants.
type Message interface {
	// Type returns the wire discriminant of the message.
	Type() MessageType
	// Family returns the header family the message belongs to.
	Family() Family
}

// LoginRequest carries the authentication token that opens a session.
type LoginRequest struct {
	Token string
}

func (LoginRequest) Type() MessageType { return TypeLoginRequest }
func (LoginRequest) Family() Family    { return FamilyAuth }

// LoginResponse is the engine's answer to a LoginRequest.
type LoginResponse struct {
	Success bool
	Message string
}

func (LoginResponse) Type() MessageType { return TypeLoginResponse }
func (LoginResponse) Family() Family    { return FamilyAuth }

// SubmitOrder submits one order to the engine. Only legal on an
// authenticated session.
type SubmitOrder struct {
	OrderID     string
	UserID      string
	Symbol      string
	Side        Side
	OrderType   uint8
	Quantity    uint32
	Price       float64
	TimestampMs uint64
}

func (SubmitOrder) Type() MessageType { return TypeSubmitOrder }
func (SubmitOrder) Family() Family    { return FamilyOrder }

// OrderResponse is the engine's answer to a SubmitOrder. Its body layout
// is not pinned down beyond the length prefix, so the payload is kept
// opaque and bounded by the frame's declared length. Responses pair with
// orders positionally: the next response frame on the connection answers
// the oldest outstanding order.
type OrderResponse struct {
	Raw []byte
}

func (OrderResponse) Type() MessageType { return TypeOrderResponse }
func (OrderResponse) Family() Family    { return FamilyOrder }

// Heartbeat is the periodic liveness probe. Header-only.
type Heartbeat struct{}

func (Heartbeat) Type() MessageType { return TypeHeartbeat }
func (Heartbeat) Family() Family    { return FamilyOrder }

// HeartbeatAck acknowledges a Heartbeat. Header-only.
type HeartbeatAck struct{}

func (HeartbeatAck) Type() MessageType { return TypeHeartbeatAck }
func (HeartbeatAck) Family() Family    { return FamilyOrder }
