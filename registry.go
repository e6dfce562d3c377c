package wire

import (
	"math"

	pkgerrors "github.com/pkg/errors"
)

// fieldSpec is one fixed-width field in a message header, in wire order.
type fieldSpec struct {
	name  string
	width int
}

// schema describes the wire layout of one message type: the fixed fields
// that follow the discriminant, in declared order, and the variable-length
// fields whose byte lengths are carried by the fixed "<name>_len" fields.
// Opaque schemas keep the body uninterpreted, bounded by the frame length.
type schema struct {
	name     string
	typ      MessageType
	family   Family
	fixed    []fieldSpec
	variable []string
	opaque   bool

	// build constructs the typed message from decoded fields.
	build func(fix map[string]uint64, vars map[string][]byte) (Message, error)
	// extract produces the fixed values (lengths excluded, they are
	// derived) and variable bytes for encoding.
	extract func(m Message) (fix map[string]uint64, vars map[string][]byte, err error)
}

type schemaKey struct {
	family Family
	typ    MessageType
}

// registry maps (family, discriminant) to a schema. The two families
// share the discriminant space with incompatible layouts, so the family
// is part of the key; a single table keyed by discriminant alone would
// conflate LoginRequest and SubmitOrder.
var registry = map[schemaKey]*schema{}

func register(s *schema) {
	registry[schemaKey{s.family, s.typ}] = s
}

func lookupSchema(family Family, typ MessageType) (*schema, bool) {
	s, ok := registry[schemaKey{family, typ}]
	return s, ok
}

func validateOrder(m SubmitOrder) error {
	if m.Side != Buy && m.Side != Sell {
		return pkgerrors.Wrapf(ErrInvalidField, "side %d", m.Side)
	}
	if m.Quantity == 0 {
		return pkgerrors.Wrap(ErrInvalidField, "quantity must be positive")
	}
	if m.Price < 0 || math.IsInf(m.Price, 0) || math.IsNaN(m.Price) {
		return pkgerrors.Wrapf(ErrInvalidField, "price %v", m.Price)
	}
	return nil
}

func init() {
	register(&schema{
		name:     "login_request",
		typ:      TypeLoginRequest,
		family:   FamilyAuth,
		fixed:    []fieldSpec{{"token_len", 4}},
		variable: []string{"token"},
		build: func(fix map[string]uint64, vars map[string][]byte) (Message, error) {
			return LoginRequest{Token: string(vars["token"])}, nil
		},
		extract: func(m Message) (map[string]uint64, map[string][]byte, error) {
			req := m.(LoginRequest)
			return nil, map[string][]byte{"token": []byte(req.Token)}, nil
		},
	})

	register(&schema{
		name:     "login_response",
		typ:      TypeLoginResponse,
		family:   FamilyAuth,
		fixed:    []fieldSpec{{"success", 1}, {"message_len", 4}},
		variable: []string{"message"},
		build: func(fix map[string]uint64, vars map[string][]byte) (Message, error) {
			return LoginResponse{
				Success: fix["success"] != 0,
				Message: string(vars["message"]),
			}, nil
		},
		extract: func(m Message) (map[string]uint64, map[string][]byte, error) {
			resp := m.(LoginResponse)
			var success uint64
			if resp.Success {
				success = 1
			}
			return map[string]uint64{"success": success},
				map[string][]byte{"message": []byte(resp.Message)}, nil
		},
	})

	register(&schema{
		name:   "submit_order",
		typ:    TypeSubmitOrder,
		family: FamilyOrder,
		fixed: []fieldSpec{
			{"order_id_len", 4},
			{"user_id_len", 4},
			{"symbol_len", 4},
			{"side", 1},
			{"order_type", 1},
			{"quantity", 4},
			{"price", 8},
			{"timestamp_ms", 8},
		},
		variable: []string{"order_id", "user_id", "symbol"},
		build: func(fix map[string]uint64, vars map[string][]byte) (Message, error) {
			order := SubmitOrder{
				OrderID:     string(vars["order_id"]),
				UserID:      string(vars["user_id"]),
				Symbol:      string(vars["symbol"]),
				Side:        Side(fix["side"]),
				OrderType:   uint8(fix["order_type"]),
				Quantity:    uint32(fix["quantity"]),
				Price:       math.Float64frombits(fix["price"]),
				TimestampMs: fix["timestamp_ms"],
			}
			if err := validateOrder(order); err != nil {
				return nil, err
			}
			return order, nil
		},
		extract: func(m Message) (map[string]uint64, map[string][]byte, error) {
			order := m.(SubmitOrder)
			if err := validateOrder(order); err != nil {
				return nil, nil, err
			}
			fix := map[string]uint64{
				"side":         uint64(order.Side),
				"order_type":   uint64(order.OrderType),
				"quantity":     uint64(order.Quantity),
				"price":        math.Float64bits(order.Price),
				"timestamp_ms": order.TimestampMs,
			}
			vars := map[string][]byte{
				"order_id": []byte(order.OrderID),
				"user_id":  []byte(order.UserID),
				"symbol":   []byte(order.Symbol),
			}
			return fix, vars, nil
		},
	})

	register(&schema{
		name:   "order_response",
		typ:    TypeOrderResponse,
		family: FamilyOrder,
		opaque: true,
	})

	// Heartbeats are header-only and legal in both families.
	for _, family := range []Family{FamilyAuth, FamilyOrder} {
		register(&schema{
			name:   "heartbeat",
			typ:    TypeHeartbeat,
			family: family,
			build: func(map[string]uint64, map[string][]byte) (Message, error) {
				return Heartbeat{}, nil
			},
			extract: func(Message) (map[string]uint64, map[string][]byte, error) {
				return nil, nil, nil
			},
		})
		register(&schema{
			name:   "heartbeat_ack",
			typ:    TypeHeartbeatAck,
			family: family,
			build: func(map[string]uint64, map[string][]byte) (Message, error) {
				return HeartbeatAck{}, nil
			},
			extract: func(Message) (map[string]uint64, map[string][]byte, error) {
				return nil, nil, nil
			},
		})
	}
}
