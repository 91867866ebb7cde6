package mqtt

import (
	"context"
	"fmt"
)

// MessageHandler defines the callback function for processing received MQTT messages.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// ConnectionLostHandler is called at most once per session, from the transport's own
// goroutine, when an established session drops. err carries whatever detail the
// transport had, and may be nil.
type ConnectionLostHandler func(err error)

// Session is a single established broker session. It is never reconnected in place:
// once the connection drops the session is dead and a new one must be dialed,
// usually with fresh credentials.
type Session interface {
	// Subscribe sends a SUBSCRIBE for topic and routes matching messages to handler.
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error

	// Publish sends payload to topic. For QoS 1 and 2 it returns once the broker
	// acknowledged the message. The returned id identifies the delivery in logs.
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) (uint16, error)

	// Disconnect closes the session. The ConnectionLostHandler is not invoked.
	Disconnect(ctx context.Context)
}

// Dialer opens sessions to a broker.
type Dialer interface {
	// Dial connects with cfg and returns after the broker accepted the connection.
	Dial(ctx context.Context, cfg *ClientConfig, onLost ConnectionLostHandler) (Session, error)
}

// NewDialer returns the Dialer for the given protocol version.
func NewDialer(version ProtocolVersion) (Dialer, error) {
	switch version {
	case ProtocolV311:
		return &v311Dialer{}, nil
	case ProtocolV5:
		return &v5Dialer{}, nil
	default:
		return nil, fmt.Errorf("unsupported mqtt protocol version %q", version)
	}
}
