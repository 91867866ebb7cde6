package mqtt

import "errors"

// Transport errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrBrokerConnect is returned when dialing or the CONNECT exchange fails,
	// including a CONNACK refusal such as bad credentials.
	ErrBrokerConnect = errors.New("mqtt: broker connect failed")

	// ErrBrokerProtocol is returned when the broker answers a request with a
	// failure reason code, or asks the client to disconnect.
	ErrBrokerProtocol = errors.New("mqtt: broker protocol error")

	// ErrNotConnected is returned when attempting operations without a session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidQoS is returned when a QoS level other than 0, 1 or 2 is used.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)

func checkRequest(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	return nil
}
