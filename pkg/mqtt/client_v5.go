package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/devicelink/pkg/log"
)

// v5Dialer opens MQTT 5 sessions with paho.golang. Reconnection is left to the
// caller, so the low level paho client is used instead of autopaho.
type v5Dialer struct{}

type v5Session struct {
	lossTracker

	client *paho.Client

	// paho.golang assigns packet identifiers internally, so deliveries are
	// numbered locally for the caller.
	seq atomic.Uint32

	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func (d *v5Dialer) Dial(ctx context.Context, cfg *ClientConfig, onLost ConnectionLostHandler) (Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	brokerURL, secure, _ := parseBroker(cfg.BrokerURL) // Already validated

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := dialConn(ctx, brokerURL.Host, secure, cfg.tlsConfigFor(brokerURL.Hostname()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerConnect, err)
	}

	s := &v5Session{
		lossTracker: lossTracker{onLost: onLost},
		handlers:    make(map[string]MessageHandler),
	}
	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			s.router,
		},
		OnClientError:      s.onClientError,
		OnServerDisconnect: s.onServerDisconnect,
	})

	log.Debug("Connecting to MQTT broker", "broker", brokerURL.String(), "clientID", cfg.ClientID, "protocol", ProtocolV5)

	ack, err := s.client.Connect(ctx, &paho.Connect{
		KeepAlive:    cfg.KeepAlive,
		ClientID:     cfg.ClientID,
		CleanStart:   true,
		Username:     cfg.Username,
		UsernameFlag: cfg.Username != "",
		Password:     []byte(cfg.Password),
		PasswordFlag: cfg.Password != "",
	})
	if err != nil {
		_ = conn.Close()
		if ack != nil {
			return nil, fmt.Errorf("%w: connack reason %d: %w", ErrBrokerConnect, ack.ReasonCode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrBrokerConnect, err)
	}

	if err := s.establish(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *v5Session) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrNotConnected
	}

	s.mu.Lock()
	s.handlers[topic] = handler
	s.mu.Unlock()

	ack, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}
	for _, reason := range ack.Reasons {
		if reason >= 0x80 {
			return fmt.Errorf("%w: subscribe %s refused with reason %d", ErrBrokerProtocol, topic, reason)
		}
	}

	log.Info("Subscribed to topic", "topic", topic, "qos", qos)
	return nil
}

func (s *v5Session) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) (uint16, error) {
	if err := checkRequest(topic, qos); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, ErrNotConnected
	}

	id := s.nextID()
	resp, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		return id, err
	}
	// 16 = accepted, but there are no subscribers
	if resp != nil && resp.ReasonCode >= 0x80 {
		return id, fmt.Errorf("%w: publish to %s refused with reason %d", ErrBrokerProtocol, topic, resp.ReasonCode)
	}
	return id, nil
}

func (s *v5Session) Disconnect(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		log.Debug("MQTT disconnect returned an error", "err", err)
	}
}

func (s *v5Session) nextID() uint16 {
	for {
		if id := uint16(s.seq.Add(1)); id != 0 {
			return id
		}
	}
}

func (s *v5Session) onClientError(err error) {
	s.lost(err)
}

func (s *v5Session) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT Server requested disconnect", "code", d.ReasonCode, "reason", reason)
	s.lost(fmt.Errorf("%w: server disconnect with reason %d", ErrBrokerProtocol, d.ReasonCode))
}

// router dispatches incoming messages to the registered handlers.
func (s *v5Session) router(p paho.PublishReceived) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := false
	for filter, handler := range s.handlers {
		if topicsMatch(filter, p.Packet.Topic) {
			go handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
			matched = true
		}
	}

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil
}

func dialConn(ctx context.Context, addr string, secure bool, tlsCfg *tls.Config) (net.Conn, error) {
	if secure {
		d := &tls.Dialer{Config: tlsCfg}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
