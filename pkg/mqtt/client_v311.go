package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/autopeer-io/devicelink/pkg/log"
)

const (
	// v311ProtocolLevel is the CONNECT protocol level for MQTT 3.1.1.
	v311ProtocolLevel = 4

	// disconnectQuiesce is the time in milliseconds to let in-flight work finish.
	disconnectQuiesce = 250
)

// v311Dialer opens MQTT 3.1.1 sessions with paho.mqtt.golang. The library's own
// reconnect logic is disabled because every reconnect needs a new password.
type v311Dialer struct{}

type v311Session struct {
	lossTracker

	client pahomqtt.Client
}

func (d *v311Dialer) Dial(ctx context.Context, cfg *ClientConfig, onLost ConnectionLostHandler) (Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	brokerURL, secure, _ := parseBroker(cfg.BrokerURL) // Already validated

	s := &v311Session{lossTracker: lossTracker{onLost: onLost}}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(pahoBrokerURL(brokerURL, secure))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetProtocolVersion(v311ProtocolLevel)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)
	if secure {
		opts.SetTLSConfig(cfg.tlsConfigFor(brokerURL.Hostname()))
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.lost(err)
	})

	s.client = pahomqtt.NewClient(opts)

	log.Debug("Connecting to MQTT broker", "broker", brokerURL.String(), "clientID", cfg.ClientID, "protocol", ProtocolV311)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := waitToken(ctx, s.client.Connect()); err != nil {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrBrokerConnect, err)
	}

	if err := s.establish(); err != nil {
		s.client.Disconnect(0)
		return nil, err
	}
	return s, nil
}

func (s *v311Session) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(context.Background(), msg.Topic(), msg.Payload())
	})
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if granted, found := st.Result()[topic]; found && granted >= 0x80 {
			return fmt.Errorf("%w: subscribe %s refused", ErrBrokerProtocol, topic)
		}
	}

	log.Info("Subscribed to topic", "topic", topic, "qos", qos)
	return nil
}

func (s *v311Session) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) (uint16, error) {
	if err := checkRequest(topic, qos); err != nil {
		return 0, err
	}
	if s.closed.Load() || !s.client.IsConnectionOpen() {
		return 0, ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retain, payload)
	err := waitToken(ctx, token)

	var id uint16
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		id = pt.MessageID()
	}
	return id, err
}

func (s *v311Session) Disconnect(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
}

// waitToken waits for a paho token to complete or ctx to end.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pahoBrokerURL maps the broker URL onto the schemes paho.mqtt.golang understands.
func pahoBrokerURL(u *url.URL, secure bool) string {
	scheme := "tcp"
	if secure {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
