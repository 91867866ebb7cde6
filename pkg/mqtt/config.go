package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ProtocolVersion selects the MQTT protocol spoken on the wire.
type ProtocolVersion string

const (
	// ProtocolV311 is MQTT 3.1.1, the only version Cloud IoT Core style brokers accept.
	ProtocolV311 ProtocolVersion = "3.1.1"

	// ProtocolV5 is MQTT 5.0.
	ProtocolV5 ProtocolVersion = "5"
)

const (
	defaultTLSPort   = "8883"
	defaultPlainPort = "1883"
)

// ClientConfig holds the configuration for a single session attempt.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout bounds dialing plus the CONNECT/CONNACK exchange. Default is 10s.
	ConnectTimeout time.Duration

	// TLSConfig is used for mqtts/ssl/tls brokers. ServerName is filled per dial
	// from the broker host when empty.
	TLSConfig *tls.Config
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if _, _, err := parseBroker(c.BrokerURL); err != nil {
		return err
	}
	return nil
}

// tlsConfigFor returns a copy of the configured TLS settings bound to host.
func (c *ClientConfig) tlsConfigFor(host string) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// parseBroker parses a broker URL, filling in the default port for its scheme.
// The returned bool reports whether the scheme requires TLS.
func parseBroker(raw string) (*url.URL, bool, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false, fmt.Errorf("invalid broker url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return nil, false, fmt.Errorf("broker url %q has no host", raw)
	}

	var secure bool
	var port string
	switch u.Scheme {
	case "mqtts", "ssl", "tls", "tcps":
		secure, port = true, defaultTLSPort
	case "mqtt", "tcp":
		port = defaultPlainPort
	default:
		return nil, false, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, secure, nil
}

// BrokerAddress returns the host:port dialed for the broker URL.
func BrokerAddress(raw string) (string, error) {
	u, _, err := parseBroker(raw)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
