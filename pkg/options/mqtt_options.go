package options

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/devicelink/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the broker connection. Credentials are
// not configured here: the password is always a freshly issued token.
type MqttOptions struct {
	Broker string `json:"broker" mapstructure:"broker"`

	// ProtocolVersion is "3.1.1" or "5".
	ProtocolVersion string `json:"protocol-version" mapstructure:"protocol-version"`

	// Username is ignored by IoT Core style brokers but must be present.
	Username string `json:"username" mapstructure:"username"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// CAFile is a PEM bundle of trust anchors for the broker. Empty uses the system roots.
	CAFile string `json:"ca-file" mapstructure:"ca-file"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:          "mqtts://us-central1-mqtt.clearblade.com",
		ProtocolVersion: string(mqtt.ProtocolV311),
		Username:        "unused",
		KeepAlive:       60 * time.Second,
		ConnectTimeout:  10 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Broker == "" {
		errors = append(errors, fmt.Errorf("--mqtt.broker is required"))
	}
	if _, err := mqtt.NewDialer(mqtt.ProtocolVersion(o.ProtocolVersion)); err != nil {
		errors = append(errors, err)
	}
	if o.KeepAlive < time.Second || o.KeepAlive > 65535*time.Second {
		errors = append(errors, fmt.Errorf("--mqtt.keep-alive must be between 1s and 65535s, got %s", o.KeepAlive))
	}
	if o.ConnectTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--mqtt.connect-timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker (mqtts://host[:port]).")
	fs.StringVar(&o.ProtocolVersion, "mqtt.protocol-version", o.ProtocolVersion, "MQTT protocol version, '3.1.1' or '5'.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username sent on CONNECT. The broker authenticates on the token only.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.StringVar(&o.CAFile, "mqtt.ca-file", o.CAFile, "PEM file with the CA certificates trusted for the broker.")
}

// Dialer returns the transport for the configured protocol version.
func (o *MqttOptions) Dialer() (mqtt.Dialer, error) {
	return mqtt.NewDialer(mqtt.ProtocolVersion(o.ProtocolVersion))
}

// TLSConfig loads the CA bundle.
func (o *MqttOptions) TLSConfig() (*tls.Config, error) {
	var caPEM []byte
	if o.CAFile != "" {
		data, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		caPEM = data
	}
	return mqtt.NewTLSConfig(caPEM)
}
