// Package identity holds the registry coordinates of the device and the MQTT
// client identifier derived from them.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultBrokerURI is used when no broker is configured.
const DefaultBrokerURI = "mqtts://us-central1-mqtt.clearblade.com"

// ErrInvalidIdentity is returned when a required coordinate is missing or malformed.
var ErrInvalidIdentity = errors.New("invalid device identity")

// Identity is the immutable description of the device within its cloud registry.
type Identity struct {
	projectID string
	region    string
	registry  string
	deviceID  string
	brokerURI string

	clientID string
}

// New validates the coordinates and derives the client identifier once.
func New(projectID, region, registry, deviceID, brokerURI string) (*Identity, error) {
	fields := []struct{ name, value string }{
		{"project id", projectID},
		{"region", region},
		{"registry", registry},
		{"device id", deviceID},
	}
	for _, f := range fields {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidIdentity, f.name)
		}
		if strings.ContainsAny(f.value, "/#+") {
			return nil, fmt.Errorf("%w: %s %q contains a reserved character", ErrInvalidIdentity, f.name, f.value)
		}
	}

	if brokerURI == "" {
		brokerURI = DefaultBrokerURI
	}

	return &Identity{
		projectID: projectID,
		region:    region,
		registry:  registry,
		deviceID:  deviceID,
		brokerURI: brokerURI,
		clientID: fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
			projectID, region, registry, deviceID),
	}, nil
}

// ProjectID is the cloud project, also the token audience.
func (i *Identity) ProjectID() string { return i.projectID }

func (i *Identity) Region() string   { return i.region }
func (i *Identity) Registry() string { return i.registry }
func (i *Identity) DeviceID() string { return i.deviceID }

// BrokerURI is the broker URL the device connects to.
func (i *Identity) BrokerURI() string { return i.brokerURI }

// ClientID returns projects/{project}/locations/{region}/registries/{registry}/devices/{device}.
func (i *Identity) ClientID() string {
	return i.clientID
}

func (i *Identity) String() string {
	return i.clientID
}
