package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *AgentOptions {
	o := NewAgentOptions()
	o.Device.ProjectID = "proj"
	o.Device.Registry = "reg"
	o.Device.DeviceID = "dev-1"
	o.Device.PrivateKeyFile = "/etc/cpeer/rsa_private.pem"
	return o
}

func TestDefaultsRequireDevice(t *testing.T) {
	o := NewAgentOptions()
	require.NoError(t, o.Complete())

	err := o.Validate()
	require.Error(t, err)
	for _, flag := range []string{"device.project-id", "device.registry", "device.id", "device.private-key-file"} {
		assert.Contains(t, err.Error(), flag)
	}
}

func TestValidOptions(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
}

func TestCompleteFillsUsername(t *testing.T) {
	o := validOptions()
	o.Mqtt.Username = ""
	require.NoError(t, o.Complete())
	assert.Equal(t, "unused", o.Mqtt.Username)
}

func TestValidateAggregates(t *testing.T) {
	o := validOptions()
	o.Mqtt.ProtocolVersion = "4"
	o.Failure.Store = "redis"
	o.Log.Format = "xml"

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol version")
	assert.Contains(t, err.Error(), "failure.store")
	assert.Contains(t, err.Error(), "log format")
}

func TestFlagsCoverEveryGroup(t *testing.T) {
	fss := NewAgentOptions().Flags()
	for _, name := range []string{"Device", "MQTT", "Supervisor", "Failure", "Time Sync", "Network", "Report", "HTTP", "Log"} {
		assert.Contains(t, fss.Order, name)
	}
	assert.NotNil(t, fss.FlagSet("Device").Lookup("device.id"))
	assert.NotNil(t, fss.FlagSet("MQTT").Lookup("mqtt.broker"))
}

func TestConfig(t *testing.T) {
	o := validOptions()
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.Device, cfg.DeviceOptions)
	assert.Same(t, o.Mqtt, cfg.MqttOptions)
	assert.Same(t, o.Http, cfg.HttpOptions)

	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, "projects/proj/locations/us-central1/registries/reg/devices/dev-1", id.ClientID())
}
