package topic

import (
	"fmt"
	"strings"
)

// Topic segments of the device bridge. Brokers in the Cloud IoT Core family
// route on exactly these paths, so they are a wire contract.
const (
	// SuffixConfig carries device configuration pushed by the cloud (Cloud -> Device).
	// Structure: /devices/{deviceID}/config
	SuffixConfig = "config"

	// SuffixCommands carries commands, optionally under subfolders (Cloud -> Device).
	// Structure: /devices/{deviceID}/commands/#
	SuffixCommands = "commands"

	// SuffixEvents carries telemetry events (Device -> Cloud).
	// Structure: /devices/{deviceID}/events[/{subfolder}]
	SuffixEvents = "events"

	// SuffixState carries the device state report (Device -> Cloud).
	// Structure: /devices/{deviceID}/state
	SuffixState = "state"
)

// Builder encapsulates the logic for constructing MQTT topic strings for one device.
type Builder struct {
	deviceID string
}

// NewBuilder creates a new Builder for the given device.
func NewBuilder(deviceID string) *Builder {
	return &Builder{deviceID: deviceID}
}

// Config returns the topic the device subscribes to for configuration updates.
func (b *Builder) Config() string {
	return b.Build(SuffixConfig)
}

// Commands returns the wildcard filter matching every command subfolder.
func (b *Builder) Commands() string {
	return b.Build(SuffixCommands + "/" + MultiWildcard)
}

// IsCommand reports whether topic is one of this device's command topics.
func (b *Builder) IsCommand(topic string) bool {
	prefix := b.Build(SuffixCommands)
	return topic == prefix || strings.HasPrefix(topic, prefix+"/")
}

// Events returns the default telemetry topic.
func (b *Builder) Events() string {
	return b.Build(SuffixEvents)
}

// State returns the device state topic.
func (b *Builder) State() string {
	return b.Build(SuffixState)
}

// Build returns /devices/{deviceID}/{suffix}. Leading slashes of suffix are ignored.
func (b *Builder) Build(suffix string) string {
	return fmt.Sprintf("/devices/%s/%s", b.deviceID, strings.TrimLeft(suffix, "/"))
}
