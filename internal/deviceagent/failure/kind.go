package failure

import (
	"fmt"
	"strings"
)

// Kind is a bit set of failure categories.
type Kind uint32

// Bit values match the error code reported in device state.
const (
	// Restart marks a restart with an unacknowledged record still pending.
	Restart Kind = 1 << 0
	JWT     Kind = 1 << 1
	SNTP    Kind = 1 << 2
	MQTT    Kind = 1 << 3
	Timeout Kind = 1 << 4
	WiFi    Kind = 1 << 5
	IP      Kind = 1 << 6
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{Restart, "restart"},
	{JWT, "jwt"},
	{SNTP, "sntp"},
	{MQTT, "mqtt"},
	{Timeout, "timeout"},
	{WiFi, "wifi"},
	{IP, "ip"},
}

func (k Kind) String() string {
	if k == 0 {
		return "none"
	}
	var names []string
	for _, n := range kindNames {
		if k&n.k != 0 {
			names = append(names, n.name)
			k &^= n.k
		}
	}
	if k != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(k)))
	}
	return strings.Join(names, ",")
}

// Has reports whether every bit of other is set in k.
func (k Kind) Has(other Kind) bool {
	return k&other == other
}
