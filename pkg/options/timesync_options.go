package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*TimeSyncOptions)(nil)

// TimeSyncOptions configures the SNTP check gating the first connection.
type TimeSyncOptions struct {
	// Enabled queries the server. When false the host clock is trusted as is.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	Server        string        `json:"server" mapstructure:"server"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxOffset     time.Duration `json:"max-offset" mapstructure:"max-offset"`
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
}

func NewTimeSyncOptions() *TimeSyncOptions {
	return &TimeSyncOptions{
		Enabled:       true,
		Server:        "time.google.com",
		Timeout:       5 * time.Second,
		MaxOffset:     30 * time.Second,
		RetryInterval: 2 * time.Second,
	}
}

func (o *TimeSyncOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if o.Server == "" {
		errors = append(errors, fmt.Errorf("--timesync.server is required"))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--timesync.timeout must be positive"))
	}
	if o.MaxOffset < 0 {
		errors = append(errors, fmt.Errorf("--timesync.max-offset must not be negative"))
	}

	return errors
}

func (o *TimeSyncOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "timesync.enabled", o.Enabled, "Confirm the clock with SNTP before connecting. Disable to trust the host clock.")
	fs.StringVar(&o.Server, "timesync.server", o.Server, "SNTP server.")
	fs.DurationVar(&o.Timeout, "timesync.timeout", o.Timeout, "Timeout of a single SNTP query.")
	fs.DurationVar(&o.MaxOffset, "timesync.max-offset", o.MaxOffset, "Largest accepted clock offset. 0 accepts any offset.")
	fs.DurationVar(&o.RetryInterval, "timesync.retry-interval", o.RetryInterval, "Pause between failed SNTP queries.")
}
