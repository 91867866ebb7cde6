package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SupervisorOptions)(nil)

// SupervisorOptions tunes waiting and reconnecting.
type SupervisorOptions struct {
	// ReadinessTimeout bounds each wait for network and clock. Zero waits forever.
	ReadinessTimeout time.Duration `json:"readiness-timeout" mapstructure:"readiness-timeout"`

	InitialBackoff time.Duration `json:"initial-backoff" mapstructure:"initial-backoff"`
	MaxBackoff     time.Duration `json:"max-backoff" mapstructure:"max-backoff"`

	// MaxAttempts bounds consecutive failed connection attempts. Zero retries forever.
	MaxAttempts uint `json:"max-attempts" mapstructure:"max-attempts"`

	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
}

func NewSupervisorOptions() *SupervisorOptions {
	return &SupervisorOptions{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		ReconnectDelay: time.Second,
	}
}

func (o *SupervisorOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.ReadinessTimeout < 0 {
		errors = append(errors, fmt.Errorf("--supervisor.readiness-timeout must not be negative"))
	}
	if o.InitialBackoff <= 0 {
		errors = append(errors, fmt.Errorf("--supervisor.initial-backoff must be positive"))
	}
	if o.MaxBackoff < o.InitialBackoff {
		errors = append(errors, fmt.Errorf("--supervisor.max-backoff (%s) must not be below --supervisor.initial-backoff (%s)", o.MaxBackoff, o.InitialBackoff))
	}
	if o.ReconnectDelay < 0 {
		errors = append(errors, fmt.Errorf("--supervisor.reconnect-delay must not be negative"))
	}

	return errors
}

func (o *SupervisorOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.ReadinessTimeout, "supervisor.readiness-timeout", o.ReadinessTimeout, "How long to wait for network and clock before giving up. 0 waits forever.")
	fs.DurationVar(&o.InitialBackoff, "supervisor.initial-backoff", o.InitialBackoff, "Delay after the first failed connection attempt.")
	fs.DurationVar(&o.MaxBackoff, "supervisor.max-backoff", o.MaxBackoff, "Upper bound of the delay between connection attempts.")
	fs.UintVar(&o.MaxAttempts, "supervisor.max-attempts", o.MaxAttempts, "Consecutive failed connection attempts before giving up. 0 retries forever.")
	fs.DurationVar(&o.ReconnectDelay, "supervisor.reconnect-delay", o.ReconnectDelay, "Pause between a lost session and the next attempt.")
}
