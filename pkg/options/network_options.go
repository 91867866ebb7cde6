package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*NetworkOptions)(nil)

// NetworkOptions configures network availability detection.
type NetworkOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// ProbeBroker additionally requires a TCP connection to the broker port.
	ProbeBroker  bool          `json:"probe-broker" mapstructure:"probe-broker"`
	ProbeTimeout time.Duration `json:"probe-timeout" mapstructure:"probe-timeout"`
}

func NewNetworkOptions() *NetworkOptions {
	return &NetworkOptions{
		Interval:     5 * time.Second,
		ProbeBroker:  true,
		ProbeTimeout: 3 * time.Second,
	}
}

func (o *NetworkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("--network.interval must be positive"))
	}
	if o.ProbeBroker && o.ProbeTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--network.probe-timeout must be positive"))
	}

	return errors
}

func (o *NetworkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "network.interval", o.Interval, "How often network availability is checked.")
	fs.BoolVar(&o.ProbeBroker, "network.probe-broker", o.ProbeBroker, "Require a TCP connection to the broker before reporting the network as available.")
	fs.DurationVar(&o.ProbeTimeout, "network.probe-timeout", o.ProbeTimeout, "Timeout of the broker TCP probe.")
}
