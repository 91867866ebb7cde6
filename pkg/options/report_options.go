package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ReportOptions)(nil)

// ReportOptions configures the periodic state report.
type ReportOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

func NewReportOptions() *ReportOptions {
	return &ReportOptions{
		Enabled:  true,
		Interval: time.Minute,
	}
}

func (o *ReportOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("--report.interval must be positive"))
	}

	return errors
}

func (o *ReportOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "report.enabled", o.Enabled, "Publish the failure record to the state topic.")
	fs.DurationVar(&o.Interval, "report.interval", o.Interval, "Interval between state reports.")
}
