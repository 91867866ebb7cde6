package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/devicelink/internal/deviceagent"
	"github.com/autopeer-io/devicelink/internal/deviceagent/supervisor"
	"github.com/autopeer-io/devicelink/pkg/app"
	"github.com/autopeer-io/devicelink/pkg/log"
	genericoptions "github.com/autopeer-io/devicelink/pkg/options"
)

type AgentOptions struct {
	Device     *genericoptions.DeviceOptions     `json:"device" mapstructure:"device"`
	Mqtt       *genericoptions.MqttOptions       `json:"mqtt" mapstructure:"mqtt"`
	Supervisor *genericoptions.SupervisorOptions `json:"supervisor" mapstructure:"supervisor"`
	Failure    *genericoptions.FailureOptions    `json:"failure" mapstructure:"failure"`
	TimeSync   *genericoptions.TimeSyncOptions   `json:"timesync" mapstructure:"timesync"`
	Network    *genericoptions.NetworkOptions    `json:"network" mapstructure:"network"`
	Report     *genericoptions.ReportOptions     `json:"report" mapstructure:"report"`
	Http       *genericoptions.HttpOptions       `json:"http" mapstructure:"http"`
	Log        *log.Options                      `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		Device:     genericoptions.NewDeviceOptions(),
		Mqtt:       genericoptions.NewMqttOptions(),
		Supervisor: genericoptions.NewSupervisorOptions(),
		Failure:    genericoptions.NewFailureOptions(),
		TimeSync:   genericoptions.NewTimeSyncOptions(),
		Network:    genericoptions.NewNetworkOptions(),
		Report:     genericoptions.NewReportOptions(),
		Http:       genericoptions.NewHttpOptions(),
		Log:        log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	o.Device.AddFlags(fss.FlagSet("Device"))
	o.Mqtt.AddFlags(fss.FlagSet("MQTT"))
	o.Supervisor.AddFlags(fss.FlagSet("Supervisor"))
	o.Failure.AddFlags(fss.FlagSet("Failure"))
	o.TimeSync.AddFlags(fss.FlagSet("Time Sync"))
	o.Network.AddFlags(fss.FlagSet("Network"))
	o.Report.AddFlags(fss.FlagSet("Report"))
	o.Http.AddFlags(fss.FlagSet("HTTP"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.Mqtt.Username == "" {
		o.Mqtt.Username = supervisor.DefaultUsername
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.Device.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Supervisor.Validate()...)
	errs = append(errs, o.Failure.Validate()...)
	errs = append(errs, o.TimeSync.Validate()...)
	errs = append(errs, o.Network.Validate()...)
	errs = append(errs, o.Report.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*deviceagent.Config, error) {
	return &deviceagent.Config{
		DeviceOptions:     o.Device,
		MqttOptions:       o.Mqtt,
		SupervisorOptions: o.Supervisor,
		FailureOptions:    o.Failure,
		TimeSyncOptions:   o.TimeSync,
		NetworkOptions:    o.Network,
		ReportOptions:     o.Report,
		HttpOptions:       o.Http,
	}, nil
}
