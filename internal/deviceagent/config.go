package deviceagent

import (
	"context"
	"fmt"
	"io"

	"github.com/autopeer-io/devicelink/internal/deviceagent/credential"
	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/identity"
	"github.com/autopeer-io/devicelink/internal/deviceagent/netwatch"
	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/internal/deviceagent/report"
	"github.com/autopeer-io/devicelink/internal/deviceagent/server"
	"github.com/autopeer-io/devicelink/internal/deviceagent/supervisor"
	"github.com/autopeer-io/devicelink/internal/deviceagent/timesync"
	"github.com/autopeer-io/devicelink/pkg/log"
	"github.com/autopeer-io/devicelink/pkg/mqtt"
	"github.com/autopeer-io/devicelink/pkg/options"
)

type Config struct {
	DeviceOptions     *options.DeviceOptions
	MqttOptions       *options.MqttOptions
	SupervisorOptions *options.SupervisorOptions
	FailureOptions    *options.FailureOptions
	TimeSyncOptions   *options.TimeSyncOptions
	NetworkOptions    *options.NetworkOptions
	ReportOptions     *options.ReportOptions
	HttpOptions       *options.HttpOptions
}

// Identity builds the registry identity of the device.
func (cfg *Config) Identity() (*identity.Identity, error) {
	d := cfg.DeviceOptions
	return identity.New(d.ProjectID, d.Region, d.Registry, d.DeviceID, cfg.MqttOptions.Broker)
}

// OpenFailureStore opens the configured failure record backend. The returned
// closer is never nil.
func (cfg *Config) OpenFailureStore(ctx context.Context) (failure.Store, io.Closer, error) {
	o := cfg.FailureOptions
	switch o.Store {
	case options.FailureStoreFile:
		return failure.NewFileStore(o.Path), nopCloser{}, nil
	case options.FailureStoreSQLite:
		s, err := failure.NewSQLiteStore(ctx, o.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return failure.NewMemoryStore(), nopCloser{}, nil
	}
}

func (cfg *Config) NewAgent(ctx context.Context) (*Agent, error) {
	id, err := cfg.Identity()
	if err != nil {
		return nil, err
	}

	key, err := cfg.DeviceOptions.ReadKey()
	if err != nil {
		return nil, err
	}
	if _, err := credential.ParseSigningKey(key); err != nil {
		// Every issuance will fail and be recorded; keep running so the
		// failure is reported.
		log.Error(err, "Signing key is not usable", "file", cfg.DeviceOptions.PrivateKeyFile)
	}

	tlsConfig, err := cfg.MqttOptions.TLSConfig()
	if err != nil {
		return nil, err
	}
	dialer, err := cfg.MqttOptions.Dialer()
	if err != nil {
		return nil, err
	}

	store, closer, err := cfg.OpenFailureStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure store: %w", err)
	}
	failures := failure.New(ctx, store)

	gate := readiness.NewGate()

	s := cfg.SupervisorOptions
	sup, err := supervisor.New(supervisor.Config{
		Identity:         id,
		SigningKey:       key,
		TokenTTLMinutes:  cfg.DeviceOptions.TokenTTL,
		Username:         cfg.MqttOptions.Username,
		KeepAlive:        cfg.MqttOptions.KeepAlive,
		ConnectTimeout:   cfg.MqttOptions.ConnectTimeout,
		TLSConfig:        tlsConfig,
		ReadinessTimeout: s.ReadinessTimeout,
		InitialBackoff:   s.InitialBackoff,
		MaxBackoff:       s.MaxBackoff,
		MaxAttempts:      s.MaxAttempts,
		ReconnectDelay:   s.ReconnectDelay,
	}, gate, dialer, failures)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	runners := []Runner{sup}

	checks := []netwatch.CheckFunc{netwatch.InterfaceCheck}
	if cfg.NetworkOptions.ProbeBroker {
		addr, err := mqtt.BrokerAddress(id.BrokerURI())
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		checks = append(checks, netwatch.ProbeCheck(addr, cfg.NetworkOptions.ProbeTimeout))
	}
	runners = append(runners, netwatch.New(cfg.NetworkOptions.Interval, netwatch.All(checks...), sup))

	if t := cfg.TimeSyncOptions; t.Enabled {
		runners = append(runners, timesync.New(timesync.Config{
			Server:        t.Server,
			Timeout:       t.Timeout,
			MaxOffset:     t.MaxOffset,
			RetryInterval: t.RetryInterval,
		}, gate, sup))
	} else {
		sup.Notify(readiness.Event{Kind: readiness.TimeSynced})
	}

	if r := cfg.ReportOptions; r.Enabled {
		runners = append(runners, report.New(id.DeviceID(), r.Interval, gate, sup, failures, nil))
	}

	if cfg.HttpOptions.Enabled {
		srv := server.NewServer(cfg.HttpOptions, gate, failures, sup.State)
		runners = append(runners, RunnerFunc(srv.Start))
	}

	return &Agent{
		identity:   id,
		supervisor: sup,
		failures:   failures,
		runners:    runners,
		closer:     closer,
	}, nil
}
