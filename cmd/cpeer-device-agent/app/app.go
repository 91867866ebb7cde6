package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/devicelink/cmd/cpeer-device-agent/app/options"
	"github.com/autopeer-io/devicelink/pkg/app"
	"github.com/autopeer-io/devicelink/pkg/log"
)

const (
	commandName = "cpeer-device-agent"
	commandDesc = `The Cloupeer Device Agent keeps a device connected to its cloud MQTT bridge.
It waits for the network and a trusted clock, signs a short-lived RS256 token
with the device key, and reconnects with a fresh token whenever the session
drops. Failures are accumulated into a persistent error mask.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch a Cloupeer device agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubCommands(newTokenCommand(opts), newFailuresCommand(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer func() { _ = log.Sync() }()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent(ctx)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
