// Package deviceagent assembles the device agent: network and clock watchers
// feed the readiness gate, the supervisor keeps the broker session alive, and
// the reporter and HTTP server expose what happened.
package deviceagent

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/identity"
	"github.com/autopeer-io/devicelink/internal/deviceagent/supervisor"
	"github.com/autopeer-io/devicelink/pkg/log"
)

// Runner is a long-running component of the agent.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type Agent struct {
	identity   *identity.Identity
	supervisor *supervisor.Supervisor
	failures   *failure.Accumulator
	runners    []Runner
	closer     io.Closer
}

// Run starts every component and returns when ctx is done or one of them
// fails. A supervisor error, such as exhausted retries, stops the agent.
func (a *Agent) Run(ctx context.Context) error {
	defer func() {
		if err := a.closer.Close(); err != nil {
			log.Error(err, "Failed to close failure store")
		}
	}()

	log.Info("Starting cpeer-device-agent",
		"clientID", a.identity.ClientID(),
		"broker", a.identity.BrokerURI(),
		"failures", a.failures.Snapshot().Mask.String())

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	log.Info("Shutting down cpeer-device-agent.", "state", a.supervisor.State())
	if ctx.Err() != nil {
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "Component failed during shutdown")
		}
		return nil
	}
	return err
}
