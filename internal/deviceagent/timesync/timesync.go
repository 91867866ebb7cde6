// Package timesync confirms the wall clock against an SNTP server once the
// network is up and then asserts TimeSynchronized.
package timesync

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/codeGROOVE-dev/retry"

	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/pkg/log"
)

// DefaultServer is queried when none is configured.
const DefaultServer = "time.google.com"

// QueryFunc asks an SNTP server for the current time.
type QueryFunc func(host string, opts ntp.QueryOptions) (*ntp.Response, error)

// Config controls the synchronizer.
type Config struct {
	Server string
	// Timeout bounds a single query.
	Timeout time.Duration
	// MaxOffset is the largest accepted difference between the local clock and
	// the server. Zero accepts any offset.
	MaxOffset time.Duration
	// RetryInterval is the pause between failed queries.
	RetryInterval time.Duration
}

// Syncer emits TimeSynced once.
type Syncer struct {
	cfg      Config
	gate     *readiness.Gate
	notifier readiness.Notifier
	query    QueryFunc
}

// New returns a syncer that waits on gate for the network and reports to notifier.
func New(cfg Config, gate *readiness.Gate, notifier readiness.Notifier) *Syncer {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Syncer{cfg: cfg, gate: gate, notifier: notifier, query: ntp.QueryWithOptions}
}

// Run blocks until the clock is confirmed or ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	logger := log.WithName("timesync").WithValues("server", s.cfg.Server)

	if err := s.gate.WaitUntil(ctx, readiness.NetworkAvailable); err != nil {
		return nil
	}

	var offset, rtt time.Duration
	err := retry.Do(
		func() error {
			resp, err := s.query(s.cfg.Server, ntp.QueryOptions{Timeout: s.cfg.Timeout})
			if err != nil {
				return fmt.Errorf("query %s: %w", s.cfg.Server, err)
			}
			if err := resp.Validate(); err != nil {
				return fmt.Errorf("invalid response from %s: %w", s.cfg.Server, err)
			}
			if s.cfg.MaxOffset > 0 && abs(resp.ClockOffset) > s.cfg.MaxOffset {
				return fmt.Errorf("clock offset %s exceeds %s", resp.ClockOffset, s.cfg.MaxOffset)
			}
			offset, rtt = resp.ClockOffset, resp.RTT
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(s.cfg.RetryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Clock synchronization failed", "attempt", n+1, "error", err.Error())
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("Clock synchronized", "offset", offset, "rtt", rtt)
	s.notifier.Notify(readiness.Event{Kind: readiness.TimeSynced})
	return nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
