// Package netwatch reports network availability to the readiness gate.
package netwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/pkg/log"
)

// CheckFunc reports whether the device currently has a usable network.
type CheckFunc func(ctx context.Context) error

// Watcher polls the network and emits NetworkUp/NetworkDown on changes.
type Watcher struct {
	interval time.Duration
	check    CheckFunc
	notifier readiness.Notifier

	up bool
}

// New returns a watcher polling every interval with check.
func New(interval time.Duration, check CheckFunc, notifier readiness.Notifier) *Watcher {
	return &Watcher{interval: interval, check: check, notifier: notifier}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithName("netwatch")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx, logger)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, logger log.Logger) {
	err := w.check(ctx)
	switch {
	case err == nil && !w.up:
		w.up = true
		logger.Info("Network available")
		w.notifier.Notify(readiness.Event{Kind: readiness.NetworkUp})
	case err != nil && w.up:
		w.up = false
		logger.Warn("Network lost", "reason", err.Error())
		w.notifier.Notify(readiness.Event{Kind: readiness.NetworkDown})
	case err != nil:
		logger.Debug("Network not available yet", "reason", err.Error())
	}
}

var errNoAddress = errors.New("no interface with a routable address")

// InterfaceCheck succeeds when an up, non-loopback interface has a global
// unicast address.
func InterfaceCheck(context.Context) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.IsGlobalUnicast() {
				return nil
			}
		}
	}
	return errNoAddress
}

// ProbeCheck succeeds when a TCP connection to addr can be opened.
func ProbeCheck(addr string, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("probe %s: %w", addr, err)
		}
		return conn.Close()
	}
}

// All succeeds when every check succeeds, in order.
func All(checks ...CheckFunc) CheckFunc {
	return func(ctx context.Context) error {
		for _, c := range checks {
			if err := c(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
