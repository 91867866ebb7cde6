// Package report publishes the failure record to the device state topic.
package report

import (
	"context"
	"encoding/json"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/pkg/log"
	"github.com/autopeer-io/devicelink/pkg/mqtt/topic"
)

// Publisher sends a payload under /devices/{id}/{suffix}.
type Publisher interface {
	Publish(ctx context.Context, suffix string, payload []byte, qos byte, retain bool) (uint16, error)
}

// Snapshotter returns the current failure record.
type Snapshotter interface {
	Snapshot() failure.Record
}

// State is the JSON document published on the state topic.
type State struct {
	DeviceID      string `json:"deviceId"`
	Timestamp     int64  `json:"timestamp"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	ErrorCount    uint32 `json:"errorCount"`
	ErrorCode     uint32 `json:"errorCode"`
	Errors        string `json:"errors,omitempty"`
}

// Reporter periodically publishes State with QoS 1.
type Reporter struct {
	deviceID  string
	interval  time.Duration
	gate      *readiness.Gate
	publisher Publisher
	failures  Snapshotter
	clock     clock.Clock
	started   time.Time
}

func New(deviceID string, interval time.Duration, gate *readiness.Gate, publisher Publisher, failures Snapshotter, c clock.Clock) *Reporter {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Reporter{
		deviceID:  deviceID,
		interval:  interval,
		gate:      gate,
		publisher: publisher,
		failures:  failures,
		clock:     c,
		started:   c.Now(),
	}
}

// Run publishes every interval while the device is online and connected.
func (r *Reporter) Run(ctx context.Context) error {
	logger := log.WithName("report")

	for {
		if err := r.gate.WaitUntil(ctx, readiness.NetworkAvailable|readiness.BrokerConnected); err != nil {
			return nil
		}

		if err := r.publish(ctx); err != nil {
			logger.Warn("Failed to publish state", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.interval):
		}
	}
}

func (r *Reporter) publish(ctx context.Context) error {
	payload, err := json.Marshal(r.state())
	if err != nil {
		return err
	}
	_, err = r.publisher.Publish(ctx, topic.SuffixState, payload, 1, false)
	return err
}

func (r *Reporter) state() State {
	rec := r.failures.Snapshot()
	now := r.clock.Now()
	s := State{
		DeviceID:      r.deviceID,
		Timestamp:     now.Unix(),
		UptimeSeconds: int64(now.Sub(r.started) / time.Second),
		ErrorCount:    rec.Count,
		ErrorCode:     uint32(rec.Mask),
	}
	if rec.Mask != 0 {
		s.Errors = rec.Mask.String()
	}
	return s
}
