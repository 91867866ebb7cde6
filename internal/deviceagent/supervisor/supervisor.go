// Package supervisor drives the broker session of the device: it waits for
// network and clock, issues a fresh credential, connects, and starts over with
// a new credential every time the session drops.
package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/devicelink/internal/deviceagent/credential"
	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/identity"
	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/devicelink/internal/pkg/util/fsm"
	"github.com/autopeer-io/devicelink/pkg/log"
	"github.com/autopeer-io/devicelink/pkg/mqtt"
	"github.com/autopeer-io/devicelink/pkg/mqtt/topic"
)

// ErrRetriesExhausted is returned when every connection attempt failed.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// DefaultUsername is sent as the MQTT username. The broker ignores it and
// authenticates on the token.
const DefaultUsername = "unused"

const eventQueueSize = 64

// Config is the static input of a supervisor.
type Config struct {
	Identity   *identity.Identity
	SigningKey []byte

	// TokenTTLMinutes is the lifetime of every issued token.
	TokenTTLMinutes int

	Username       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config

	// ReadinessTimeout bounds each readiness wait. Zero waits forever.
	ReadinessTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed attempts. Zero retries forever.
	MaxAttempts uint

	// ReconnectDelay is the pause between a lost session and the next attempt.
	ReconnectDelay time.Duration
}

func (c *Config) validate() error {
	if c.Identity == nil {
		return errors.New("identity is required")
	}
	if len(c.SigningKey) == 0 {
		return errors.New("signing key is required")
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("%w: got %d minutes", credential.ErrInvalidTTL, c.TokenTTLMinutes)
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return nil
}

// Handlers receive inbound cloud-to-device messages.
type Handlers struct {
	OnConfig  func(ctx context.Context, payload []byte)
	OnCommand func(ctx context.Context, topic string, payload []byte)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for waits and token expiry. The default issuer
// shares it.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithIssuer replaces the credential issuer.
func WithIssuer(i *credential.Issuer) Option {
	return func(s *Supervisor) { s.issuer = i }
}

func WithHandlers(h Handlers) Option {
	return func(s *Supervisor) { s.handlers = h }
}

func WithLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// sessionContext is the mutable connection state. It is owned by the Run
// goroutine.
type sessionContext struct {
	identity   *identity.Identity
	signingKey []byte

	token      *credential.SignedToken
	lastIssued time.Time

	id         string
	generation uint64
	session    mqtt.Session
}

// activeSession is what Publish needs from other goroutines.
type activeSession struct {
	session    mqtt.Session
	generation uint64
}

// Supervisor owns the broker session.
type Supervisor struct {
	cfg      Config
	gate     *readiness.Gate
	dialer   mqtt.Dialer
	failures *failure.Accumulator
	issuer   *credential.Issuer
	handlers Handlers
	clock    clock.Clock
	log      log.Logger
	topics   *topic.Builder

	fsm *FiniteStateMachine
	sc  sessionContext

	// generation of the newest session dialed.
	generation atomic.Uint64
	active     atomic.Pointer[activeSession]

	events  chan readiness.Event
	stopped chan struct{}
}

// New returns a supervisor that is not running yet.
func New(cfg Config, gate *readiness.Gate, dialer mqtt.Dialer, failures *failure.Accumulator, opts ...Option) (*Supervisor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	if gate == nil || dialer == nil || failures == nil {
		return nil, errors.New("gate, dialer and failure accumulator are required")
	}

	s := &Supervisor{
		cfg:      cfg,
		gate:     gate,
		dialer:   dialer,
		failures: failures,
		clock:    clock.RealClock{},
		log:      log.WithName("supervisor"),
		topics:   topic.NewBuilder(cfg.Identity.DeviceID()),
		events:   make(chan readiness.Event, eventQueueSize),
		stopped:  make(chan struct{}),
		sc: sessionContext{
			identity:   cfg.Identity,
			signingKey: cfg.SigningKey,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.issuer == nil {
		s.issuer = credential.NewIssuer(credential.WithClock(s.clock))
	}
	if s.handlers.OnConfig == nil {
		s.handlers.OnConfig = s.logConfig
	}
	if s.handlers.OnCommand == nil {
		s.handlers.OnCommand = s.logCommand
	}
	s.fsm = NewFiniteStateMachine(s.clock)

	gate.Set(readiness.BrokerDisconnected)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() string {
	return s.fsm.Current()
}

// Notify applies e to the readiness gate and queues it for the supervisor.
// Broker events of a session other than the newest one do not touch the gate.
func (s *Supervisor) Notify(e readiness.Event) {
	switch e.Kind {
	case readiness.BrokerConnectedEvent, readiness.BrokerDisconnectedEvent:
		if e.Session == s.generation.Load() {
			readiness.Apply(s.gate, e)
		}
		// Losing a disconnect would leave the supervisor waiting forever.
		select {
		case s.events <- e:
		case <-s.stopped:
		}
	default:
		readiness.Apply(s.gate, e)
		select {
		case s.events <- e:
		default:
			s.log.Warn("Readiness event queue full, dropping event", "event", e.Kind.String())
		}
	}
	metrics.ReadinessConditions.Set(float64(s.gate.Get()))
}

// Publish sends payload to /devices/{id}/{suffix} on the current session.
// An acknowledged QoS 1 or 2 publish clears the failure record.
func (s *Supervisor) Publish(ctx context.Context, suffix string, payload []byte, qos byte, retain bool) (uint16, error) {
	a := s.active.Load()
	if a == nil {
		metrics.PublishTotal.WithLabelValues(suffix, "failed").Inc()
		return 0, mqtt.ErrNotConnected
	}

	t := s.topics.Build(suffix)
	id, err := a.session.Publish(ctx, t, qos, retain, payload)
	if err != nil {
		metrics.PublishTotal.WithLabelValues(suffix, "failed").Inc()
		return 0, fmt.Errorf("publish to %s: %w", t, err)
	}
	metrics.PublishTotal.WithLabelValues(suffix, "success").Inc()

	if qos > 0 {
		s.log.Debug("Publish acknowledged", "topic", t, "messageID", id)
		s.failures.Reset(ctx)
	}
	return id, nil
}

// Run connects and keeps the device connected until ctx is done, the
// readiness wait times out, or the retry budget is spent.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.stopped)
	ctx = log.NewContext(ctx, s.log)

	if err := s.fire(ctx, EventStart); err != nil {
		return err
	}
	if err := s.awaitReadiness(ctx); err != nil {
		return err
	}
	if err := s.fire(ctx, EventReady); err != nil {
		return err
	}

	for {
		if err := s.establish(ctx); err != nil {
			return err
		}

		lost, err := s.superviseSession(ctx)
		if err != nil {
			s.closeSession(ctx)
			return err
		}

		if err := s.fire(ctx, EventDisconnected); err != nil {
			return err
		}
		if lost.Err != nil {
			s.log.Error(lost.Err, "Broker session lost", "session", s.sc.id)
			s.failures.Record(ctx, failure.MQTT)
		} else {
			s.log.Warn("Broker session closed", "session", s.sc.id)
		}
		s.closeSession(ctx)

		if err := s.sleep(ctx, s.cfg.ReconnectDelay); err != nil {
			return err
		}
		if err := s.fire(ctx, EventReissue); err != nil {
			return err
		}
	}
}

func (s *Supervisor) awaitReadiness(ctx context.Context) error {
	s.log.Info("Waiting for network")
	if err := s.gate.WaitFor(ctx, readiness.NetworkAvailable, s.cfg.ReadinessTimeout); err != nil {
		if errors.Is(err, readiness.ErrReadinessTimeout) {
			s.failures.Record(ctx, failure.Timeout|failure.WiFi)
		}
		return err
	}

	s.log.Info("Waiting for clock synchronization")
	if err := s.gate.WaitFor(ctx, readiness.NetworkAvailable|readiness.TimeSynchronized, s.cfg.ReadinessTimeout); err != nil {
		if errors.Is(err, readiness.ErrReadinessTimeout) {
			s.failures.Record(ctx, failure.Timeout|failure.SNTP)
		}
		return err
	}
	return nil
}

// establish runs issue+connect attempts with backoff until one succeeds.
func (s *Supervisor) establish(ctx context.Context) error {
	var attempts uint
	err := retry.Do(
		func() error {
			attempts++
			return s.attempt(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.MaxAttempts),
		retry.Delay(s.cfg.InitialBackoff),
		retry.MaxDelay(s.cfg.MaxBackoff),
		retry.MaxJitter(s.cfg.InitialBackoff),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("Connection attempt failed", "attempt", n+1, "error", err.Error())
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		s.failures.Record(ctx, failure.Timeout)
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return nil
}

// attempt issues a token and connects with it. It leaves the machine in
// connected on success and in issue_token on failure.
func (s *Supervisor) attempt(ctx context.Context) error {
	tok, err := s.issue(ctx)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("failed").Inc()
		s.failures.Record(ctx, failure.JWT)
		return err
	}
	metrics.TokensIssuedTotal.WithLabelValues("success").Inc()

	if err := s.fire(ctx, EventIssued, tok); err != nil {
		if !fsmutil.IsCanceled(err) {
			return retry.Unrecoverable(err)
		}
		s.failures.Record(ctx, failure.JWT)
		return err
	}
	s.sc.token = tok

	if err := s.connect(ctx); err != nil {
		metrics.ConnectAttemptsTotal.WithLabelValues("failed").Inc()
		s.failures.Record(ctx, failure.MQTT)
		if fireErr := s.fire(ctx, EventConnectFailed); fireErr != nil {
			return retry.Unrecoverable(fireErr)
		}
		return err
	}
	metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	if err := s.fire(ctx, EventConnected); err != nil {
		return retry.Unrecoverable(err)
	}
	return nil
}

// issue returns a token whose iat is strictly after every earlier one.
func (s *Supervisor) issue(ctx context.Context) (*credential.SignedToken, error) {
	for {
		tok, err := s.issuer.Issue(s.sc.identity, s.sc.signingKey, s.cfg.TokenTTLMinutes)
		if err != nil {
			return nil, fmt.Errorf("issue credential: %w", err)
		}
		if s.sc.lastIssued.IsZero() || tok.IssuedAt.After(s.sc.lastIssued) {
			s.sc.lastIssued = tok.IssuedAt
			s.log.Info("Credential issued", "issuedAt", tok.IssuedAt, "expiresAt", tok.ExpiresAt)
			return tok, nil
		}

		wait := s.sc.lastIssued.Add(time.Second).Sub(s.clock.Now())
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil, retry.Unrecoverable(err)
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	gen := s.generation.Add(1)
	sessionID := uuid.NewString()
	logger := s.log.WithValues("session", sessionID, "generation", gen)

	cfg := &mqtt.ClientConfig{
		BrokerURL:      s.sc.identity.BrokerURI(),
		ClientID:       s.sc.identity.ClientID(),
		Username:       s.cfg.Username,
		Password:       s.sc.token.String(),
		KeepAlive:      uint16(s.cfg.KeepAlive / time.Second),
		ConnectTimeout: s.cfg.ConnectTimeout,
		TLSConfig:      s.cfg.TLSConfig,
	}

	logger.Info("Connecting to broker", "broker", cfg.BrokerURL, "clientID", cfg.ClientID)
	start := s.clock.Now()
	session, err := s.dialer.Dial(ctx, cfg, func(err error) {
		s.Notify(readiness.Event{Kind: readiness.BrokerDisconnectedEvent, Session: gen, Err: err})
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	metrics.ConnectLatency.Observe(s.clock.Since(start).Seconds())

	sessCtx := log.NewContext(ctx, logger)
	if err := session.Subscribe(sessCtx, s.topics.Config(), 0, s.dispatchConfig); err != nil {
		session.Disconnect(ctx)
		return fmt.Errorf("subscribe %s: %w", s.topics.Config(), err)
	}
	if err := session.Subscribe(sessCtx, s.topics.Commands(), 0, s.handlers.OnCommand); err != nil {
		session.Disconnect(ctx)
		return fmt.Errorf("subscribe %s: %w", s.topics.Commands(), err)
	}

	s.sc.id = sessionID
	s.sc.generation = gen
	s.sc.session = session
	s.active.Store(&activeSession{session: session, generation: gen})
	readiness.Apply(s.gate, readiness.Event{Kind: readiness.BrokerConnectedEvent, Session: gen})
	metrics.BrokerConnectivityStatus.Set(1)
	metrics.ReadinessConditions.Set(float64(s.gate.Get()))

	logger.Info("Connected to broker", "expiresAt", s.sc.token.ExpiresAt)
	return nil
}

// superviseSession drains events until the current session drops.
func (s *Supervisor) superviseSession(ctx context.Context) (readiness.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return readiness.Event{}, ctx.Err()
		case e := <-s.events:
			switch e.Kind {
			case readiness.BrokerDisconnectedEvent:
				if e.Session != s.sc.generation {
					s.log.Debug("Ignoring disconnect of stale session", "generation", e.Session, "current", s.sc.generation)
					continue
				}
				readiness.Apply(s.gate, e)
				return e, nil
			case readiness.BrokerConnectedEvent:
				if e.Session == s.sc.generation {
					readiness.Apply(s.gate, e)
				}
			case readiness.NetworkDown:
				s.log.Warn("Network down while connected", "session", s.sc.id)
			default:
				s.log.Debug("Readiness event", "event", e.Kind.String())
			}
		}
	}
}

func (s *Supervisor) closeSession(ctx context.Context) {
	s.active.Store(nil)
	if s.sc.session != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		s.sc.session.Disconnect(dctx)
		cancel()
		s.sc.session = nil
	}
	s.sc.token = nil
	s.gate.SetExclusive(readiness.BrokerDisconnected, readiness.BrokerConnected)
	metrics.BrokerConnectivityStatus.Set(0)
	metrics.ReadinessConditions.Set(float64(s.gate.Get()))
}

func (s *Supervisor) fire(ctx context.Context, event string, args ...any) error {
	err := s.fsm.Event(ctx, event, args...)
	if err == nil {
		return nil
	}
	if fsmutil.IsCanceled(err) {
		return fmt.Errorf("transition %q refused in state %s: %w", event, s.fsm.Current(), err)
	}
	if fsmutil.IsRealError(err) {
		return fmt.Errorf("transition %q in state %s: %w", event, s.fsm.Current(), err)
	}
	return nil
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Supervisor) dispatchConfig(ctx context.Context, _ string, payload []byte) {
	s.handlers.OnConfig(ctx, payload)
}

func (s *Supervisor) logConfig(ctx context.Context, payload []byte) {
	log.FromContext(ctx).Info("Received configuration", "bytes", len(payload))
}

func (s *Supervisor) logCommand(ctx context.Context, topic string, payload []byte) {
	log.FromContext(ctx).Info("Received command", "topic", topic, "bytes", len(payload))
}
