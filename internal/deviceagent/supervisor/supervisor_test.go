package supervisor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devicelink/internal/deviceagent/credential"
	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/identity"
	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/pkg/mqtt"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) []byte {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testKey)})
}

type publishCall struct {
	topic string
	qos   byte
}

type fakeSession struct {
	cfg    *mqtt.ClientConfig
	onLost mqtt.ConnectionLostHandler

	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    []publishCall
	publishErr   error
	disconnected bool
	nextID       uint16
}

func (f *fakeSession) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSession) Publish(_ context.Context, topic string, qos byte, _ bool, _ []byte) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	f.nextID++
	f.published = append(f.published, publishCall{topic: topic, qos: qos})
	return f.nextID, nil
}

func (f *fakeSession) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSession) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func (f *fakeSession) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

type fakeDialer struct {
	mu       sync.Mutex
	configs  []*mqtt.ClientConfig
	failures int // remaining dials to refuse; negative refuses all
	sessions chan *fakeSession
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, sessions: make(chan *fakeSession, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, cfg *mqtt.ClientConfig, onLost mqtt.ConnectionLostHandler) (mqtt.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)

	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, mqtt.ErrBrokerConnect
	}

	s := &fakeSession{cfg: cfg, onLost: onLost, handlers: map[string]mqtt.MessageHandler{}}
	d.sessions <- s
	return s, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func (d *fakeDialer) next(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-d.sessions:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no session dialed")
		return nil
	}
}

func (d *fakeDialer) assertNoDial(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case s := <-d.sessions:
		t.Fatalf("unexpected dial with client id %s", s.cfg.ClientID)
	case <-time.After(wait):
	}
}

type harness struct {
	sup      *Supervisor
	gate     *readiness.Gate
	dialer   *fakeDialer
	failures *failure.Accumulator
}

func newHarness(t *testing.T, dialer *fakeDialer, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	id, err := identity.New("p1", "us-central1", "reg1", "dev-1", "mqtts://broker.example.com")
	require.NoError(t, err)

	cfg := Config{
		Identity:        id,
		SigningKey:      signingKey(t),
		TokenTTLMinutes: 1440,
		KeepAlive:       60 * time.Second,
		ConnectTimeout:  time.Second,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	gate := readiness.NewGate()
	acc := failure.New(context.Background(), failure.NewMemoryStore())
	sup, err := New(cfg, gate, dialer, acc, opts...)
	require.NoError(t, err)
	return &harness{sup: sup, gate: gate, dialer: dialer, failures: acc}
}

func (h *harness) ready() {
	h.sup.Notify(readiness.Event{Kind: readiness.NetworkUp})
	h.sup.Notify(readiness.Event{Kind: readiness.TimeSynced})
}

func (h *harness) run(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func payloadOf(t *testing.T, token string) map[string]any {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestConnectUsesFreshCredential(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)
	h.ready()
	h.run(t)

	sess := h.dialer.next(t)
	assert.Equal(t, "unused", sess.cfg.Username)
	assert.Equal(t, "projects/p1/locations/us-central1/registries/reg1/devices/dev-1", sess.cfg.ClientID)
	assert.Equal(t, "mqtts://broker.example.com", sess.cfg.BrokerURL)
	assert.Equal(t, uint16(60), sess.cfg.KeepAlive)

	claims, err := credential.Verify(sess.cfg.Password, &testKey.PublicKey, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.Audience)
	assert.Equal(t, int64(86400), claims.ExpiresAt-claims.IssuedAt)

	require.Eventually(t, func() bool {
		return h.gate.Has(readiness.BrokerConnected) && h.sup.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.gate.Has(readiness.BrokerDisconnected))

	assert.NotNil(t, sess.handler("/devices/dev-1/config"))
	assert.NotNil(t, sess.handler("/devices/dev-1/commands/#"))
}

func TestWaitsForNetworkAndClock(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)
	h.run(t)

	h.dialer.assertNoDial(t, 50*time.Millisecond)
	assert.Equal(t, StateAwaitReadiness, h.sup.State())

	h.sup.Notify(readiness.Event{Kind: readiness.TimeSynced})
	h.dialer.assertNoDial(t, 50*time.Millisecond)

	h.sup.Notify(readiness.Event{Kind: readiness.NetworkUp})
	h.dialer.next(t)
}

func TestIssuanceFailureNeverDials(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), func(c *Config) {
		c.SigningKey = []byte("not a key")
		c.MaxAttempts = 3
	})
	h.ready()
	_, done := h.run(t)

	err := waitErr(t, done)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, credential.ErrKeyParse)
	assert.Equal(t, 0, h.dialer.dials())

	rec := h.failures.Snapshot()
	assert.Equal(t, failure.JWT|failure.Timeout, rec.Mask)
	assert.Equal(t, uint32(4), rec.Count)
	assert.Equal(t, StateIssueToken, h.sup.State())
}

func TestConnectRetriesExhausted(t *testing.T) {
	h := newHarness(t, newFakeDialer(-1), func(c *Config) { c.MaxAttempts = 2 })
	h.ready()
	_, done := h.run(t)

	err := waitErr(t, done)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, mqtt.ErrBrokerConnect)
	assert.Equal(t, 2, h.dialer.dials())
	assert.Equal(t, failure.MQTT|failure.Timeout, h.failures.Snapshot().Mask)
	assert.True(t, h.gate.Has(readiness.BrokerDisconnected))
}

func TestConnectRecoversAfterFailures(t *testing.T) {
	h := newHarness(t, newFakeDialer(2), nil)
	h.ready()
	h.run(t)

	h.dialer.next(t)
	assert.Equal(t, 3, h.dialer.dials())

	rec := h.failures.Snapshot()
	assert.Equal(t, uint32(2), rec.Count)
	assert.Equal(t, failure.MQTT, rec.Mask)
}

func TestDisconnectReissuesNewerCredential(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)
	h.ready()
	h.run(t)

	first := h.dialer.next(t)
	require.Eventually(t, func() bool { return h.sup.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	first.onLost(errors.New("connection reset by peer"))
	second := h.dialer.next(t)

	assert.True(t, first.isDisconnected())
	assert.NotEqual(t, first.cfg.Password, second.cfg.Password)
	firstIat := payloadOf(t, first.cfg.Password)["iat"].(float64)
	secondIat := payloadOf(t, second.cfg.Password)["iat"].(float64)
	assert.Greater(t, secondIat, firstIat)

	require.Eventually(t, func() bool {
		return h.gate.Has(readiness.BrokerConnected) && h.sup.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, failure.MQTT, h.failures.Snapshot().Mask)
}

func TestStaleDisconnectIgnored(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)
	h.ready()
	h.run(t)

	first := h.dialer.next(t)
	first.onLost(nil)
	second := h.dialer.next(t)
	require.Eventually(t, func() bool { return h.sup.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	// A late callback from the first session must not tear down the second.
	first.onLost(errors.New("late"))
	h.dialer.assertNoDial(t, 100*time.Millisecond)
	assert.False(t, second.isDisconnected())
	assert.True(t, h.gate.Has(readiness.BrokerConnected))
	assert.Equal(t, StateConnected, h.sup.State())
	assert.True(t, h.failures.Snapshot().IsZero())
}

func TestReadinessTimeout(t *testing.T) {
	tests := []struct {
		name     string
		events   []readiness.EventKind
		wantMask failure.Kind
	}{
		{name: "network", wantMask: failure.Timeout | failure.WiFi},
		{name: "clock", events: []readiness.EventKind{readiness.NetworkUp}, wantMask: failure.Timeout | failure.SNTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeDialer(0), func(c *Config) { c.ReadinessTimeout = 20 * time.Millisecond })
			for _, k := range tt.events {
				h.sup.Notify(readiness.Event{Kind: k})
			}
			_, done := h.run(t)

			err := waitErr(t, done)
			require.ErrorIs(t, err, readiness.ErrReadinessTimeout)
			assert.Equal(t, tt.wantMask, h.failures.Snapshot().Mask)
			assert.Equal(t, 0, h.dialer.dials())
		})
	}
}

func TestPublish(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)

	_, err := h.sup.Publish(context.Background(), "events", []byte("{}"), 1, false)
	require.ErrorIs(t, err, mqtt.ErrNotConnected)

	h.failures.Record(context.Background(), failure.SNTP)
	h.ready()
	h.run(t)
	sess := h.dialer.next(t)
	require.Eventually(t, func() bool { return h.sup.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	_, err = h.sup.Publish(context.Background(), "events", []byte("{}"), 0, false)
	require.NoError(t, err)
	assert.False(t, h.failures.Snapshot().IsZero(), "QoS 0 has no acknowledgement")

	id, err := h.sup.Publish(context.Background(), "state", []byte("{}"), 1, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.True(t, h.failures.Snapshot().IsZero())

	sess.mu.Lock()
	sess.publishErr = mqtt.ErrBrokerProtocol
	sess.mu.Unlock()
	h.failures.Record(context.Background(), failure.MQTT)
	_, err = h.sup.Publish(context.Background(), "state", []byte("{}"), 1, false)
	require.ErrorIs(t, err, mqtt.ErrBrokerProtocol)
	assert.False(t, h.failures.Snapshot().IsZero())

	assert.Equal(t, []publishCall{
		{topic: "/devices/dev-1/events", qos: 0},
		{topic: "/devices/dev-1/state", qos: 1},
	}, sess.published)
}

func TestInboundDispatch(t *testing.T) {
	var (
		mu       sync.Mutex
		configs  [][]byte
		commands []string
	)
	handlers := Handlers{
		OnConfig: func(_ context.Context, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			configs = append(configs, payload)
		},
		OnCommand: func(_ context.Context, topic string, _ []byte) {
			mu.Lock()
			defer mu.Unlock()
			commands = append(commands, topic)
		},
	}

	h := newHarness(t, newFakeDialer(0), nil, WithHandlers(handlers))
	h.ready()
	h.run(t)
	sess := h.dialer.next(t)
	require.Eventually(t, func() bool { return h.sup.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	sess.handler("/devices/dev-1/config")(ctx, "/devices/dev-1/config", []byte(`{"interval":30}`))
	sess.handler("/devices/dev-1/commands/#")(ctx, "/devices/dev-1/commands/reboot", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{[]byte(`{"interval":30}`)}, configs)
	assert.Equal(t, []string{"/devices/dev-1/commands/reboot"}, commands)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, newFakeDialer(0), nil)
	h.ready()
	cancel, done := h.run(t)

	sess := h.dialer.next(t)
	require.Eventually(t, func() bool { return h.sup.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitErr(t, done), context.Canceled)
	assert.True(t, sess.isDisconnected())
	assert.True(t, h.gate.Has(readiness.BrokerDisconnected))

	// Late transport callbacks after Run returned must not block.
	sess.onLost(errors.New("closed"))
}

func TestNewValidatesConfig(t *testing.T) {
	gate := readiness.NewGate()
	acc := failure.New(context.Background(), nil)

	_, err := New(Config{}, gate, newFakeDialer(0), acc)
	assert.Error(t, err)

	id, err := identity.New("p1", "r", "g", "d", "")
	require.NoError(t, err)
	_, err = New(Config{Identity: id, SigningKey: []byte("k")}, gate, newFakeDialer(0), acc)
	assert.ErrorIs(t, err, credential.ErrInvalidTTL)
}
