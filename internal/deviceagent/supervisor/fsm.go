package supervisor

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/devicelink/internal/deviceagent/credential"
	"github.com/autopeer-io/devicelink/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/devicelink/internal/pkg/util/fsm"
	"github.com/autopeer-io/devicelink/pkg/log"
)

// Supervisor states.
const (
	StateInit           = "init"
	StateAwaitReadiness = "await_readiness"
	StateIssueToken     = "issue_token"
	StateConnecting     = "connecting"
	StateConnected      = "connected"
	StateReconfiguring  = "reconfiguring"
)

const (
	// EventStart begins waiting for network and clock.
	EventStart = "start"
	// EventReady is fired once the device is online with a synchronized clock.
	EventReady = "ready"
	// EventIssued carries the fresh token as its first argument.
	EventIssued        = "issued"
	EventConnectFailed = "connect_failed"
	EventConnected     = "connected"
	// EventDisconnected is fired when the current session drops.
	EventDisconnected = "disconnected"
	EventReissue      = "reissue"
)

var (
	errNoCredential      = errors.New("no credential")
	errCredentialExpired = errors.New("credential expired")
)

// FiniteStateMachine is the connection lifecycle.
type FiniteStateMachine struct {
	*fsm.FSM

	clock clock.PassiveClock
}

func NewFiniteStateMachine(c clock.PassiveClock) *FiniteStateMachine {
	f := &FiniteStateMachine{clock: c}

	events := fsm.Events{
		{Name: EventStart, Src: []string{StateInit}, Dst: StateAwaitReadiness},
		{Name: EventReady, Src: []string{StateAwaitReadiness}, Dst: StateIssueToken},
		{Name: EventIssued, Src: []string{StateIssueToken}, Dst: StateConnecting},
		{Name: EventConnectFailed, Src: []string{StateConnecting}, Dst: StateIssueToken},
		{Name: EventConnected, Src: []string{StateConnecting}, Dst: StateConnected},
		{Name: EventDisconnected, Src: []string{StateConnected}, Dst: StateReconfiguring},
		{Name: EventReissue, Src: []string{StateReconfiguring}, Dst: StateIssueToken},
	}

	callbacks := fsm.Callbacks{
		// Guards (before_...): Decide if a transition is allowed
		"before_" + EventIssued: fsmutil.WrapEvent(f.GuardCredential),

		"enter_state": fsmutil.WrapEvent(f.ActionEnterState),
	}

	f.FSM = fsm.NewFSM(StateInit, events, callbacks)
	return f
}

// GuardCredential cancels the transition to connecting unless the event
// carries a token that has not expired.
func (f *FiniteStateMachine) GuardCredential(ctx context.Context, e *fsm.Event) error {
	var tok *credential.SignedToken
	if len(e.Args) > 0 {
		tok, _ = e.Args[0].(*credential.SignedToken)
	}

	switch {
	case tok == nil:
		e.Cancel(errNoCredential)
	case tok.Expired(f.clock.Now()):
		e.Cancel(errCredentialExpired)
	}
	return nil
}

// ActionEnterState records every transition.
func (f *FiniteStateMachine) ActionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.SupervisorTransitionsTotal.WithLabelValues(e.Src, e.Dst).Inc()
	log.FromContext(ctx).Debug("Supervisor transition", "event", e.Event, "from", e.Src, "to", e.Dst)
	return nil
}
