// Package conversation implements the named-tester-identity layer from
// spec §4.6: one Conversation per config descriptor, each owning at most
// one Channel at a time, with a Handle exposing the public
// Startup/Connect/SendDiagnosticRequest/Disconnect/Shutdown lifecycle.
package conversation

import (
	"context"
	"sync"

	"github.com/doipclient/diagclient/channel"
	"github.com/doipclient/diagclient/config"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/internal/log"
	"github.com/doipclient/diagclient/scheduler"
	"github.com/doipclient/diagclient/uds"
)

// State is a Conversation's lifecycle state (spec §3).
type State int

const (
	StateUninit State = iota
	StateIdle
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "Uninit"
	case StateIdle:
		return "Idle"
	case StateConnected:
		return "Connected"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// ConnectResult classifies the outcome of Connect (spec §4.6).
type ConnectResult int

const (
	ConnectSuccess ConnectResult = iota
	ConnectFailed
	RoutingActivationFailed
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectSuccess:
		return "ConnectSuccess"
	case ConnectFailed:
		return "ConnectFailed"
	case RoutingActivationFailed:
		return "RoutingActivationFailed"
	default:
		return "Unknown"
	}
}

// DisconnectResult classifies the outcome of Disconnect (spec §4.6).
type DisconnectResult int

const (
	DisconnectSuccess DisconnectResult = iota
	DisconnectFailed
)

func (r DisconnectResult) String() string {
	switch r {
	case DisconnectSuccess:
		return "DisconnectSuccess"
	case DisconnectFailed:
		return "DisconnectFailed"
	default:
		return "Unknown"
	}
}

// Conversation holds one tester identity's configuration and, while
// connected, its Channel (spec §3). All mutable state is guarded by mu;
// the manager and the Handle operate on the same instance.
type Conversation struct {
	mu sync.Mutex

	name          string
	sourceAddress uint16
	cfg           config.ConversationConfig
	localAddress  string
	logger        log.Logger
	sched         *scheduler.Scheduler

	state         State
	ch            *channel.Channel
	targetAddress uint16
}

func newConversation(cfg config.ConversationConfig, localAddress string, logger log.Logger, sched *scheduler.Scheduler) *Conversation {
	return &Conversation{
		name:          cfg.ConversationName,
		sourceAddress: cfg.SourceAddress,
		cfg:           cfg,
		localAddress:  localAddress,
		logger:        logger.Named(cfg.ConversationName),
		sched:         sched,
		state:         StateUninit,
	}
}

// registerWithScheduler tracks ch's lifetime through the conversation's
// scheduler, so a scheduler shutdown forces the channel closed and
// DeInitialize's drain genuinely waits for it to tear down, rather than
// the channel's event loop running on as an untracked goroutine (spec
// §5's "scheduler dispatches events to per-channel serialized handlers").
// A nil scheduler (as in tests that build a Conversation directly) makes
// this a no-op; the channel still manages its own lifecycle either way.
func (c *Conversation) registerWithScheduler(ch *channel.Channel) {
	if c.sched == nil {
		return
	}
	c.sched.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-ch.Done():
		}
		return nil
	})
}

// Handle is the public, caller-facing view of a Conversation, returned by
// Manager.Get (spec §4.6 "GetDiagnosticClientConversation").
type Handle struct {
	conv *Conversation
	mgr  *Manager
}

// Startup moves the conversation from kUninit to kIdle. Idempotent: a
// Conversation already at kIdle stays there.
func (h *Handle) Startup(ctx context.Context) error {
	c := h.conv
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateShuttingDown {
		return errs.New(errs.KindNotInitialized)
	}
	if c.state == StateUninit {
		c.state = StateIdle
	}
	return nil
}

// Shutdown tears down any active channel and returns the conversation to
// kUninit, releasing its (source, target) reservation.
func (h *Handle) Shutdown(ctx context.Context) error {
	c := h.conv
	c.mu.Lock()
	ch := c.ch
	target := c.targetAddress
	c.ch = nil
	c.state = StateUninit
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
		h.mgr.releasePair(c.sourceAddress, target)
	}
	return nil
}

// Connect dials serverAddr and performs routing activation against
// targetLogicalAddress, enforcing the manager's (source, target)
// uniqueness constraint (spec §4.6).
func (h *Handle) Connect(ctx context.Context, targetLogicalAddress uint16, serverAddr string) (ConnectResult, error) {
	c := h.conv
	c.mu.Lock()
	if c.state == StateUninit {
		c.mu.Unlock()
		return ConnectFailed, errs.New(errs.KindNotInitialized)
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return ConnectFailed, errs.New(errs.KindAlreadyConnected)
	}
	c.mu.Unlock()

	if !h.mgr.reservePair(c.sourceAddress, targetLogicalAddress) {
		return ConnectFailed, errs.New(errs.KindAlreadyConnected)
	}

	ch := channel.New(c.logger, channel.Config{
		SourceAddress: c.sourceAddress,
		RxBufferSize:  c.cfg.RxBufferSize,
		LocalAddress:  c.localAddress,
		Timing: channel.Timing{
			ResponseTimeout:        c.cfg.P2ClientMax(),
			ResponsePendingTimeout: c.cfg.P2StarClientMax(),
		},
	})
	c.registerWithScheduler(ch)

	if err := ch.Connect(ctx, serverAddr, c.cfg.RoutingActivationType); err != nil {
		ch.Close()
		h.mgr.releasePair(c.sourceAddress, targetLogicalAddress)
		kind, _ := errs.Of(err)
		if kind == errs.KindRoutingActivationDenied || kind == errs.KindRoutingActivationTimeout {
			return RoutingActivationFailed, err
		}
		return ConnectFailed, err
	}

	c.mu.Lock()
	c.ch = ch
	c.targetAddress = targetLogicalAddress
	c.state = StateConnected
	c.mu.Unlock()
	return ConnectSuccess, nil
}

// SendDiagnosticRequest delegates to the UDS transport layer (spec §4.4).
func (h *Handle) SendDiagnosticRequest(ctx context.Context, request []byte) ([]byte, error) {
	c := h.conv
	c.mu.Lock()
	ch := c.ch
	target := c.targetAddress
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || ch == nil {
		return nil, errs.New(errs.KindNotConnected)
	}
	client := uds.New(ch)
	return client.SendRequest(ctx, target, request)
}

// Disconnect closes the channel and frees the (source, target) slot
// (spec §8's Connect;Disconnect round-trip property).
func (h *Handle) Disconnect(ctx context.Context) (DisconnectResult, error) {
	c := h.conv
	c.mu.Lock()
	ch := c.ch
	target := c.targetAddress
	c.mu.Unlock()
	if ch == nil {
		return DisconnectSuccess, nil
	}
	if err := ch.Disconnect(ctx); err != nil {
		return DisconnectFailed, err
	}
	ch.Close()

	c.mu.Lock()
	c.ch = nil
	c.state = StateIdle
	c.mu.Unlock()
	h.mgr.releasePair(c.sourceAddress, target)
	return DisconnectSuccess, nil
}

// State returns the conversation's current lifecycle state.
func (h *Handle) State() State {
	c := h.conv
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

