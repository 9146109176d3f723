// Package diagclient is the public entry point of the DoIP diagnostic
// tester engine: load a config, spawn the background scheduler, and hand
// out named Conversation handles. Everything else (channel, uds, vehicle,
// conversation) is an internal implementation detail reachable only
// through this surface and cmd/doipctl.
package diagclient

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/doipclient/diagclient/config"
	"github.com/doipclient/diagclient/conversation"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/internal/log"
	"github.com/doipclient/diagclient/scheduler"
	"github.com/doipclient/diagclient/vehicle"
)

// Client is the top-level handle a host program creates once per engine
// instance (spec §4.6 "the host creates a Client from a config record").
type Client struct {
	log log.Logger
	cfg *config.Config

	mu       sync.Mutex
	state    clientState
	mgr      *conversation.Manager
	sched    *scheduler.Scheduler
	listener *vehicle.Listener
}

type clientState int

const (
	clientUninit clientState = iota
	clientInitialized
)

// New loads the config at configPath but does not yet start anything;
// Initialize does that. A nil logger falls back to a no-op Logger.
func New(configPath string, logger *zap.Logger) (*Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	var l log.Logger
	if logger == nil {
		l = log.NewNop()
	} else {
		l = log.New(logger)
	}
	return &Client{log: l, cfg: cfg, state: clientUninit}, nil
}

// Initialize instantiates one Conversation per config descriptor, each in
// kUninit, starts the background scheduler, and binds the shared
// discovery/announcement UDP endpoint, registering its Serve loop with
// the scheduler so Initialize/DeInitialize genuinely own it end to end
// (spec §4.6, §5's shared-endpoint requirement).
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clientInitialized {
		return errs.New(errs.KindAlreadyInitialized)
	}
	c.sched = scheduler.New(ctx, c.log)

	listener, err := vehicle.NewListener(c.log, net.JoinHostPort(c.cfg.UDPIPAddress, "0"))
	if err != nil {
		c.sched.Shutdown()
		c.sched = nil
		return err
	}
	c.listener = listener
	c.sched.Go(c.listener.Serve)

	c.mgr = conversation.NewManager(c.cfg, c.log, c.sched)
	c.state = clientInitialized
	return nil
}

// DeInitialize shuts down every conversation, drains the scheduler (which
// cancels the standing discovery listener's Serve loop), and releases
// the shared UDP endpoint. Handles obtained before this call are not
// invalidated: their conversations are left in kUninit, so Connect
// returns ErrNotInitialized and SendDiagnosticRequest returns
// ErrNotConnected, while Startup, Shutdown and Disconnect still succeed.
func (c *Client) DeInitialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != clientInitialized {
		c.mu.Unlock()
		return errs.New(errs.KindNotInitialized)
	}
	mgr, sched, listener := c.mgr, c.sched, c.listener
	c.mgr, c.sched, c.listener = nil, nil, nil
	c.state = clientUninit
	c.mu.Unlock()

	mgr.ShutdownAll(ctx)
	err := sched.Shutdown()
	listener.Close()
	return err
}

// GetConversation returns a handle onto the named conversation (spec
// §4.6's GetDiagnosticClientConversation).
func (c *Client) GetConversation(name string) (*conversation.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != clientInitialized {
		return nil, errs.New(errs.KindNotInitialized)
	}
	return c.mgr.Get(name)
}

// SendVehicleIdentificationRequest runs one UDP discovery round against
// the default broadcast address, port and window (zero vehicle.Options)
// over the shared listener endpoint,
// independent of any conversation (spec §4.5).
func (c *Client) SendVehicleIdentificationRequest(ctx context.Context, filter vehicle.Filter) ([]vehicle.Info, error) {
	c.mu.Lock()
	initialized := c.state == clientInitialized
	listener := c.listener
	c.mu.Unlock()
	if !initialized {
		return nil, errs.New(errs.KindNotInitialized)
	}
	return listener.SendVehicleIdentificationRequest(ctx, filter, vehicle.Options{})
}
