package conversation

import (
	"context"
	"sync"

	"github.com/doipclient/diagclient/config"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/internal/log"
	"github.com/doipclient/diagclient/scheduler"
)

// pairKey identifies one (source, target) logical address combination,
// which spec §4.6 requires to be connected through at most one channel at
// a time.
type pairKey struct {
	source uint16
	target uint16
}

// Manager is the registry of named conversations, grounded on the
// teacher's Router: a map guarded by a single mutex, with Add-style
// registration and a cancel path that removes the entry again.
type Manager struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	pairs map[pairKey]struct{}
}

// NewManager builds a Manager from the parsed config's conversation
// descriptors. Every descriptor is registered up front; none has a
// channel until Connect is called through its Handle. sched, if non-nil,
// is where every channel a Connect call opens gets tracked so the
// scheduler can force it closed and drain it on shutdown (spec §5's
// "scheduler dispatches events to per-channel serialized handlers").
func NewManager(cfg *config.Config, logger log.Logger, sched *scheduler.Scheduler) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	m := &Manager{
		convs: make(map[string]*Conversation, len(cfg.Conversations)),
		pairs: make(map[pairKey]struct{}),
	}
	for _, cc := range cfg.Conversations {
		m.convs[cc.ConversationName] = newConversation(cc, cfg.TCPIPAddress, logger, sched)
	}
	return m
}

// Get returns a Handle onto the named conversation (spec §4.6
// "GetDiagnosticClientConversation").
func (m *Manager) Get(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[name]
	if !ok {
		return nil, errs.New(errs.KindUnknownConversation)
	}
	return &Handle{conv: c, mgr: m}, nil
}

// Names returns every registered conversation name.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.convs))
	for name := range m.convs {
		names = append(names, name)
	}
	return names
}

// ShutdownAll tears down every conversation's channel, used by the
// engine's DeInitialize.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.convs))
	for _, c := range m.convs {
		handles = append(handles, &Handle{conv: c, mgr: m})
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Shutdown(ctx)
	}
}

// reservePair claims (source, target) for exclusive use by one channel,
// reporting false if it is already claimed (spec §4.6's uniqueness
// constraint, ErrAlreadyConnected).
func (m *Manager) reservePair(source, target uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{source, target}
	if _, taken := m.pairs[k]; taken {
		return false
	}
	m.pairs[k] = struct{}{}
	return true
}

// releasePair frees a (source, target) reservation, mirroring the
// teacher's cancel closure returned by Router.Add.
func (m *Manager) releasePair(source, target uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, pairKey{source, target})
}
