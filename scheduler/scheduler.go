// Package scheduler owns the background goroutines the engine runs
// outside of any single Channel's own event loop: per-conversation
// watchdogs and, when requested, a standing discovery listener. It
// generalizes the teacher's doip.Server.serveTCP accept-loop +
// sync.WaitGroup drain pattern from "one goroutine per inbound TCP
// connection" to "one goroutine per tracked background task," using
// golang.org/x/sync/errgroup in place of the teacher's raw WaitGroup so a
// task's error is surfaced rather than discarded.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/doipclient/diagclient/internal/log"
)

// Scheduler tracks a set of long-lived background tasks and drains them
// together on Shutdown, mirroring Router.Close()'s "cancel, then wait"
// idiom.
type Scheduler struct {
	log log.Logger

	mu     sync.Mutex
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler bound to a derived, cancellable context. Callers
// never see that context directly; Go tasks receive it so Shutdown can
// unblock them.
func New(parent context.Context, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	return &Scheduler{
		log:    logger.Named("scheduler"),
		group:  g,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go launches fn as a tracked background task. fn must return promptly
// once the Scheduler's context is cancelled; Shutdown blocks on exactly
// that. A task that returns a non-nil error cancels every other tracked
// task's context, matching errgroup.Group's fail-fast semantics (the
// teacher's serveTCP instead let one failed connection end silently while
// the others kept running; tasks here are expected to be independent
// enough that this stronger semantics is the right default).
func (s *Scheduler) Go(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group.Go(func() error {
		return fn(s.ctx)
	})
}

// Shutdown cancels every tracked task's context and waits for them all to
// return, collecting the first non-nil error (spec §5's drain-before-exit
// requirement for DeInitialize).
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.group.Wait()
}
