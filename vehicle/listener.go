package vehicle

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/internal/log"
	"github.com/doipclient/diagclient/transport"
)

// received is one decoded VehicleAnnouncement datagram, fanned out to
// every subscriber waiting on a discovery window.
type received struct {
	announcement *doip.VehicleAnnouncement
	from         net.Addr
}

// Listener owns the single UDP endpoint shared by vehicle discovery and
// peer-initiated VehicleAnnouncement listening (spec §5 "shared
// resources"). It binds once, for the lifetime of the engine, instead of
// the old per-call ephemeral socket, and Serve is registered with the
// scheduler so the scheduler genuinely tracks and drains it on shutdown.
type Listener struct {
	ep     *transport.UDPEndpoint
	logger log.Logger

	mu        sync.Mutex
	observers map[chan received]struct{}
}

// NewListener binds the shared discovery/announcement endpoint at
// localAddr with SO_BROADCAST enabled, so later broadcasts to
// 255.255.255.255 succeed.
func NewListener(logger log.Logger, localAddr string) (*Listener, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	ep, err := transport.Bind(localAddr, true)
	if err != nil {
		return nil, errs.Wrap(errs.KindBindFailed, err)
	}
	return &Listener{
		ep:        ep,
		logger:    logger,
		observers: make(map[chan received]struct{}),
	}, nil
}

// Serve runs the receive loop until ctx is cancelled or the endpoint is
// closed, fanning every decoded VehicleAnnouncement out to current
// subscribers. It is the task the scheduler tracks for this endpoint's
// entire lifetime (spec §5's "one background scheduler drives all socket
// I/O"); a malformed datagram is logged and skipped, never fatal.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		b, from, err := l.ep.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		announcement, decErr := decodeAnnouncement(b)
		if decErr != nil {
			l.logger.Debugf("vehicle: discarding malformed datagram from %v: %v", from, decErr)
			continue
		}
		l.dispatch(received{announcement: announcement, from: from})
	}
}

// dispatch fans r out to every active subscriber. With no subscriber, r
// is an unsolicited, peer-initiated VehicleAnnouncement (spec §4.5) and
// is just logged.
func (l *Listener) dispatch(r received) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.observers) == 0 {
		l.logger.Infof("vehicle: unsolicited VehicleAnnouncement from %v (logical address 0x%04x)", r.from, r.announcement.LogicalAddress)
		return
	}
	for ch := range l.observers {
		select {
		case ch <- r:
		default:
		}
	}
}

func (l *Listener) subscribe() chan received {
	ch := make(chan received, 8)
	l.mu.Lock()
	l.observers[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

func (l *Listener) unsubscribe(ch chan received) {
	l.mu.Lock()
	delete(l.observers, ch)
	l.mu.Unlock()
}

// SendVehicleIdentificationRequest broadcasts filter to
// opts.BroadcastAddress:opts.Port over the shared endpoint and collects
// VehicleAnnouncement replies for opts.Window. The only error it returns
// is KindUDPSendFailed when the request cannot be sent; otherwise it
// returns successfully (possibly with an empty slice), and malformed
// replies never fail the call (spec §4.5).
func (l *Listener) SendVehicleIdentificationRequest(ctx context.Context, filter Filter, opts Options) ([]Info, error) {
	opts = opts.withDefaults()

	sub := l.subscribe()
	defer l.unsubscribe(sub)

	dest := net.JoinHostPort(opts.BroadcastAddress, strconv.Itoa(opts.Port))
	req := filter.message()
	if err := l.ep.SendTo(dest, doip.EncodeMessage(doip.ProtocolVersion2012, req)); err != nil {
		return nil, errs.Wrap(errs.KindUDPSendFailed, err)
	}

	windowCtx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()

	seen := make(map[uint16]struct{})
	var results []Info
	for {
		select {
		case r := <-sub:
			if _, dup := seen[r.announcement.LogicalAddress]; dup {
				continue
			}
			seen[r.announcement.LogicalAddress] = struct{}{}
			host := r.from.String()
			if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
				host = h
			}
			results = append(results, Info{
				IP:             host,
				LogicalAddress: r.announcement.LogicalAddress,
				VIN:            r.announcement.VIN,
				EID:            r.announcement.EID,
				GID:            r.announcement.GID,
			})
		case <-windowCtx.Done():
			return results, nil
		}
	}
}

// Close releases the shared endpoint. Serve's blocked Recv returns an
// error once this runs, which is why Serve treats a cancelled ctx (the
// normal shutdown path) as non-fatal and any other error as a real
// failure to report.
func (l *Listener) Close() error {
	return l.ep.Close()
}
