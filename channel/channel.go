// Package channel implements the per-ECU TCP channel state machine from
// spec §4.3: connect, routing activation, diagnostic request/response with
// ack handling and response-pending extension, idle/general-inactivity
// timeouts. It is grounded on the teacher's doip/client.go
// (activationHandshake, aliveCheckPeriodical, inputLoop) generalized from
// one hardcoded connect-then-loop flow into an explicit FSM driven by a
// single serialized event-loop goroutine, matching spec §5's "each
// channel's state is owned exclusively by its handler" requirement.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
	"github.com/doipclient/diagclient/internal/log"
	"github.com/doipclient/diagclient/transport"
)

// Timing holds the overridable DoIP timing constants from spec §4.3.
// Zero fields fall back to the spec-defined defaults.
type Timing struct {
	TCPConnectTimeout      time.Duration
	TCPInitialInactivity   time.Duration
	TCPGeneralInactivity   time.Duration
	CtrlTimeout            time.Duration
	DiagnosticAckTimeout   time.Duration
	ResponseTimeout        time.Duration
	ResponsePendingTimeout time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.TCPConnectTimeout == 0 {
		t.TCPConnectTimeout = doip.DefaultTCPConnectTimeout
	}
	if t.TCPInitialInactivity == 0 {
		t.TCPInitialInactivity = doip.DefaultTCPInitialInactivity
	}
	if t.TCPGeneralInactivity == 0 {
		t.TCPGeneralInactivity = doip.DefaultTCPGeneralInactivity
	}
	if t.CtrlTimeout == 0 {
		t.CtrlTimeout = doip.DefaultCtrlTimeout
	}
	if t.DiagnosticAckTimeout == 0 {
		t.DiagnosticAckTimeout = doip.DefaultDiagnosticAckTimeout
	}
	if t.ResponseTimeout == 0 {
		t.ResponseTimeout = doip.DefaultResponseTimeout
	}
	if t.ResponsePendingTimeout == 0 {
		t.ResponsePendingTimeout = doip.DefaultResponsePendingTimeout
	}
	return t
}

// Config bundles the per-channel parameters taken from the conversation's
// config descriptor (spec §3's conversation descriptor).
type Config struct {
	SourceAddress uint16
	RxBufferSize  uint32
	// LocalAddress, if non-empty, is the local host or host:port the TCP
	// connection binds to; a bare host gets a kernel-chosen port (spec
	// §1's "binding to a configured local address" boundary).
	LocalAddress string
	Timing       Timing
	CodecOptions doip.Options
}

// Channel owns one TCP connection plus its routing-activation and
// diagnostic-exchange state (spec §3 "Channel"). All public methods are
// suspension points (spec §5): they block the calling goroutine until the
// serialized event loop delivers a terminal outcome.
type Channel struct {
	log           log.Logger
	sourceAddress uint16
	rxBufferSize  uint32
	localAddress  string
	timing        Timing
	codecOptions  doip.Options

	cmdCh     chan interface{}
	msgCh     chan doip.Message
	readErrCh chan *errs.Error
	closeCh   chan struct{}
	doneCh    chan struct{}

	// Everything below is owned exclusively by run(); no other goroutine
	// touches it.
	state         State
	stream        transport.Stream
	targetAddress uint16
	timer         *phaseTimer

	pendingActivate *activateCmd
	pendingSend     *sendCmd
	bufferedDiag    *doip.DiagnosticMessage // tie-break buffer: message arrived before its ack

	readerCtx    context.Context
	readerCancel context.CancelFunc
}

// New creates a Channel in state Closed. The event loop starts
// immediately and runs until Close is called.
func New(logger log.Logger, cfg Config) *Channel {
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Channel{
		log:           logger,
		sourceAddress: cfg.SourceAddress,
		rxBufferSize:  cfg.RxBufferSize,
		localAddress:  cfg.LocalAddress,
		timing:        cfg.Timing.withDefaults(),
		codecOptions:  cfg.CodecOptions,
		cmdCh:         make(chan interface{}),
		msgCh:         make(chan doip.Message, 4),
		readErrCh:     make(chan *errs.Error, 1),
		closeCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
		state:         StateClosed,
		timer:         newPhaseTimer(),
	}
	go c.run()
	return c
}

// State returns the channel's current state. It is safe to call from any
// goroutine: the query is answered by the event loop itself, but the
// state may change as soon as it returns, so the result is a snapshot.
func (c *Channel) State() State {
	resultCh := make(chan State, 1)
	select {
	case c.cmdCh <- &queryStateCmd{resultCh: resultCh}:
		return <-resultCh
	case <-c.doneCh:
		return StateClosed
	}
}

// Connect dials the TCP connection and, on success, immediately performs
// routing activation — the combined operation spec §4.6's
// ConnectToDiagServer names, composed here from the two FSM events
// (Connect, ActivateRouting) spec §4.3's table keeps separate.
func (c *Channel) Connect(ctx context.Context, serverAddr string, activationType uint8) error {
	if err := c.connect(ctx, serverAddr); err != nil {
		return err
	}
	return c.activateRouting(ctx, activationType)
}

func (c *Channel) connect(ctx context.Context, serverAddr string) error {
	resultCh := make(chan error, 1)
	cmd := &connectCmd{ctx: ctx, serverAddr: serverAddr, resultCh: resultCh}
	select {
	case c.cmdCh <- cmd:
	case <-c.doneCh:
		return errs.New(errs.KindShutdown)
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return errs.New(errs.KindShutdown)
	}
}

func (c *Channel) activateRouting(ctx context.Context, activationType uint8) error {
	resultCh := make(chan error, 1)
	cmd := &activateCmd{activationType: activationType, resultCh: resultCh}
	select {
	case c.cmdCh <- cmd:
	case <-c.doneCh:
		return errs.New(errs.KindShutdown)
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return errs.New(errs.KindShutdown)
	}
}

// SendDiagnosticRequest sends a UDS request and blocks for its terminal
// outcome: a positive/negative response, an ack timeout, a response
// timeout, or disconnection (spec §4.4).
func (c *Channel) SendDiagnosticRequest(ctx context.Context, targetAddress uint16, userData []byte) ([]byte, error) {
	resultCh := make(chan sendResult, 1)
	cmd := &sendCmd{targetAddress: targetAddress, userData: userData, resultCh: resultCh}
	select {
	case c.cmdCh <- cmd:
	case <-c.doneCh:
		return nil, errs.New(errs.KindShutdown)
	}
	select {
	case r := <-resultCh:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, errs.New(errs.KindShutdown)
	}
}

// Disconnect closes the TCP connection and returns the channel to
// StateClosed (spec §8 round-trip property). The (source, target) slot
// is held and released by the conversation layer, not by the channel.
func (c *Channel) Disconnect(ctx context.Context) error {
	resultCh := make(chan error, 1)
	cmd := &disconnectCmd{resultCh: resultCh}
	select {
	case c.cmdCh <- cmd:
	case <-c.doneCh:
		return nil
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return nil
	}
}

// Close tears the channel down unconditionally and stops its event loop.
// It is used by shutdown, which must not wait on any DoIP timer.
func (c *Channel) Close() {
	select {
	case <-c.doneCh:
		return
	default:
	}
	close(c.closeCh)
	<-c.doneCh
}

// Done returns a channel closed once the event loop has exited, letting
// an external tracker (the scheduler) observe teardown without being the
// one that started the loop.
func (c *Channel) Done() <-chan struct{} {
	return c.doneCh
}

// TargetAddress returns the routing-activated peer's logical address, or
// zero if the channel never reached StateActive.
func (c *Channel) TargetAddress() uint16 {
	resultCh := make(chan uint16, 1)
	select {
	case c.cmdCh <- &queryTargetCmd{resultCh: resultCh}:
		return <-resultCh
	case <-c.doneCh:
		return 0
	}
}

// --- internal command types exchanged over cmdCh ---

type connectCmd struct {
	ctx        context.Context
	serverAddr string
	resultCh   chan error
}

type activateCmd struct {
	activationType uint8
	resultCh       chan error
}

type sendCmd struct {
	targetAddress uint16
	userData      []byte
	resultCh      chan sendResult
}

type sendResult struct {
	resp []byte
	err  error
}

type disconnectCmd struct {
	resultCh chan error
}

type queryStateCmd struct {
	resultCh chan State
}

type queryTargetCmd struct {
	resultCh chan uint16
}

// run is the single serialized event loop. Every field mutation for this
// channel happens here and only here.
func (c *Channel) run() {
	defer close(c.doneCh)
	for {
		var timerCh <-chan time.Time
		if c.timer != nil {
			timerCh = c.timer.C()
		}
		select {
		case cmd := <-c.cmdCh:
			c.dispatch(cmd)
		case msg := <-c.msgCh:
			c.handleMessage(msg)
		case err := <-c.readErrCh:
			c.handleReadError(err)
		case <-timerCh:
			c.handleTimeout()
		case <-c.closeCh:
			c.teardown()
			return
		}
	}
}

func (c *Channel) dispatch(cmd interface{}) {
	switch v := cmd.(type) {
	case *connectCmd:
		c.handleConnect(v)
	case *activateCmd:
		c.handleActivate(v)
	case *sendCmd:
		c.handleSend(v)
	case *disconnectCmd:
		c.handleDisconnect(v)
	case *queryStateCmd:
		v.resultCh <- c.state
	case *queryTargetCmd:
		v.resultCh <- c.targetAddress
	default:
		c.log.Errorf("channel: unknown command %T", cmd)
	}
}

func (c *Channel) handleConnect(cmd *connectCmd) {
	if c.state != StateClosed {
		cmd.resultCh <- errs.New(errs.KindAlreadyConnected)
		return
	}
	c.state = StateConnecting
	dialCtx, cancel := context.WithTimeout(cmd.ctx, c.timing.TCPConnectTimeout)
	stream, err := transport.DialTCP(dialCtx, c.localAddress, cmd.serverAddr)
	cancel()
	if err != nil {
		c.state = StateClosed
		if dialCtx.Err() == context.DeadlineExceeded {
			cmd.resultCh <- errs.Wrap(errs.KindTCPConnectTimeout, err)
			return
		}
		cmd.resultCh <- errs.Wrap(errs.KindTCPConnectFailed, err)
		return
	}
	c.stream = stream
	c.state = StateConnectedNotActivated
	c.timer.Arm(c.timing.TCPInitialInactivity)
	c.startReader()
	cmd.resultCh <- nil
}

func (c *Channel) startReader() {
	ctx, cancel := context.WithCancel(context.Background())
	c.readerCtx, c.readerCancel = ctx, cancel
	go readLoop(ctx, c.stream, c.codecOptions, c.msgCh, c.readErrCh)
}

func (c *Channel) handleActivate(cmd *activateCmd) {
	if c.state != StateConnectedNotActivated {
		cmd.resultCh <- errs.New(errs.KindNotConnected)
		return
	}
	req := &doip.RoutingActivationRequest{
		SourceAddress:  c.sourceAddress,
		ActivationType: cmd.activationType,
	}
	if err := c.sendMessage(req); err != nil {
		c.failAndClose(errs.Wrap(errs.KindTCPConnectFailed, err))
		cmd.resultCh <- errs.Wrap(errs.KindTCPConnectFailed, err)
		return
	}
	c.state = StateActivating
	c.timer.Arm(c.timing.CtrlTimeout)
	c.pendingActivate = cmd
}

func (c *Channel) handleSend(cmd *sendCmd) {
	switch c.state {
	case StateActive:
	case StateClosed, StateClosing, StateConnecting, StateConnectedNotActivated, StateActivating:
		cmd.resultCh <- sendResult{err: errs.New(errs.KindNotConnected)}
		return
	default:
		cmd.resultCh <- sendResult{err: errs.New(errs.KindBusy)}
		return
	}
	req := &doip.DiagnosticMessage{
		SourceAddress: c.sourceAddress,
		TargetAddress: cmd.targetAddress,
		UserData:      cmd.userData,
	}
	if err := c.sendMessage(req); err != nil {
		cmd.resultCh <- sendResult{err: errs.Wrap(errs.KindDisconnectedDuringRequest, err)}
		return
	}
	c.state = StateSending
	c.timer.Arm(c.timing.DiagnosticAckTimeout)
	c.pendingSend = cmd
}

func (c *Channel) handleDisconnect(cmd *disconnectCmd) {
	if c.state == StateClosed {
		cmd.resultCh <- nil
		return
	}
	c.state = StateClosing
	c.closeStream()
	c.state = StateClosed
	c.timer.Disarm()
	cmd.resultCh <- nil
}

func (c *Channel) handleMessage(msg doip.Message) {
	switch m := msg.(type) {
	case *doip.RoutingActivationResponse:
		c.onRoutingActivationResponse(m)
	case *doip.AliveCheckRequest:
		c.onAliveCheckRequest()
	case *doip.DiagnosticMessagePositiveAck:
		c.onPositiveAck(m)
	case *doip.DiagnosticMessageNegativeAck:
		c.onNegativeAck(m)
	case *doip.DiagnosticMessage:
		c.onDiagnosticMessage(m)
	case *doip.GenericHeaderNegativeAck:
		c.log.Warnf("channel: peer sent GenericHeaderNegativeAck code=%#02x", m.NackCode)
	default:
		c.log.Debugf("channel: ignoring unexpected message %T in state %s", msg, c.state)
	}
}

func (c *Channel) onRoutingActivationResponse(m *doip.RoutingActivationResponse) {
	if c.state != StateActivating || c.pendingActivate == nil {
		c.log.Debugf("channel: unexpected RoutingActivationResponse in state %s, ignoring", c.state)
		return
	}
	cmd := c.pendingActivate
	c.pendingActivate = nil
	c.timer.Disarm()

	switch m.Code {
	case doip.RoutingActivationSuccessfullyActivated, doip.RoutingActivationSuccessfullyActivatedConfirm:
		c.state = StateActive
		c.targetAddress = m.LogicalAddress
		c.timer.Arm(c.timing.TCPGeneralInactivity)
		cmd.resultCh <- nil
	default:
		c.state = StateClosing
		c.closeStream()
		c.state = StateClosed
		cmd.resultCh <- errs.WithCode(errs.KindRoutingActivationDenied, m.Code)
	}
}

func (c *Channel) onAliveCheckRequest() {
	if !c.state.isActiveLike() && c.state != StateActivating {
		return
	}
	// Per spec §9's conservative choice, during Activating we have no
	// confirmed source address yet, so we reply with source=0.
	source := c.sourceAddress
	if c.state == StateActivating {
		source = 0
	}
	if err := c.sendMessage(&doip.AliveCheckResponse{SourceAddress: source}); err != nil {
		c.log.Warnf("channel: failed to reply to AliveCheckRequest: %v", err)
	}
}

func (c *Channel) onPositiveAck(m *doip.DiagnosticMessagePositiveAck) {
	if c.state != StateSending || c.pendingSend == nil {
		c.log.Debugf("channel: unexpected DiagnosticMessagePositiveAck in state %s, ignoring", c.state)
		return
	}
	c.state = StateWaitingResponse
	c.timer.Arm(c.timing.ResponseTimeout)

	// Tie-break: if the DiagnosticMessage already arrived before its
	// ack, deliver it now that we know the ack was positive.
	if buffered := c.bufferedDiag; buffered != nil {
		c.bufferedDiag = nil
		c.onDiagnosticMessage(buffered)
	}
}

func (c *Channel) onNegativeAck(m *doip.DiagnosticMessageNegativeAck) {
	if c.state != StateSending || c.pendingSend == nil {
		c.log.Debugf("channel: unexpected DiagnosticMessageNegativeAck in state %s, ignoring", c.state)
		return
	}
	cmd := c.pendingSend
	c.pendingSend = nil
	c.bufferedDiag = nil
	c.state = StateActive
	c.timer.Arm(c.timing.TCPGeneralInactivity)
	cmd.resultCh <- sendResult{err: errs.WithCode(errs.KindNegativeAck, m.NackCode)}
}

// isResponsePending reports whether resp is a UDS negative response
// (0x7F SID NRC) with NRC 0x78 (response pending). This is the one
// UDS-layer fact the DoIP transport must recognize, per spec §4.3/§8.
func isResponsePending(resp []byte) bool {
	const (
		negativeResponseSID = 0x7F
		nrcResponsePending  = 0x78
	)
	return len(resp) >= 3 && resp[0] == negativeResponseSID && resp[2] == nrcResponsePending
}

func (c *Channel) onDiagnosticMessage(m *doip.DiagnosticMessage) {
	switch c.state {
	case StateSending:
		// Ack has not arrived yet; buffer per the tie-break rule.
		c.bufferedDiag = m
		return
	case StateWaitingResponse:
		if c.pendingSend == nil {
			return
		}
		if isResponsePending(m.UserData) {
			c.timer.Arm(c.timing.ResponsePendingTimeout)
			c.log.Debugf("channel: response pending from %#04x, extending timer", m.SourceAddress)
			return
		}
		cmd := c.pendingSend
		c.pendingSend = nil
		c.state = StateActive
		c.timer.Arm(c.timing.TCPGeneralInactivity)
		cmd.resultCh <- sendResult{resp: m.UserData}
	default:
		c.log.Debugf("channel: unsolicited DiagnosticMessage in state %s, dropping", c.state)
	}
}

func (c *Channel) handleReadError(err *errs.Error) {
	c.log.Debugf("channel: read error in state %s: %v", c.state, err)
	c.failAndClose(err)
}

// failAndClose delivers err to whichever caller is currently suspended
// (connect/activate/send) and tears down the stream.
func (c *Channel) failAndClose(err error) {
	if c.pendingActivate != nil {
		cmd := c.pendingActivate
		c.pendingActivate = nil
		cmd.resultCh <- err
	}
	if c.pendingSend != nil {
		cmd := c.pendingSend
		c.pendingSend = nil
		cmd.resultCh <- sendResult{err: err}
	}
	c.bufferedDiag = nil
	c.closeStream()
	c.state = StateClosed
	c.timer.Disarm()
}

func (c *Channel) handleTimeout() {
	switch c.state {
	case StateConnectedNotActivated:
		c.log.Debugf("channel: initial inactivity timeout, closing")
		c.failAndClose(errs.New(errs.KindDisconnectedDuringRequest))
	case StateActivating:
		cmd := c.pendingActivate
		c.pendingActivate = nil
		c.closeStream()
		c.state = StateClosed
		if cmd != nil {
			cmd.resultCh <- errs.New(errs.KindRoutingActivationTimeout)
		}
	case StateSending:
		cmd := c.pendingSend
		c.pendingSend = nil
		c.bufferedDiag = nil
		c.state = StateActive
		c.timer.Arm(c.timing.TCPGeneralInactivity)
		if cmd != nil {
			cmd.resultCh <- sendResult{err: errs.New(errs.KindAckTimeout)}
		}
	case StateWaitingResponse:
		cmd := c.pendingSend
		c.pendingSend = nil
		c.state = StateActive
		c.timer.Arm(c.timing.TCPGeneralInactivity)
		if cmd != nil {
			cmd.resultCh <- sendResult{err: errs.New(errs.KindResponseTimeout)}
		}
	case StateActive:
		c.log.Debugf("channel: general inactivity timeout, closing")
		c.failAndClose(errs.New(errs.KindDisconnectedDuringRequest))
	default:
		c.log.Debugf("channel: stray timeout in state %s, ignoring", c.state)
	}
}

func (c *Channel) sendMessage(m doip.Message) error {
	if c.stream == nil {
		return fmt.Errorf("channel: no stream")
	}
	return c.stream.Send(doip.EncodeMessage(doip.ProtocolVersion2012, m))
}

func (c *Channel) closeStream() {
	if c.readerCancel != nil {
		c.readerCancel()
		c.readerCancel = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

func (c *Channel) teardown() {
	pendingErr := errs.New(errs.KindShutdown)
	if c.pendingActivate != nil {
		c.pendingActivate.resultCh <- pendingErr
		c.pendingActivate = nil
	}
	if c.pendingSend != nil {
		c.pendingSend.resultCh <- sendResult{err: pendingErr}
		c.pendingSend = nil
	}
	c.closeStream()
	c.state = StateClosed
	c.timer.Disarm()
}
