package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/bigpayload"
	"github.com/ktnrg45/goremoteplay/internal/control"
	"github.com/ktnrg45/goremoteplay/internal/ddp"
	"github.com/ktnrg45/goremoteplay/internal/feedback"
	"github.com/ktnrg45/goremoteplay/internal/media"
	"github.com/ktnrg45/goremoteplay/internal/profile"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
	"github.com/ktnrg45/goremoteplay/internal/rplog"
	"github.com/ktnrg45/goremoteplay/internal/transport"
)

// Timeouts per spec.md section 5.
const (
	ReachabilityTimeout   = 3 * time.Second
	ControlTimeout        = 3 * time.Second
	BigPayloadTimeout     = 3 * time.Second
	feedbackStateInterval = 150 * time.Millisecond

	defaultMTU = 1454
	defaultRTT = time.Second
)

// Options configures a Session's stream request; an unset resolution,
// MaxFPS or BitrateKbps falls back to 960x540, 60 fps and 6000 kbps.
// ClientVersion has no default.
type Options struct {
	Width, Height uint32
	MaxFPS        uint32
	BitrateKbps   int

	// ClientVersion seeds the BigPayload message (spec.md section 4.6).
	ClientVersion uint32

	// Sink receives completed A/V frames (spec.md section 4.7); a nil Sink
	// discards frames, useful for headless registration/connectivity
	// checks that never render anything.
	Sink media.FrameSink
}

// Callbacks notify a Session's owner of state transitions and the
// audio_config event STREAMINFO triggers entering Running, per spec.md
// section 4.10.
type Callbacks struct {
	StateChanged func(State)
	AudioConfig  func(bigpayload.StreamInfoPayload)
	Error        func(error)
}

// Session is one client connection's orchestrator, sequencing
// Init->AuthPending->ControlReady->BigPending->StreamReady->Running and
// owning every background task (control heartbeat, transport retransmit,
// feedback flush) that keeps it alive until Stop or a fatal error.
type Session struct {
	mu    sync.Mutex
	state State
	err   error

	host        string
	kind        profile.ConsoleKind
	hostProfile profile.HostProfile
	opts        Options
	cb          Callbacks

	control    *control.Channel
	transport  *transport.Transport
	negotiator *bigpayload.Negotiator
	media      *media.Receiver
	feedback   *feedback.Controller

	udpConn net.PacketConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log rplog.Logger
}

// New constructs an unstarted Session against hostProfile's credentials.
func New(host string, kind profile.ConsoleKind, hostProfile profile.HostProfile, opts Options, cb Callbacks) *Session {
	if opts.Width == 0 {
		opts.Width, opts.Height = 960, 540
	}
	if opts.MaxFPS == 0 {
		opts.MaxFPS = 60
	}
	if opts.BitrateKbps == 0 {
		opts.BitrateKbps = 6000
	}
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	return &Session{
		state:       StateInit,
		host:        host,
		kind:        kind,
		hostProfile: hostProfile,
		opts:        opts,
		cb:          cb,
		log:         rplog.New("session"),
	}
}

// State returns the current state, guarded by the session's mutex.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that drove the session into Stopped, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Feedback returns the controller-feedback sender once the session has
// reached StreamReady; nil before that.
func (s *Session) Feedback() *feedback.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback
}

// IncompleteFrames reports the video/audio abandoned-frame counters
// (Testable Property 5's incomplete-frame metric); both are zero before
// StreamReady.
func (s *Session) IncompleteFrames() (video, audio int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media == nil {
		return 0, 0
	}
	return s.media.VideoIncompleteFrames(), s.media.AudioIncompleteFrames()
}

// transition moves the state machine forward and notifies cb.StateChanged.
// Every non-Stopped caller that can fail routes through fail/stopInternal,
// which always ends in Stopped — satisfying Testable Property 9 (any
// non-terminal state can reach Stopped, and Stopped has no exit).
func (s *Session) transition(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	if s.cb.StateChanged != nil {
		s.cb.StateChanged(next)
	}
}

func (s *Session) fail(op string, kind rperrors.Kind, err error) error {
	wrapped := rperrors.New(op, kind, err)
	s.mu.Lock()
	s.err = wrapped
	s.mu.Unlock()
	s.log.Error("session failed, stopping", wrapped)
	if s.cb.Error != nil {
		s.cb.Error(wrapped)
	}
	s.stopInternal()
	return wrapped
}

// Start drives the full Init->Running sequence synchronously, returning
// once streaming is live or a stage fails. On success, background tasks
// (control heartbeat inside *control.Channel, transport retransmit,
// feedback state flush) keep running until Stop is called or a later fatal
// error fires Callbacks.Error and transitions to Stopped.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.checkReachable(); err != nil {
		return s.fail("session.Start", rperrors.Unreachable, err)
	}
	s.transition(StateAuthPending)

	if err := s.connectControl(); err != nil {
		return s.fail("session.Start", errKindForControl(err), err)
	}
	s.transition(StateControlReady)

	sessionID := s.control.SessionID()
	if sessionID == nil {
		return s.fail("session.Start", rperrors.Protocol, fmt.Errorf("control channel never delivered a SessionId"))
	}
	s.transition(StateBigPending)

	if err := s.connectTransport(); err != nil {
		return s.fail("session.Start", rperrors.Transport, err)
	}

	result, err := s.negotiateBigPayload(sessionID)
	if err != nil {
		return s.fail("session.Start", rperrors.CryptoRejected, err)
	}
	s.transition(StateStreamReady)

	s.wireMediaAndFeedback()

	s.transition(StateRunning)
	if s.cb.AudioConfig != nil {
		s.cb.AudioConfig(result.StreamInfo)
	}

	s.wg.Add(1)
	go s.feedbackFlushLoop()

	return nil
}

// checkReachable performs the Init->AuthPending directed DDP status probe.
func (s *Session) checkReachable() error {
	port, ok := ddp.PortFor(s.kind)
	if !ok {
		return fmt.Errorf("session: no DDP port known for console kind %q", s.kind)
	}
	status, err := ddp.Status(s.host, port, ReachabilityTimeout)
	if err != nil {
		return err
	}
	if status.Code != ddp.StatusOK {
		return fmt.Errorf("session: host %s not reachable (status %d)", s.host, status.Code)
	}
	return nil
}

// connectControl drives the C5 init/auth handshake and waits for the first
// SessionId frame (ControlReady's precondition).
func (s *Session) connectControl() error {
	sessionReady := make(chan struct{}, 1)
	s.control = control.NewChannel(s.host, s.hostProfile, control.Callbacks{
		SessionReady: func([]byte) {
			select {
			case sessionReady <- struct{}{}:
			default:
			}
		},
		Terminated: func(err error) {
			if err != nil {
				s.fail("session.control", rperrors.Transport, err)
			}
		},
	})
	if err := s.control.Connect(s.ctx, ControlTimeout); err != nil {
		return err
	}
	select {
	case <-sessionReady:
		return nil
	case <-time.After(ControlTimeout):
		return fmt.Errorf("session: no SessionId frame within %s", ControlTimeout)
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// connectTransport dials the C6 UDP socket and drives its INIT/COOKIE
// handshake.
func (s *Session) connectTransport() error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return err
	}
	peer, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.host, strconv.Itoa(transport.Port)))
	if err != nil {
		conn.Close()
		return err
	}
	s.udpConn = conn
	s.transport = transport.New(conn, peer)
	if err := s.transport.Handshake(ControlTimeout); err != nil {
		return err
	}
	s.transport.Run(s.ctx)
	return nil
}

// negotiateBigPayload runs the C7 negotiator over the now-handshaken
// transport, using the control channel's captured material.
func (s *Session) negotiateBigPayload(sessionID []byte) (bigpayload.Result, error) {
	key, nonce := s.control.ControlCipherMaterial()
	s.negotiator = bigpayload.New(s.transport)
	cfg := bigpayload.Config{
		ClientVersion: s.opts.ClientVersion,
		SessionKey:    sessionID,
		Width:         s.opts.Width,
		Height:        s.opts.Height,
		MaxFPS:        s.opts.MaxFPS,
		BitrateKbps:   s.opts.BitrateKbps,
		MTUIn:         defaultMTU,
		RTTHint:       int(defaultRTT.Milliseconds()),
		ControlKey:    key,
		ControlNonce:  nonce,
	}
	return s.negotiator.Run(s.ctx, cfg, BigPayloadTimeout)
}

// wireMediaAndFeedback installs the C8 frame receiver and the C9 feedback
// controller once ciphers are live and STREAMINFO has been acknowledged.
func (s *Session) wireMediaAndFeedback() {
	s.media = media.NewReceiver(s.transport, s.opts.Sink, s.negotiator)
	s.feedback = feedback.NewController(s.transport)
}

// feedbackFlushLoop periodically flushes dirty stick state (Testable
// Property 7), matching spec.md section 5's 100-200ms feedback-state task.
func (s *Session) feedbackFlushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(feedbackStateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.feedback.FlushState(); err != nil {
				s.log.Warn("feedback flush failed", "error", err.Error())
			}
		}
	}
}

// Stop transitions to Stopped, cancelling every background task and
// releasing sockets and ciphers, per spec.md section 4.10. Idempotent.
func (s *Session) Stop() {
	s.stopInternal()
}

func (s *Session) stopInternal() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.control != nil {
		s.control.Close()
	}
	if s.transport != nil {
		s.transport.Close()
	}
	s.wg.Wait()

	if s.cb.StateChanged != nil {
		s.cb.StateChanged(StateStopped)
	}
}

// Standby requests the console enter standby and stops the session.
func (s *Session) Standby() error {
	if s.control == nil {
		return fmt.Errorf("session: not connected")
	}
	err := s.control.Standby()
	s.stopInternal()
	return err
}

func errKindForControl(err error) rperrors.Kind {
	if rpErr, ok := err.(*rperrors.Error); ok {
		return rpErr.Kind
	}
	return rperrors.AuthFailed
}

// noopSink is the default media.FrameSink for sessions that never attach a
// real decoder (e.g. a headless connectivity check).
type noopSink struct{}

func (noopSink) AcceptVideo(frameIndex uint16, payload []byte) {}
func (noopSink) AcceptAudio(frameIndex uint16, payload []byte) {}
