package feedback

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ktnrg45/goremoteplay/internal/rperrors"
	"github.com/ktnrg45/goremoteplay/internal/transport"
)

// MaxEvents bounds the feedback-event ring buffer at 5, per spec.md
// Testable Property 8 — overriding
// original_source/pyremoteplay/feedback.py's MAX_EVENTS=16 in favor of the
// newer original_source/pyremoteplay/controller.py's MAX_EVENTS=5, which
// matches the specification's explicit, non-ambiguous bound (see
// DESIGN.md's C9 feedback entry).
const MaxEvents = 5

// Sender is the subset of *transport.Transport the feedback channel needs;
// narrowed to keep this package's dependency on the transport small and to
// make it mockable in tests.
type Sender interface {
	SendMedia(pktType, streamID, protoID uint8, payload []byte) error
}

// Controller tracks one session's stick state and button-event queue and
// ships them unreliably over C6, per spec.md section 4.9. Grounded on
// original_source/pyremoteplay/controller.py's Controller
// (update_sticks/_button/_send_event/_add_event_buffer), with dirty-flag
// stick suppression in the idiom of
// moonlight-common-go/input/input.go's gamepadState.
type Controller struct {
	mu sync.Mutex

	t Sender

	state    ControllerState
	lastSent ControllerState
	dirty    bool

	stateSeq uint16
	eventSeq uint16

	// events is the ring buffer in appendleft order: events[0] is the most
	// recently added, per controller.py's `deque([], MAX_EVENTS)` fed via
	// appendleft.
	events [][]byte
}

// NewController constructs a Controller sending over t.
func NewController(t Sender) *Controller {
	return &Controller{t: t}
}

// SetAxis sets one axis of one stick, scaling and saturating value per
// ScaleAxis, and marks the state dirty only if the scaled value actually
// changed (Testable Property 7).
func (c *Controller) SetAxis(stick, axis string, value float64) error {
	scaled := ScaleAxis(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	target, err := c.stickPtr(stick)
	if err != nil {
		return err
	}
	var current *int16
	switch strings.ToLower(axis) {
	case "x":
		current = &target.X
	case "y":
		current = &target.Y
	default:
		return rperrors.New("feedback.SetAxis", rperrors.Protocol, fmt.Errorf("invalid axis %q: expected \"x\" or \"y\"", axis))
	}
	if *current == scaled {
		return nil
	}
	*current = scaled
	c.dirty = true
	return nil
}

func (c *Controller) stickPtr(stick string) (*Stick, error) {
	switch strings.ToLower(stick) {
	case "left":
		return &c.state.Left, nil
	case "right":
		return &c.state.Right, nil
	default:
		return nil, rperrors.New("feedback.stickPtr", rperrors.Protocol, fmt.Errorf("invalid stick %q: expected \"left\" or \"right\"", stick))
	}
}

// FlushState sends the current stick state on the state substream (type 4)
// only if it differs from the last-sent state, per Testable Property 7 and
// spec.md section 4.9's "sent only when state differs from last-sent".
// Intended to be called by the session orchestrator on its 100-200ms timer.
func (c *Controller) FlushState() error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	payload := c.state.Encode()
	seq := c.stateSeq
	c.stateSeq++
	c.lastSent = c.state
	c.dirty = false
	c.mu.Unlock()

	return c.t.SendMedia(transport.TypeFeedbackState, 0, uint8(seq), payload)
}

// ButtonAction mirrors controller.py's ButtonAction (press/release/tap).
type ButtonAction int

const (
	ActionPress ButtonAction = iota
	ActionRelease
	ActionTap
)

// Button emulates pressing, releasing, or tapping (press immediately
// followed by release in the same send) a button, appending to the
// bounded event ring buffer and flushing it.
func (c *Controller) Button(button Button, action ButtonAction) error {
	c.mu.Lock()
	switch action {
	case ActionPress:
		c.pushEvent(Event{Button: button, IsActive: true})
	case ActionRelease:
		c.pushEvent(Event{Button: button, IsActive: false})
	case ActionTap:
		c.pushEvent(Event{Button: button, IsActive: true})
		c.pushEvent(Event{Button: button, IsActive: false})
	}
	payload := c.concatEvents()
	seq := c.eventSeq
	c.eventSeq++
	c.mu.Unlock()

	return c.t.SendMedia(transport.TypeFeedbackEvent, 0, uint8(seq), payload)
}

// pushEvent prepends e's encoding to the ring buffer, evicting the oldest
// entry once length exceeds MaxEvents (Testable Property 8). Caller must
// hold c.mu.
func (c *Controller) pushEvent(e Event) {
	buf := e.Encode()
	c.events = append([][]byte{buf}, c.events...)
	if len(c.events) > MaxEvents {
		c.events = c.events[:MaxEvents]
	}
}

// concatEvents joins the ring buffer newest-first, matching
// controller.py's `b"".join(self._event_buf)` over a deque fed by
// appendleft. Caller must hold c.mu.
func (c *Controller) concatEvents() []byte {
	total := 0
	for _, e := range c.events {
		total += len(e)
	}
	out := make([]byte, 0, total)
	for _, e := range c.events {
		out = append(out, e...)
	}
	return out
}

// State returns a copy of the controller's current (not necessarily sent)
// stick state, for tests and diagnostics.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
