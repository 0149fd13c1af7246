// Package session implements spec.md section 4.10: the per-connection
// orchestrator state machine that sequences discovery reachability, the C5
// control handshake, the C7 big-payload negotiation, and the C8/C9 media
// and feedback channels into one cancellable life cycle.
//
// Grounded on moonlight-common-go/limelight/client.go's Client.Start, the
// clearest template in the pack for a linear, cancellable, multi-substage
// connection life-cycle: that file drives
// PlatformInit->RTSPHandshake->ControlStreamInit->VideoStreamInit->
// AudioStreamInit->InputStreamInit->Complete via notifyStageStarting/
// notifyStageComplete/notifyStageFailed around each sub-step, cleaning up
// through the stages already started on any failure. This package
// generalizes that exact shape to Remote Play's
// Init->AuthPending->ControlReady->BigPending->StreamReady->Running->Stopped.
package session

import "fmt"

// State is one node of the connection state machine (spec.md section 4.10).
type State int

const (
	StateInit State = iota
	StateAuthPending
	StateControlReady
	StateBigPending
	StateStreamReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAuthPending:
		return "AuthPending"
	case StateControlReady:
		return "ControlReady"
	case StateBigPending:
		return "BigPending"
	case StateStreamReady:
		return "StreamReady"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s has no outgoing transitions (Testable
// Property 9: Stopped is the only terminal state).
func (s State) Terminal() bool { return s == StateStopped }
