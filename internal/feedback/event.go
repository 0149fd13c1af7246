package feedback

// Button enumerates the DualShock-style buttons FeedbackEvent.Type names
// in original_source/pyremoteplay/controller.py (FeedbackEvent.Type is an
// IntEnum imported from the filtered-out stream_packets.py, so the numeric
// codes below are a plausible reconstruction from the button-name set the
// rest of the source references — flagged the same way as the big-payload
// field numbers in internal/bigpayload and the register key tables in
// internal/register — not a byte-for-byte reproduction of Sony's wire
// values).
type Button uint8

const (
	ButtonUp Button = iota
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonL1
	ButtonR1
	ButtonL2
	ButtonR2
	ButtonL3
	ButtonR3
	ButtonCross
	ButtonCircle
	ButtonSquare
	ButtonTriangle
	ButtonOptions
	ButtonShare
	ButtonPSButton
	ButtonTouchpad
)

// EventLength is the fixed wire size of one packed FeedbackEvent,
// mirroring controller.py's FeedbackEvent.LENGTH-sized buffer
// (bytearray(FeedbackEvent.LENGTH); event.pack(buf)).
const EventLength = 8

// Event is one button press/release transition, per spec.md section 4.9:
// "{button_kind: u8, is_active: bool} plus per-button payload".
type Event struct {
	Button   Button
	IsActive bool
}

// Encode packs e into a fixed EventLength-byte buffer: button kind, active
// flag, then zero-filled per-button payload (this client never needs
// pressure-sensitive analog button values, only digital press/release).
func (e Event) Encode() []byte {
	buf := make([]byte, EventLength)
	buf[0] = byte(e.Button)
	if e.IsActive {
		buf[1] = 1
	}
	return buf
}
