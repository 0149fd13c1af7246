// Package feedback implements spec.md section 4.9: the controller-feedback
// channel, a periodic stick-state substream (type 4) and an edge-triggered
// button-event substream (type 5), both carried unreliably over C6.
//
// Grounded on original_source/pyremoteplay/controller.py's Controller
// (update_sticks/_button/_send_event/_add_event_buffer, MAX_EVENTS=5,
// STATE_INTERVAL_MAX_MS/MIN_MS) for behavior, and on
// moonlight-common-go/input/input.go's private gamepadState's `dirty bool`
// suppress-duplicate-send pattern for the Go-idiomatic shape of that
// behavior (a dedicated struct with an explicit dirty flag rather than a
// `== self._last_state` dict comparison on every tick).
package feedback

// StickMax/StickMin are the saturation bounds for one scaled stick axis
// (spec.md section 4.9: floats in [-1.0, 1.0] scaled to i16, saturating at
// +-0x7fff).
const (
	StickMax int16 = 0x7fff
	StickMin int16 = -0x7fff
)

// ScaleAxis converts a float in [-1.0, 1.0] to the saturated i16 range,
// truncating toward zero (not rounding) per Testable Property/Scenario S6:
// value=0.5 yields 0x3fff, not 0x4000.
func ScaleAxis(value float64) int16 {
	scaled := int32(float64(StickMax) * value)
	if scaled > int32(StickMax) {
		scaled = int32(StickMax)
	}
	if scaled < int32(StickMin) {
		scaled = int32(StickMin)
	}
	return int16(scaled)
}

// Stick is one analog stick's current axis values.
type Stick struct {
	X, Y int16
}

// ControllerState is both sticks' current positions, per spec.md section
// 4.9's ControllerState{left_stick:(i16 x, i16 y), right_stick:(i16 x, i16 y)}.
type ControllerState struct {
	Left, Right Stick
}

// Encode renders the state as the 8-byte wire payload: left.x, left.y,
// right.x, right.y, each big-endian i16.
func (s ControllerState) Encode() []byte {
	buf := make([]byte, 8)
	putInt16(buf[0:2], s.Left.X)
	putInt16(buf[2:4], s.Left.Y)
	putInt16(buf[4:6], s.Right.X)
	putInt16(buf[6:8], s.Right.Y)
	return buf
}

func putInt16(b []byte, v int16) {
	b[0] = byte(uint16(v) >> 8)
	b[1] = byte(uint16(v))
}
