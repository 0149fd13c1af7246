package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAddIdentity(t *testing.T) {
	iv := make([]byte, 16)
	iv[5] = 0x42
	assert.Equal(t, iv, CounterAdd(0, iv))
}

func TestCounterAddAssociative(t *testing.T) {
	iv := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

	var a, b uint64 = 12345, 67890

	direct := CounterAdd(a+b, iv)
	stepped := CounterAdd(a, CounterAdd(b, iv))
	require.Equal(t, direct, stepped)
}

// TestCounterAddLiteral covers spec scenario S1: counter_add(44910, iv=0x00..01)
// increments the least-significant byte(s) by 44910 = 0xAF6E.
func TestCounterAddLiteral(t *testing.T) {
	iv := make([]byte, 16)
	iv[0] = 0x01

	got := CounterAdd(44910, iv)

	want := make([]byte, 16)
	want[0] = 0x6f
	want[1] = 0xaf
	assert.Equal(t, want, got)
}

func TestCounterAddCarryPropagates(t *testing.T) {
	iv := make([]byte, 4)
	iv[0] = 0xff
	iv[1] = 0xff

	got := CounterAdd(1, iv)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00}, got)
}
