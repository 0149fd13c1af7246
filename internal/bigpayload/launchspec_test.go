package bigpayload

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
)

func TestMarshalMinifiedRewritesBWLossAndAppendsTrailingZero(t *testing.T) {
	ls := DefaultLaunchSpec()
	ls.StreamResolutions[0].Resolution.Width = 1280
	ls.StreamResolutions[0].Resolution.Height = 720
	ls.HandshakeKey = "aGFuZHNoYWtl"

	out, err := marshalMinified(ls)
	require.NoError(t, err)

	assert.True(t, bytes.HasSuffix(out, []byte{0x00}))
	s := string(out[:len(out)-1])
	assert.NotContains(t, s, " ")
	assert.Contains(t, s, `"bwLoss":0.001000,`)
	assert.NotContains(t, s, `"bwLoss":0.001,`)
}

func TestEncodeLaunchSpecXorsAgainstCounterZeroKeystream(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 16)
	nonce := bytes.Repeat([]byte{0xa5}, 16)

	ls := DefaultLaunchSpec()
	ls.HandshakeKey = "aGFuZHNoYWtl"

	encoded, err := EncodeLaunchSpec(ls, key, nonce)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	plain, err := marshalMinified(ls)
	require.NoError(t, err)
	require.Len(t, raw, len(plain))

	cipher := crypto.NewSessionCipher(key, nonce, 0)
	keystream, err := cipher.Encrypt(make([]byte, len(plain)))
	require.NoError(t, err)

	recovered := make([]byte, len(raw))
	for i := range recovered {
		recovered[i] = raw[i] ^ keystream[i]
	}
	assert.Equal(t, plain, recovered)
}

func TestEncodeLaunchSpecIsIdempotentAtCounterZero(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	nonce := bytes.Repeat([]byte{0x22}, 16)
	ls := DefaultLaunchSpec()
	ls.HandshakeKey = "aGFuZHNoYWtl"

	first, err := EncodeLaunchSpec(ls, key, nonce)
	require.NoError(t, err)
	second, err := EncodeLaunchSpec(ls, key, nonce)
	require.NoError(t, err)

	assert.Equal(t, first, second, "each call must build its own counter-0 cipher rather than sharing advancing state")
}

func TestDefaultLaunchSpecFieldOrderMatchesSpecSection6(t *testing.T) {
	ls := DefaultLaunchSpec()
	ls.HandshakeKey = "x"
	plain, err := marshalMinified(ls)
	require.NoError(t, err)
	s := string(plain)

	order := []string{`"sessionId"`, `"streamResolutions"`, `"network"`, `"slotId"`, `"appSpecification"`, `"konan"`, `"requestGameSpecification"`, `"userProfile"`, `"handshakeKey"`}
	lastIdx := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		require.GreaterOrEqual(t, idx, 0, "missing field %s", key)
		assert.Greater(t, idx, lastIdx, "field %s out of order", key)
		lastIdx = idx
	}
}
