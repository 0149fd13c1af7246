package bigpayload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigPayloadRoundTrip(t *testing.T) {
	msg := TakionMessage{
		Type: PayloadBig,
		BigPayload: &BigPayload{
			ClientVersion: 7,
			SessionKey:    []byte("session-key"),
			LaunchSpec:    []byte("base64-launch-spec"),
			EncryptedKey:  []byte{0, 0, 0, 0},
			ECDHPubKey:    []byte("65-byte-pubkey-placeholder"),
			ECDHSig:       []byte("32-byte-hmac-placeholder"),
		},
	}
	got, err := DecodeTakionMessage(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.BigPayload)
	assert.Equal(t, *msg.BigPayload, *got.BigPayload)
	assert.Equal(t, PayloadBig, got.Type)
}

func TestBangPayloadRoundTrip(t *testing.T) {
	msg := TakionMessage{
		Type: PayloadBang,
		BangPayload: &BangPayload{
			VersionAccepted:      true,
			EncryptedKeyAccepted: true,
			ECDHPubKey:           []byte("remote-pubkey"),
			ECDHSig:              []byte("remote-sig"),
		},
	}
	got, err := DecodeTakionMessage(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.BangPayload)
	assert.Equal(t, *msg.BangPayload, *got.BangPayload)
}

func TestBangPayloadRejectedFlagsSurviveRoundTrip(t *testing.T) {
	msg := BangPayload{VersionAccepted: false, EncryptedKeyAccepted: false}
	got, err := DecodeBangPayload(msg.Encode())
	require.NoError(t, err)
	assert.False(t, got.VersionAccepted)
	assert.False(t, got.EncryptedKeyAccepted)
}

func TestSenkushaMTURoundTrip(t *testing.T) {
	msg := TakionMessage{
		Type: PayloadSenkusha,
		SenkushaPayload: &SenkushaPayload{
			Command:      SenkushaMTU,
			MTUReqID:     3,
			MTURequested: 1454,
		},
	}
	got, err := DecodeTakionMessage(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.SenkushaPayload)
	assert.Equal(t, SenkushaMTU, got.SenkushaPayload.Command)
	assert.EqualValues(t, 1454, got.SenkushaPayload.MTURequested)
}

func TestSenkushaEchoRoundTrip(t *testing.T) {
	msg := SenkushaPayload{Command: SenkushaEcho, EchoState: true}
	got, err := DecodeSenkushaPayload(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, SenkushaEcho, got.Command)
	assert.True(t, got.EchoState)
}

func TestStreamInfoPayloadRoundTrip(t *testing.T) {
	msg := StreamInfoPayload{
		Resolution: []Resolution{{
			Width: 1920, Height: 1080, VideoHeader: []byte("video-header-bytes"),
		}},
		AudioHeader:               make([]byte, 32),
		StartTimeout:              100,
		AfkTimeout:                100,
		AfkTimeoutDisconnect:      100,
		CongestionControlInterval: 10,
	}
	got, err := DecodeStreamInfoPayload(msg.Encode())
	require.NoError(t, err)
	require.Len(t, got.Resolution, 1)
	assert.EqualValues(t, 1920, got.Resolution[0].Width)
	assert.EqualValues(t, 1080, got.Resolution[0].Height)
	assert.Equal(t, []byte("video-header-bytes"), got.Resolution[0].VideoHeader)
	assert.Equal(t, msg.AudioHeader, got.AudioHeader)
	assert.EqualValues(t, 100, got.StartTimeout)
}

func TestCorruptPayloadRoundTrip(t *testing.T) {
	msg := TakionMessage{Type: PayloadCorruptFrame, CorruptPayload: &CorruptPayload{Start: 5, End: 9}}
	got, err := DecodeTakionMessage(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.CorruptPayload)
	assert.EqualValues(t, 5, got.CorruptPayload.Start)
	assert.EqualValues(t, 9, got.CorruptPayload.End)
}

func TestDisconnectPayloadRoundTrip(t *testing.T) {
	msg := TakionMessage{Type: PayloadDisconnect, DisconnectPayload: &DisconnectPayload{Reason: "Client Disconnecting"}}
	got, err := DecodeTakionMessage(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.DisconnectPayload)
	assert.Equal(t, "Client Disconnecting", got.DisconnectPayload.Reason)
}

func TestDecodeTakionMessageRejectsTruncatedVarint(t *testing.T) {
	_, err := DecodeTakionMessage([]byte{0x08, 0x80})
	assert.Error(t, err)
}
