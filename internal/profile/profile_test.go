package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUserProfile(t *testing.T) {
	raw := map[string]any{
		"username": "alice",
		"id":       "YWxpY2U=",
		"hosts": map[string]any{
			"aa:bb:cc:dd:ee:ff": map[string]any{
				"kind":        "PS5",
				"regist_key":  "deadbeef",
				"rp_key":      "00112233445566778899aabbccddeeff",
				"nickname":    "living-room",
				"mac":         "aa:bb:cc:dd:ee:ff",
			},
		},
	}

	u, err := DecodeUserProfile(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	h, ok := u.HostFor("aa:bb:cc:dd:ee:ff")
	require.True(t, ok)
	assert.Equal(t, ConsolePS5, h.Kind)
	assert.NoError(t, h.Validate())
}

func TestHostProfileValidateRejectsEmpty(t *testing.T) {
	h := HostProfile{Kind: ConsolePS4, RegistKey: "", RPKey: "abc"}
	assert.Error(t, h.Validate())
}

func TestMemStorePutAndUser(t *testing.T) {
	store := NewMemStore()
	store.Put(UserProfile{Username: "bob"})

	u, ok := store.User("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", u.Username)

	_, ok = store.User("nobody")
	assert.False(t, ok)
}
