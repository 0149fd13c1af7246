// Package profile holds the in-memory shape of a user's PSN identity and
// per-console registration credentials (spec.md section 3: UserProfile,
// HostProfile), decoded from loosely-typed maps via mapstructure the same
// way SilvaMendes-go-rtpengine decodes its config/session maps.
package profile

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ConsoleKind identifies a console generation, used both in discovery
// status and in the HostProfile key prefix ("<kind>-RegistKey" etc).
type ConsoleKind string

const (
	ConsolePS4 ConsoleKind = "PS4"
	ConsolePS5 ConsoleKind = "PS5"
)

// HostProfile is a per-(user, console) credential obtained during
// registration (spec.md section 4.2). Both fields must be non-empty.
type HostProfile struct {
	Kind      ConsoleKind `mapstructure:"kind"`
	RegistKey string      `mapstructure:"regist_key"`
	RPKey     string      `mapstructure:"rp_key"`
	Nickname  string      `mapstructure:"nickname"`
	Mac       string      `mapstructure:"mac"`
}

// Validate checks the HostProfile invariant from spec.md section 3.
func (h HostProfile) Validate() error {
	if h.RegistKey == "" {
		return errors.New("profile: HostProfile.RegistKey must be non-empty")
	}
	if h.RPKey == "" {
		return errors.New("profile: HostProfile.RPKey must be non-empty")
	}
	return nil
}

// UserProfile is a PSN identity: username, opaque base64 user id, and a
// mapping of console hardware id -> HostProfile.
type UserProfile struct {
	Username string                 `mapstructure:"username"`
	UserID   string                 `mapstructure:"id"`
	Hosts    map[string]HostProfile `mapstructure:"hosts"`
}

// HostFor returns the HostProfile registered for a console hardware id.
func (u UserProfile) HostFor(hardwareID string) (HostProfile, bool) {
	h, ok := u.Hosts[hardwareID]
	return h, ok
}

// Store is the in-memory, injectable collaborator the core reads/writes
// profiles through. The on-disk format/location of a profile store is an
// external concern (a Non-goal); this module only needs the in-memory
// shape and decode path to operate against in tests and at runtime.
type Store interface {
	Users() []UserProfile
	User(username string) (UserProfile, bool)
	Put(u UserProfile)
}

// MemStore is the default in-memory Store implementation.
type MemStore struct {
	users map[string]UserProfile
}

// NewMemStore builds an empty in-memory profile store.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]UserProfile)}
}

func (s *MemStore) Users() []UserProfile {
	out := make([]UserProfile, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *MemStore) User(username string) (UserProfile, bool) {
	u, ok := s.users[username]
	return u, ok
}

func (s *MemStore) Put(u UserProfile) {
	s.users[u.Username] = u
}

// DecodeUserProfile decodes a loosely-typed map (as read from an external
// JSON/YAML profile file) into a UserProfile via mapstructure, matching the
// weak-typing decode style this dependency is built for.
func DecodeUserProfile(raw map[string]any) (UserProfile, error) {
	var u UserProfile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &u,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return UserProfile{}, fmt.Errorf("profile: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return UserProfile{}, fmt.Errorf("profile: decode user profile: %w", err)
	}
	return u, nil
}

// DecodeHostProfile decodes a single host credential map into a
// HostProfile, validating its invariant before returning it.
func DecodeHostProfile(raw map[string]any) (HostProfile, error) {
	var h HostProfile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &h,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return HostProfile{}, fmt.Errorf("profile: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return HostProfile{}, fmt.Errorf("profile: decode host profile: %w", err)
	}
	if err := h.Validate(); err != nil {
		return HostProfile{}, err
	}
	return h, nil
}
