package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/profile"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
)

func newTestSession(cb Callbacks) *Session {
	return New("192.0.2.1", profile.ConsolePS4, profile.HostProfile{RegistKey: "ab", RPKey: "cd"}, Options{}, cb)
}

func TestNewAppliesResolutionAndBitrateDefaults(t *testing.T) {
	s := newTestSession(Callbacks{})
	assert.EqualValues(t, 960, s.opts.Width)
	assert.EqualValues(t, 540, s.opts.Height)
	assert.EqualValues(t, 60, s.opts.MaxFPS)
	assert.Equal(t, 6000, s.opts.BitrateKbps)
	assert.NotNil(t, s.opts.Sink, "a nil Sink must be replaced by noopSink")
	assert.Equal(t, StateInit, s.State())
}

func TestCheckReachableRejectsUnknownConsoleKind(t *testing.T) {
	s := New("192.0.2.1", profile.ConsoleKind("bogus"), profile.HostProfile{}, Options{}, Callbacks{})
	err := s.checkReachable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no DDP port known")
}

func TestFailTransitionsToStoppedAndNotifiesCallbacks(t *testing.T) {
	var states []State
	var reportedErr error
	s := newTestSession(Callbacks{
		StateChanged: func(st State) { states = append(states, st) },
		Error:        func(err error) { reportedErr = err },
	})

	underlying := errors.New("boom")
	err := s.fail("session.test", rperrors.Unreachable, underlying)

	require.Error(t, err)
	rpErr, ok := err.(*rperrors.Error)
	require.True(t, ok)
	assert.Equal(t, rperrors.Unreachable, rpErr.Kind)
	assert.ErrorIs(t, rpErr.Err, underlying)

	assert.Equal(t, StateStopped, s.State())
	assert.Same(t, err, s.Err())
	assert.Same(t, err, reportedErr)
	require.NotEmpty(t, states)
	assert.Equal(t, StateStopped, states[len(states)-1])
}

func TestStopIsIdempotentWithoutHavingStarted(t *testing.T) {
	var stoppedCount int
	s := newTestSession(Callbacks{
		StateChanged: func(st State) {
			if st == StateStopped {
				stoppedCount++
			}
		},
	})

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, stoppedCount, "a second Stop must be a no-op")
}

func TestStandbyWithoutConnectingFails(t *testing.T) {
	s := newTestSession(Callbacks{})
	err := s.Standby()
	assert.Error(t, err)
}

func TestErrKindForControlUnwrapsRPErrorKind(t *testing.T) {
	wrapped := rperrors.New("control.sendAuth", rperrors.AuthFailed, errors.New("non-200"))
	assert.Equal(t, rperrors.AuthFailed, errKindForControl(wrapped))

	assert.Equal(t, rperrors.AuthFailed, errKindForControl(errors.New("plain")))
}

func TestNoopSinkAcceptsWithoutPanicking(t *testing.T) {
	var sink noopSink
	assert.NotPanics(t, func() {
		sink.AcceptVideo(1, []byte("x"))
		sink.AcceptAudio(1, []byte("x"))
	})
}
