package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

type fakeRunner struct {
	syncErr    error
	syncResult []SourceStatus
	syncDelay  time.Duration
}

func (f *fakeRunner) Sync(ctx context.Context, cfg *peerconfig.Config, modes map[string]peerconfig.SyncMode, progress func(Estimate)) ([]SourceStatus, error) {
	if f.syncDelay > 0 {
		select {
		case <-time.After(f.syncDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	progress(Estimate{Phase: PhaseDone})
	return f.syncResult, f.syncErr
}

func (f *fakeRunner) Restore(ctx context.Context, dir string, before bool, sources []string) error {
	return nil
}

func (f *fakeRunner) Execute(ctx context.Context, argv, envp []string) error { return nil }

func TestSessionSyncRequiresActiveIdle(t *testing.T) {
	s := New("sess-1", "test", PriorityDefault, &fakeRunner{}, peerconfig.NewConfig("test"))
	err := s.Sync(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.InvalidCall))
}

func TestSessionSyncHappyPath(t *testing.T) {
	runner := &fakeRunner{syncResult: []SourceStatus{{Source: "addressbook", Status: apperror.Code("")}}}
	s := New("sess-1", "test", PriorityDefault, runner, peerconfig.NewConfig("test"))
	s.SetActive(true)

	err := s.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Done, s.State())

	state, sErr, statuses := s.GetStatus()
	assert.Equal(t, Done, state)
	assert.NoError(t, sErr)
	assert.Len(t, statuses, 1)
}

func TestSessionAbortOnlyAllowedWhileRunning(t *testing.T) {
	s := New("sess-1", "test", PriorityDefault, &fakeRunner{}, peerconfig.NewConfig("test"))
	err := s.Abort()
	require.Error(t, err)
}

func TestSessionAbortDuringSyncCancelsContext(t *testing.T) {
	runner := &fakeRunner{syncDelay: 500 * time.Millisecond}
	s := New("sess-1", "test", PriorityDefault, runner, peerconfig.NewConfig("test"))
	s.SetActive(true)

	done := make(chan error, 1)
	go func() { done <- s.Sync(context.Background(), nil) }()

	// Give Sync a moment to reach RUNNING before aborting.
	for i := 0; i < 100 && s.State() != Running; i++ {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, s.Abort())

	err := <-done
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.StatusUserAbort))

	_, sErr, _ := s.GetStatus()
	assert.True(t, apperror.Is(sErr, apperror.StatusUserAbort))
}

func TestSessionRequestPasswordTimesOut(t *testing.T) {
	s := New("sess-1", "test", PriorityDefault, &fakeRunner{}, peerconfig.NewConfig("test"))
	_, err := s.RequestPassword(context.Background(), PasswordRequest{Description: "password"}, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.StatusPasswordTimeout))
}

func TestSessionRequestPasswordDelivered(t *testing.T) {
	s := New("sess-1", "test", PriorityDefault, &fakeRunner{}, peerconfig.NewConfig("test"))

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.SupplyPassword("hunter2")
	}()

	pw, err := s.RequestPassword(context.Background(), PasswordRequest{Description: "password"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}

func TestSessionSetConfigRejectsWhenNotActive(t *testing.T) {
	s := New("sess-1", "test", PriorityDefault, &fakeRunner{}, peerconfig.NewConfig("test"))
	s.state = Idle
	err := s.SetConfig(true, true, map[string]string{"PeerName": "Phone"})
	require.Error(t, err)
}
