package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdownCancelsRunningTasks(t *testing.T) {
	s := New(context.Background(), nil)
	started := make(chan struct{})
	returned := make(chan struct{})

	s.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(returned)
		return nil
	})

	<-started
	require.NoError(t, s.Shutdown())
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestShutdownReturnsFirstTaskError(t *testing.T) {
	s := New(context.Background(), nil)
	boom := errors.New("boom")

	s.Go(func(ctx context.Context) error {
		return boom
	})
	s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := s.Shutdown()
	require.ErrorIs(t, err, boom)
}
