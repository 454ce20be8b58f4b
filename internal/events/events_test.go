package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorder_FiltersByTopic(t *testing.T) {
	t.Parallel()

	r := &Recorder{}
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, "a", "k1", 1))
	require.NoError(t, r.Publish(ctx, "b", "k2", 2))
	require.NoError(t, r.Publish(ctx, "a", "k3", 3))

	got := r.Messages("a")
	require.Len(t, got, 2)
	require.Equal(t, "k1", got[0].Key)
	require.Equal(t, 3, got[1].Event)
	require.Empty(t, r.Messages("c"))
}

func TestRecorder_ReturnsConfiguredError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	r := &Recorder{Err: boom}
	require.ErrorIs(t, r.Publish(context.Background(), "a", "k", nil), boom)
	require.Len(t, r.Messages("a"), 1)
}

func TestNop_Publish(t *testing.T) {
	t.Parallel()
	require.NoError(t, Nop{}.Publish(context.Background(), "a", "k", struct{}{}))
}

func TestDetach_SurvivesCallerCancellationWithinTimeout(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	ctx, done := Detach(parent, 50*time.Millisecond)
	defer done()
	cancel()

	require.NoError(t, ctx.Err())
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestDetach_DefaultsTimeout(t *testing.T) {
	t.Parallel()

	ctx, done := Detach(context.Background(), 0)
	defer done()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(DefaultPublishTimeout), deadline, time.Second)
}
