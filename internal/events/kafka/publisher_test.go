package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
)

func TestPublisher_PublishRejectsUnencodableEvent(t *testing.T) {
	t.Parallel()

	p := NewPublisher([]string{"127.0.0.1:9092"}, "test.", 0)
	t.Cleanup(func() { _ = p.Close() })

	err := p.Publish(context.Background(), "commission_distributed", "m-1", make(chan int))
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal commission_distributed event")
}

func TestNewPublisher_WriteTimeout(t *testing.T) {
	t.Parallel()

	p := NewPublisher([]string{"127.0.0.1:9092"}, "test.", 0)
	t.Cleanup(func() { _ = p.Close() })
	require.Equal(t, events.DefaultPublishTimeout, p.writer.WriteTimeout)

	q := NewPublisher([]string{"127.0.0.1:9092"}, "test.", 300*time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })
	require.Equal(t, 300*time.Millisecond, q.writer.WriteTimeout)
}
