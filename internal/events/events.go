// Package events holds the in-process publishers used when no broker is
// configured and in tests.
package events

import (
	"context"
	"sync"
	"time"

	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
)

// DefaultPublishTimeout bounds one post-commit publish.
const DefaultPublishTimeout = 2 * time.Second

// Detach returns the context for publishing after a commit. It outlives the
// caller's cancellation and ends after timeout, so a slow broker delays the
// caller by at most timeout.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Message is one event captured by a Recorder.
type Message struct {
	Topic string
	Key   string
	Event any
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned from Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, topic string, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Event: event})
	return r.Err
}

// Messages returns the events recorded on topic, oldest first.
func (r *Recorder) Messages(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

var (
	_ interfaces.EventPublisher = Nop{}
	_ interfaces.EventPublisher = (*Recorder)(nil)
)
