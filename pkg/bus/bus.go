package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
)

// Publisher publishes JSON encoded payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Bus wraps a NATS connection for publishing and consuming node events.
type Bus struct {
	conn *nats.Conn
}

var _ Publisher = (*Bus)(nil)

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil || b.conn == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

// subscription drains a NATS subscription once, either when Close is called
// or when the context passed to Subscribe ends.
type subscription struct {
	drain   func() error
	once    sync.Once
	err     error
	done    chan struct{}
	stopped chan struct{}
}

func newSubscription(ctx context.Context, drain func() error) *subscription {
	s := &subscription{
		drain:   drain,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(s.stopped)
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.drain()
	})
	return s.err
}

// Subscribe invokes fn for each message on subj (wildcards allowed) until ctx
// is cancelled or the returned Closer is closed.
func (b *Bus) Subscribe(ctx context.Context, subj string, fn func(ctx context.Context, subject string, data []byte) error) (io.Closer, error) {
	if b == nil || b.conn == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		_ = fn(handlerCtx, msg.Subject, msg.Data)
	}

	sub, err := b.conn.Subscribe(subj, handler)
	if err != nil {
		return nil, err
	}
	return newSubscription(ctx, sub.Drain), nil
}
