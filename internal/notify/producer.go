package notify

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer wraps an async kafka writer behind a buffered inbox. Publishing
// never blocks and never panics: events that arrive after shutdown, or while
// the inbox is full, are dropped with a warning. Delivery errors are logged
// by the drain loop.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	lg      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewProducer creates a Producer for the given brokers and topic. buf sizes
// the inbox channel.
func NewProducer(brokers []string, topic string, buf int, lg *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		lg:      lg.Named("kafka"),
	}
}

// Start launches the drain loop. Cancelling ctx marks the producer closed,
// flushes whatever is already buffered, and closes the writer. The inbox
// channel itself is never closed; Publish checks the closed flag instead, so
// an operation finishing mid-shutdown cannot send on a closed channel.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.closed = true
				p.mu.Unlock()
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						if err := p.w.Close(); err != nil {
							p.lg.Warn("closing kafka writer", zap.Error(err))
						}
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.lg.Warn("publishing event",
			zap.String("key", string(m.Key)),
			zap.Error(err))
	}
}

// Publish enqueues a message for async delivery. After shutdown, or when the
// inbox is full, the message is dropped and logged rather than blocking or
// failing the caller.
func (p *Producer) Publish(key, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.lg.Warn("dropping event published after shutdown",
			zap.String("key", string(key)))
		return
	}
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now()}:
	default:
		p.lg.Warn("dropping event, inbox full",
			zap.String("key", string(key)))
	}
}

// WaitClosed blocks until the drain loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
