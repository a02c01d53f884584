package agent

import (
	"context"
	"sync"
)

const messageChannelBuffer = 64

// pump is the channel plumbing shared by the providers. The producer
// goroutine owns sends and calls finish exactly once.
type pump struct {
	messages chan Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func newPump() *pump {
	return &pump{
		messages: make(chan Message, messageChannelBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Messages returns the ordered message stream.
func (p *pump) Messages() <-chan Message {
	return p.messages
}

// Err returns the reason the stream ended early, or nil.
func (p *pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pump) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// emit delivers m unless the consumer went away. A false return means the
// producer must stop.
func (p *pump) emit(ctx context.Context, m Message) bool {
	select {
	case p.messages <- m:
		return true
	case <-ctx.Done():
		p.fail(ctx.Err())
		return false
	case <-p.stop:
		return false
	}
}

func (p *pump) finish() {
	close(p.messages)
	close(p.done)
}

func (p *pump) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *pump) stopped() <-chan struct{} {
	return p.stop
}
