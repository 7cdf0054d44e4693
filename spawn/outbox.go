package spawn

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// outbox is an unbounded FIFO drained by a single writer goroutine, so
// enqueueing never waits on the channel.
type outbox struct {
	conn Conn
	log  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Envelope
	stopped bool

	drained chan struct{}
}

func newOutbox(conn Conn, log zerolog.Logger) *outbox {
	o := &outbox{
		conn:    conn,
		log:     log,
		drained: make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

// push enqueues env. It reports false once the outbox has been shut down.
func (o *outbox) push(env *Envelope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	o.queue = append(o.queue, env)
	o.cond.Signal()
	return true
}

// shutdown stops accepting envelopes and waits up to timeout for the queue to
// reach the channel.
func (o *outbox) shutdown(timeout time.Duration) {
	o.mu.Lock()
	o.stopped = true
	o.cond.Broadcast()
	o.mu.Unlock()

	select {
	case <-o.drained:
	case <-time.After(timeout):
		o.log.Debug().Dur("timeout", timeout).Msg("outbox not drained before close")
	}
}

func (o *outbox) run() {
	defer close(o.drained)

	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.stopped {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		env := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if err := o.conn.WriteEnvelope(env); err != nil {
			if errors.Is(err, ErrFrameSize) {
				o.log.Warn().Err(err).Str("event", env.Event).Msg("envelope too large, dropped")
				continue
			}
			if !isChannelClosed(err) {
				o.log.Warn().Err(err).Str("event", env.Event).Msg("write envelope")
			}
			o.discard()
			return
		}
	}
}

// discard drops everything queued after the channel failed.
func (o *outbox) discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.queue); n > 0 {
		o.log.Debug().Int("dropped", n).Msg("channel gone, dropping queued envelopes")
	}
	o.queue = nil
	o.stopped = true
}
