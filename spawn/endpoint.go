package spawn

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Role says which side of the channel an Endpoint sits on. It never changes
// the wire format.
type Role int

const (
	RoleController Role = iota
	RoleIsolate
)

func (r Role) String() string {
	if r == RoleIsolate {
		return "isolate"
	}
	return "controller"
}

func (r Role) idPrefix() string {
	if r == RoleIsolate {
		return "worker_"
	}
	return "spawn_"
}

// Handler receives an event's payload. respond acknowledges the event; only
// the first call for a given inbound envelope is sent, and only when the
// sender asked for an acknowledgment.
type Handler func(p Payload, respond Responder)

// Responder sends v back as the acknowledgment of the event being handled.
type Responder func(v any)

// AckFunc receives the value a peer handler passed to its Responder.
type AckFunc func(p Payload)

// closeFlushTimeout bounds how long Close waits for queued envelopes,
// including the close notice itself, to reach the channel.
const closeFlushTimeout = time.Second

// Endpoint is one side of a channel. Both roles expose the same methods and
// speak the same envelopes.
//
// A read goroutine pulls envelopes off the channel and queues them for a
// dispatch goroutine, which runs handlers one at a time, back-to-back in
// registration order. EmitAck callbacks run on the dispatch goroutine in
// arrival order, so a handler must not block waiting for one. Request is
// answered by the read goroutine and may be called from inside a handler.
// Other methods may be called from any goroutine. Once closed, every method
// is a no-op.
type Endpoint struct {
	role     Role
	location Location
	loader   Loader
	scope    *Scope
	log      zerolog.Logger

	mu        sync.Mutex
	conn      Conn
	out       *outbox
	in        *inbox
	listeners map[string][]Handler
	pending   map[string]pendingAck
	closed    bool

	done chan struct{}
}

type pendingAck struct {
	cb AckFunc
	// inline acks are delivered by the read goroutine instead of being
	// queued behind handlers.
	inline bool
}

func newEndpoint(role Role, conn Conn, o options) *Endpoint {
	lg := o.logger.With().Str("role", role.String()).Logger()
	e := &Endpoint{
		role:      role,
		location:  *o.location,
		loader:    o.loader,
		log:       lg,
		conn:      conn,
		out:       newOutbox(conn, lg),
		in:        newInbox(),
		listeners: make(map[string][]Handler),
		pending:   make(map[string]pendingAck),
		done:      make(chan struct{}),
	}
	for _, l := range o.handlers {
		if l.h != nil {
			e.listeners[l.event] = append(e.listeners[l.event], l.h)
		}
	}
	return e
}

// start begins dispatching inbound envelopes.
func (e *Endpoint) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	go e.readLoop(e.conn, e.in)
	go e.dispatchLoop(e.in)
}

func (e *Endpoint) Role() Role { return e.role }

func (e *Endpoint) Location() Location { return e.location }

// Scope is the isolated context's namespace; nil on the controller.
func (e *Endpoint) Scope() *Scope { return e.scope }

// Done is closed when the endpoint closes.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// On appends h to the listeners of event. Registering the same handler twice
// makes it fire twice.
func (e *Endpoint) On(event string, h Handler) *Endpoint {
	if h == nil {
		return e
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e
	}
	e.listeners[event] = append(e.listeners[event], h)
	return e
}

// OnAll registers every handler in the map, in sorted event order.
func (e *Endpoint) OnAll(handlers map[string]Handler) *Endpoint {
	events := make([]string, 0, len(handlers))
	for event := range handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		e.On(event, handlers[event])
	}
	return e
}

// Emit sends event to the peer without asking for an acknowledgment.
func (e *Endpoint) Emit(event string, payload any) *Endpoint {
	e.send(event, payload, pendingAck{}, "")
	return e
}

// EmitAck sends event to the peer and calls onAck with the first value a peer
// handler responds with. onAck is never called if either side closes first.
func (e *Endpoint) EmitAck(event string, payload any, onAck AckFunc) *Endpoint {
	e.send(event, payload, pendingAck{cb: onAck}, "")
	return e
}

// Request is EmitAck that waits for the acknowledgment. It returns ErrClosed
// if the endpoint closes before the peer responds. The acknowledgment does not
// queue behind handlers, so a handler may call Request.
func (e *Endpoint) Request(ctx context.Context, event string, payload any) (Payload, error) {
	ch := make(chan Payload, 1)
	id, err := e.send(event, payload, pendingAck{cb: func(p Payload) { ch <- p }, inline: true}, "")
	if err != nil {
		return Payload{}, err
	}

	select {
	case p := <-ch:
		return p, nil
	case <-e.done:
		select {
		case p := <-ch:
			return p, nil
		default:
		}
		return Payload{}, ErrClosed
	case <-ctx.Done():
		e.forget(id)
		return Payload{}, ctx.Err()
	}
}

// ImportScripts loads scripts into the isolated context. On the controller
// it only asks the isolate to do so; on the isolate, ids are resolved
// against the controller's location and loaded before ImportScripts returns.
func (e *Endpoint) ImportScripts(ids ...string) *Endpoint {
	if len(ids) == 0 || e.Closed() {
		return e
	}
	if e.role == RoleController {
		return e.Emit(EventImport, ids)
	}

	resolved := e.location.ResolveAll(ids)
	if e.loader == nil {
		e.fault(Fault{Message: ErrNoLoader.Error(), Event: EventImport, Script: strings.Join(resolved, ", ")})
		return e
	}
	if err := e.loader.Load(e, resolved...); err != nil {
		f := Fault{Message: err.Error(), Event: EventImport}
		var se *ScriptError
		if errors.As(err, &se) {
			f.Message = se.Err.Error()
			f.Script = se.Script
			f.Stack = se.Stack
		}
		e.fault(f)
	}
	return e
}

// Close notifies the peer, tears down the channel and drops every listener
// and pending acknowledgment. Calling it again does nothing.
//
// The close notice gets at most a second to reach the channel. The peer reads
// it even while one of its handlers is busy, but if the channel itself stalls
// for longer the notice is lost and a controller peer reports the context as
// exited without closing.
func (e *Endpoint) Close() error {
	return e.teardown(true)
}

func (e *Endpoint) teardown(notify bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	out, in, conn := e.out, e.in, e.conn
	flush := time.Duration(0)
	if notify {
		out.push(&Envelope{ID: newCorrelationID(e.role), Event: EventClose})
		flush = closeFlushTimeout
	}
	e.out, e.in, e.conn = nil, nil, nil
	e.listeners, e.pending = nil, nil
	if e.scope != nil {
		e.scope.unexpose(e)
	}
	close(e.done)
	e.mu.Unlock()

	in.stop()
	out.shutdown(flush)
	err := conn.Close()

	e.log.Debug().Bool("notified", notify).Msg("endpoint closed")
	return err
}

// send enqueues an envelope and reports its id.
func (e *Endpoint) send(event string, payload any, ack pendingAck, id string) (string, error) {
	if e.Closed() {
		return "", ErrClosed
	}

	data, err := encodePayload(payload)
	if err != nil {
		e.log.Warn().Err(err).Str("event", event).Msg("payload not serializable, dropped")
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	if id == "" {
		id = newCorrelationID(e.role)
		for _, taken := e.pending[id]; taken; _, taken = e.pending[id] {
			id = newCorrelationID(e.role)
		}
	}

	env := &Envelope{ID: id, Event: event, Data: data}
	if ack.cb != nil {
		e.pending[id] = ack
		env.Ack = true
	}
	if !e.out.push(env) {
		delete(e.pending, id)
		return "", ErrClosed
	}
	return id, nil
}

func (e *Endpoint) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

func (e *Endpoint) readLoop(conn Conn, in *inbox) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			in.push(func() { e.channelLost(err) })
			return
		}
		if env.Event == EventAck && e.ackInline(env) {
			continue
		}
		if !in.push(func() { e.dispatch(env) }) {
			return
		}
	}
}

func (e *Endpoint) dispatchLoop(in *inbox) {
	for {
		fn, ok := in.pop()
		if !ok {
			return
		}
		fn()
	}
}

// ackInline settles a pending Request from the read goroutine.
func (e *Endpoint) ackInline(env *Envelope) bool {
	e.mu.Lock()
	pa, ok := e.pending[env.ID]
	if !ok || !pa.inline {
		e.mu.Unlock()
		return false
	}
	delete(e.pending, env.ID)
	e.mu.Unlock()

	pa.cb(Payload{raw: env.Data})
	return true
}

func (e *Endpoint) dispatch(env *Envelope) {
	if e.Closed() {
		return
	}
	p := Payload{raw: env.Data}

	switch env.Event {
	case EventAck:
		e.mu.Lock()
		pa, ok := e.pending[env.ID]
		delete(e.pending, env.ID)
		e.mu.Unlock()
		if !ok {
			e.log.Debug().Str("id", env.ID).Msg("stray acknowledgment dropped")
			return
		}
		e.call(EventAck, func() { pa.cb(p) })

	case EventImport:
		if e.role != RoleIsolate {
			e.log.Debug().Msg("import request ignored on controller")
			return
		}
		var ids []string
		if err := p.Decode(&ids); err != nil {
			e.fault(Fault{Message: "invalid import request: " + err.Error(), Event: EventImport})
			return
		}
		e.ImportScripts(ids...)

	case EventClose:
		e.teardown(false)

	default:
		e.invoke(env.Event, p, env.ID, env.Ack)
	}
}

func (e *Endpoint) invoke(event string, p Payload, id string, ack bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	handlers := append([]Handler(nil), e.listeners[event]...)
	e.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	respond := e.responder(id, ack)
	for _, h := range handlers {
		if e.Closed() {
			return
		}
		e.call(event, func() { h(p, respond) })
	}
}

// responder acknowledges the envelope id once. The first call wins.
func (e *Endpoint) responder(id string, ack bool) Responder {
	if !ack {
		return func(any) {}
	}
	var answered atomic.Bool
	return func(v any) {
		if answered.CompareAndSwap(false, true) {
			e.send(EventAck, v, pendingAck{}, id)
		}
	}
}

// call runs fn, turning a panic into a fault.
func (e *Endpoint) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.fault(faultFromPanic(r, event))
		}
	}()
	fn()
}

// fault reports an uncaught failure. Isolates forward it to the controller
// as an "error" event; the controller only logs its own.
func (e *Endpoint) fault(f Fault) {
	if e.role == RoleIsolate {
		e.log.Warn().Str("event", f.Event).Str("script", f.Script).Msg(f.Message)
		e.Emit(EventError, f)
		return
	}
	e.log.Error().Str("event", f.Event).Str("stack", f.Stack).Msg(f.Message)
}

func (e *Endpoint) channelLost(err error) {
	if e.Closed() {
		return
	}
	if e.role == RoleController {
		msg := "isolated context channel failed: " + err.Error()
		if isChannelClosed(err) {
			msg = "isolated context exited without closing"
		}
		if p, perr := NewPayload(Fault{Message: msg}); perr == nil {
			e.invoke(EventError, p, "", false)
		}
	}
	e.log.Debug().Err(err).Msg("channel lost")
	e.teardown(false)
}
