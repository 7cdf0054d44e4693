// Package spawn runs code in isolated execution contexts and talks to it
// through a symmetric event protocol.
//
// A controller creates a context with New and gets back an Endpoint; the
// context gets an identical Endpoint of its own before any of its code runs.
// Both sides register listeners with On, send events with Emit, and may ask
// for a single acknowledgment with EmitAck. Contexts share no memory with the
// controller: every payload crosses the channel as JSON.
//
//	ep, err := spawn.New(ctx, spawn.Job(func(w *spawn.Endpoint) {
//		w.On("greet", func(p spawn.Payload, respond spawn.Responder) {
//			var name string
//			_ = p.Decode(&name)
//			respond("Hello, " + name + "!")
//		})
//	}))
//	if err != nil {
//		return err
//	}
//	defer ep.Close()
//	ep.EmitAck("greet", "Kevin", func(p spawn.Payload) { fmt.Println(p) })
package spawn

import (
	"context"
	"fmt"
)

// Job is the body of an in-process isolated context. It receives the
// context's endpoint and runs before any inbound event is dispatched, so
// handlers it registers see every message. Long-running work belongs on its
// own goroutine, watching ep.Done().
type Job func(ep *Endpoint)

// Script names a script to import into an otherwise empty context.
type Script string

// Source is what New runs in a new context: a Job or a Script.
type Source interface {
	isSource()
}

func (Job) isSource()    {}
func (Script) isSource() {}

// New creates an isolated context running src and returns the controller's
// endpoint for it.
func New(ctx context.Context, src Source, opts ...Option) (*Endpoint, error) {
	o := buildOptions(opts)

	boot := &Bootstrap{
		Protocol: ProtocolVersion,
		Name:     o.name,
		Location: *o.location,
	}

	var script Script
	switch s := src.(type) {
	case Job:
		boot.Job = s
	case Script:
		script = s
	}

	launcher := o.launcher
	if launcher == nil {
		launcher = &GoroutineLauncher{
			Options: []Option{WithLoader(o.loader), WithLogger(*o.logger)},
		}
	}

	conn, err := launcher.Launch(ctx, boot)
	if err != nil {
		return nil, fmt.Errorf("launch context: %w", err)
	}

	ep := newEndpoint(RoleController, conn, o)
	ep.start()

	if script != "" {
		ep.ImportScripts(string(script))
	}
	return ep, nil
}

// Attach builds the isolate side of a context over conn: it exposes the
// endpoint under boot.Name in a fresh Scope, runs boot.Job, and then starts
// dispatching. Imports resolve against boot.Location.
func Attach(conn Conn, boot *Bootstrap, opts ...Option) *Endpoint {
	o := buildOptions(opts)
	loc := boot.Location
	o.location = &loc

	ep := newEndpoint(RoleIsolate, conn, o)
	ep.scope = NewScope()
	ep.scope.Expose(boot.Name, ep)

	if boot.Job != nil {
		ep.call("bootstrap", func() { boot.Job(ep) })
	}
	ep.start()
	return ep
}
