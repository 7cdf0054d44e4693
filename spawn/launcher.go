package spawn

import (
	"context"
)

// Launcher creates an isolated context for boot and returns the controller's
// end of its channel. Closing that Conn must terminate the context and
// release whatever was created for it.
type Launcher interface {
	Launch(ctx context.Context, boot *Bootstrap) (Conn, error)
}

// GoroutineLauncher runs each context on its own goroutine in this process.
// The channel is a framed in-memory pipe, so values still only cross it as
// copies. It is the only launcher that accepts a Job.
type GoroutineLauncher struct {
	// Resources holds the rendered bootstrap until the context has read it.
	// Defaults to a fresh MemoryResources per launch.
	Resources ResourceStore

	// Options configure the isolate-side endpoint.
	Options []Option
}

func (l *GoroutineLauncher) Launch(ctx context.Context, boot *Bootstrap) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store := l.Resources
	if store == nil {
		store = NewMemoryResources()
	}

	text, err := boot.Render()
	if err != nil {
		return nil, err
	}
	id, err := store.Create(text)
	if err != nil {
		return nil, err
	}

	local, remote := Pipe()
	job := boot.Job
	go func() {
		b, err := openBootstrap(store, id)
		if err != nil {
			sendFault(remote, Fault{Message: err.Error(), Event: "bootstrap"})
			remote.Close()
			return
		}
		b.Job = job
		Attach(remote, b, l.Options...)
	}()

	return &releasingConn{
		Conn:    local,
		release: func() error { return store.Release(id) },
	}, nil
}

func openBootstrap(store ResourceStore, id string) (*Bootstrap, error) {
	text, err := store.Open(id)
	if err != nil {
		return nil, err
	}
	return ParseBootstrap(text)
}

// sendFault reports a failure that happened before an isolate endpoint
// existed.
func sendFault(conn Conn, f Fault) {
	p, err := NewPayload(f)
	if err != nil {
		return
	}
	_ = conn.WriteEnvelope(&Envelope{
		ID:    newCorrelationID(RoleIsolate),
		Event: EventError,
		Data:  p.raw,
	})
}
