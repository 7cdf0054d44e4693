package spawn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-spawn/internal/testutil/testlog"
)

const waitTimeout = 2 * time.Second

var testLocation = Location{
	Origin:   "http://example.test",
	BasePath: "http://example.test/app/",
}

func testOptions(t *testing.T, opts ...Option) []Option {
	t.Helper()
	return append([]Option{WithLogger(testlog.Start(t)), WithLocation(testLocation)}, opts...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestContext starts an in-process context running job and closes it when
// the test ends.
func newTestContext(t *testing.T, job Job, opts ...Option) *Endpoint {
	t.Helper()
	ep, err := New(testContext(t), job, testOptions(t, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })
	return ep
}

// rawPeer drives the far end of a Pipe by hand. Every frame it receives is
// queued on frames; readErr gets the error that ended its read loop.
type rawPeer struct {
	t       *testing.T
	conn    Conn
	frames  chan *Envelope
	readErr chan error
}

func newRawPeer(t *testing.T, conn Conn) *rawPeer {
	p := &rawPeer{
		t:       t,
		conn:    conn,
		frames:  make(chan *Envelope, 64),
		readErr: make(chan error, 1),
	}
	go func() {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				p.readErr <- err
				return
			}
			p.frames <- env
		}
	}()
	return p
}

// newControllerUnderTest returns a started controller endpoint whose peer is
// a rawPeer.
func newControllerUnderTest(t *testing.T, opts ...Option) (*Endpoint, *rawPeer) {
	t.Helper()
	local, remote := Pipe()
	ep := newEndpoint(RoleController, local, buildOptions(testOptions(t, opts...)))
	ep.start()

	peer := newRawPeer(t, remote)
	t.Cleanup(func() {
		remote.Close()
		ep.Close()
	})
	return ep, peer
}

// newIsolateUnderTest attaches an isolate endpoint running job and returns
// it with a rawPeer standing in for the controller.
func newIsolateUnderTest(t *testing.T, job Job, opts ...Option) (*Endpoint, *rawPeer) {
	t.Helper()
	local, remote := Pipe()
	peer := newRawPeer(t, remote)

	ep := Attach(local, &Bootstrap{
		Protocol: ProtocolVersion,
		Name:     DefaultName,
		Location: testLocation,
		Job:      job,
	}, testOptions(t, opts...)...)

	t.Cleanup(func() {
		remote.Close()
		ep.Close()
	})
	return ep, peer
}

func (p *rawPeer) send(env *Envelope) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteEnvelope(env))
}

func (p *rawPeer) next() *Envelope {
	p.t.Helper()
	select {
	case env := <-p.frames:
		return env
	case err := <-p.readErr:
		p.t.Fatalf("peer channel ended: %v", err)
	case <-time.After(waitTimeout):
		p.t.Fatalf("timed out waiting for a frame")
	}
	return nil
}

// ended waits for the channel to end and fails if another frame arrives
// first.
func (p *rawPeer) ended() error {
	p.t.Helper()
	select {
	case env := <-p.frames:
		p.t.Fatalf("unexpected frame %q", env.Event)
	case err := <-p.readErr:
		return err
	case <-time.After(waitTimeout):
		p.t.Fatalf("timed out waiting for the channel to end")
	}
	return nil
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	var zero T
	return zero
}

func waitDone(t *testing.T, ep *Endpoint) {
	t.Helper()
	select {
	case <-ep.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("%s endpoint did not close", ep.Role())
	}
}

func decodeString(t *testing.T, p Payload) string {
	t.Helper()
	var s string
	require.NoError(t, p.Decode(&s))
	return s
}
