package spawn

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envHelperProcess = "SPAWN_HELPER_PROCESS"

// TestMain lets the test binary double as a child-process context.
func TestMain(m *testing.M) {
	switch os.Getenv(envHelperProcess) {
	case "serve":
		reg := NewRegistry().Register("/lib/greet.js", greeter)
		if err := Serve(context.Background(), nil, WithLoader(reg)); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "crash":
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func helperLauncher(t *testing.T, mode string) *ProcessLauncher {
	return &ProcessLauncher{
		Path:      os.Args[0],
		Args:      []string{"-test.run=^$"},
		Env:       []string{envHelperProcess + "=" + mode},
		Resources: FileResources{Dir: t.TempDir()},
	}
}

func TestProcessLauncher(t *testing.T) {
	l := helperLauncher(t, "serve")
	ep, err := New(testContext(t), Script("/lib/greet.js"), testOptions(t, WithLauncher(l))...)
	require.NoError(t, err)

	ack, err := ep.Request(testContext(t), "greet", "Kevin")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Kevin!", decodeString(t, ack))

	require.NoError(t, ep.Close())

	left, err := os.ReadDir(l.Resources.(FileResources).Dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcessExitWithoutClose(t *testing.T) {
	faults := make(chan Fault, 1)
	ep, err := New(testContext(t), Script("/lib/greet.js"),
		testOptions(t, WithLauncher(helperLauncher(t, "crash")), faultCollector(faults))...)
	require.NoError(t, err)

	f := receive(t, faults)
	assert.Equal(t, "isolated context exited without closing", f.Message)
	waitDone(t, ep)
}

func TestProcessLauncherRejectsJob(t *testing.T) {
	_, err := New(testContext(t), Job(greeter), testOptions(t, WithLauncher(helperLauncher(t, "serve")))...)
	assert.ErrorIs(t, err, ErrJobNotPortable)
}

type pipeContext struct {
	ctrl *Endpoint
	errc chan error
}

func startServe(t *testing.T, ctx context.Context, job Job) pipeContext {
	t.Helper()

	store := NewMemoryResources()
	text, err := (&Bootstrap{Location: testLocation}).Render()
	require.NoError(t, err)
	id, err := store.Create(text)
	require.NoError(t, err)

	toIsolateR, toIsolateW := io.Pipe()
	toControllerR, toControllerW := io.Pipe()

	errc := make(chan error, 1)
	opts := testOptions(t)
	go func() {
		errc <- serve(ctx, id, store, toIsolateR, toControllerW, job, opts...)
	}()

	conn := NewStreamConn(toControllerR, toIsolateW, toIsolateW, toControllerR)
	ctrl := newEndpoint(RoleController, conn, buildOptions(opts))
	ctrl.start()
	t.Cleanup(func() { ctrl.Close() })

	return pipeContext{ctrl: ctrl, errc: errc}
}

func TestServeReturnsWhenControllerCloses(t *testing.T) {
	pc := startServe(t, context.Background(), greeter)

	ack, err := pc.ctrl.Request(testContext(t), "greet", "pipes")
	require.NoError(t, err)
	assert.Equal(t, "Hello, pipes!", decodeString(t, ack))

	require.NoError(t, pc.ctrl.Close())
	assert.NoError(t, receive(t, pc.errc))
}

func TestServeClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pc := startServe(t, ctx, greeter)

	_, err := pc.ctrl.Request(testContext(t), "greet", "x")
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, receive(t, pc.errc), context.Canceled)
	waitDone(t, pc.ctrl)
}

func TestServeWithoutBootstrap(t *testing.T) {
	err := serve(context.Background(), "", NewMemoryResources(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoBootstrap)

	err = serve(context.Background(), "mem:missing", NewMemoryResources(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoBootstrap)
}
