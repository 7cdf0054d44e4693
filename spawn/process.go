package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// EnvBootstrap carries the bootstrap resource path to a child process.
const EnvBootstrap = "SPAWN_BOOTSTRAP"

// defaultGracePeriod is how long a closed child gets to exit on its own
// before it is killed.
const defaultGracePeriod = 500 * time.Millisecond

// ProcessLauncher runs each context as a child process speaking frames on its
// stdin and stdout. The child must call Serve.
type ProcessLauncher struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Stderr receives the child's stderr. Defaults to os.Stderr.
	Stderr io.Writer

	// Resources must be readable by the child. Defaults to FileResources.
	Resources ResourceStore

	GracePeriod time.Duration
}

func (l *ProcessLauncher) Launch(ctx context.Context, boot *Bootstrap) (Conn, error) {
	if boot.Job != nil {
		return nil, ErrJobNotPortable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store := l.Resources
	if store == nil {
		store = FileResources{}
	}

	text, err := boot.Render()
	if err != nil {
		return nil, err
	}
	id, err := store.Create(text)
	if err != nil {
		return nil, fmt.Errorf("create bootstrap resource: %w", err)
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = append(append(os.Environ(), l.Env...), EnvBootstrap+"="+id)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		store.Release(id)
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		store.Release(id)
		return nil, err
	}

	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		store.Release(id)
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}

	grace := l.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	return &processConn{
		Conn:    NewStreamConn(stdout, stdin),
		cmd:     cmd,
		stdin:   stdin,
		grace:   grace,
		release: func() error { return store.Release(id) },
	}, nil
}

type processConn struct {
	Conn
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	grace   time.Duration
	release func() error

	once sync.Once
	err  error
}

// Close lets the child exit on its own for the grace period, then kills it.
// Waiting on the child also closes its stdout, which ends the read loop.
func (c *processConn) Close() error {
	c.once.Do(func() {
		_ = c.stdin.Close()

		exited := make(chan error, 1)
		go func() { exited <- c.cmd.Wait() }()

		select {
		case <-exited:
		case <-time.After(c.grace):
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
			<-exited
		}
		c.err = c.release()
	})
	return c.err
}

// Serve runs the isolate side of a process-backed context over the process's
// stdin and stdout, then blocks until either side closes or ctx ends. Nothing
// else may write to stdout while it runs.
func Serve(ctx context.Context, job Job, opts ...Option) error {
	return serve(ctx, os.Getenv(EnvBootstrap), FileResources{}, os.Stdin, os.Stdout, job, opts...)
}

func serve(ctx context.Context, id string, store ResourceStore, r io.ReadCloser, w io.WriteCloser, job Job, opts ...Option) error {
	if id == "" {
		return ErrNoBootstrap
	}
	boot, err := openBootstrap(store, id)
	if err != nil {
		return err
	}
	boot.Job = job

	ep := Attach(NewStreamConn(r, w, w, r), boot, opts...)

	select {
	case <-ep.Done():
		return nil
	case <-ctx.Done():
		if err := ep.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return ctx.Err()
	}
}
