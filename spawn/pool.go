package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Pool keeps count contexts of the same Source and spreads events over them
// round-robin. Closed contexts are replaced on next use.
type Pool struct {
	src  Source
	opts []Option
	log  zerolog.Logger

	mu        sync.RWMutex
	endpoints []*Endpoint
	handlers  []listener
	watcher   *fsnotify.Watcher
	closed    bool

	next    uint32
	spawned uint64
}

type PoolStats struct {
	Endpoints int    `json:"endpoints"`
	Closed    int    `json:"closed"`
	Spawned   uint64 `json:"spawned"`
}

// NewPool starts count contexts running src.
func NewPool(ctx context.Context, count int, src Source, opts ...Option) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", count)
	}

	o := buildOptions(opts)
	p := &Pool{
		src:       src,
		opts:      opts,
		log:       o.logger.With().Str("pool", "spawn").Logger(),
		endpoints: make([]*Endpoint, 0, count),
	}

	for i := 0; i < count; i++ {
		ep, err := p.spawn(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// spawn starts one context with the pool-wide handlers already registered.
// Callers other than NewPool hold p.mu.
func (p *Pool) spawn(ctx context.Context) (*Endpoint, error) {
	opts := append([]Option(nil), p.opts...)
	for _, l := range p.handlers {
		opts = append(opts, WithHandler(l.event, l.h))
	}

	ep, err := New(ctx, p.src, opts...)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&p.spawned, 1)
	return ep, nil
}

// On registers h on every current context and on every replacement.
func (p *Pool) On(event string, h Handler) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p
	}
	p.handlers = append(p.handlers, listener{event: event, h: h})
	for _, ep := range p.endpoints {
		ep.On(event, h)
	}
	return p
}

// Next returns the next live context, replacing it first if it has closed.
func (p *Pool) Next(ctx context.Context) (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	i := atomic.AddUint32(&p.next, 1) % uint32(len(p.endpoints))
	ep := p.endpoints[i]
	if !ep.Closed() {
		return ep, nil
	}

	fresh, err := p.spawn(ctx)
	if err != nil {
		return nil, err
	}
	p.endpoints[i] = fresh
	p.log.Debug().Uint32("slot", i).Msg("respawned closed context")
	return fresh, nil
}

func (p *Pool) Emit(ctx context.Context, event string, payload any) error {
	ep, err := p.Next(ctx)
	if err != nil {
		return err
	}
	ep.Emit(event, payload)
	return nil
}

func (p *Pool) EmitAck(ctx context.Context, event string, payload any, onAck AckFunc) error {
	ep, err := p.Next(ctx)
	if err != nil {
		return err
	}
	ep.EmitAck(event, payload, onAck)
	return nil
}

func (p *Pool) Request(ctx context.Context, event string, payload any) (Payload, error) {
	ep, err := p.Next(ctx)
	if err != nil {
		return Payload{}, err
	}
	return ep.Request(ctx, event, payload)
}

// Broadcast emits event on every live context.
func (p *Pool) Broadcast(event string, payload any) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ep := range p.endpoints {
		ep.Emit(event, payload)
	}
}

// Recycle closes every context; each is replaced on its next use.
func (p *Pool) Recycle() {
	p.mu.RLock()
	endpoints := append([]*Endpoint(nil), p.endpoints...)
	p.mu.RUnlock()

	for _, ep := range endpoints {
		ep.Close()
	}
	p.log.Info().Int("contexts", len(endpoints)).Msg("pool recycled")
}

func (p *Pool) Stats() PoolStats {
	stats := PoolStats{}
	if p == nil {
		return stats
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	stats.Endpoints = len(p.endpoints)
	stats.Spawned = atomic.LoadUint64(&p.spawned)
	for _, ep := range p.endpoints {
		if ep.Closed() {
			stats.Closed++
		}
	}
	return stats
}

// EnableHotReload recycles the pool whenever a file under one of dirs (non
// recursive) changes.
func (p *Pool) EnableHotReload(dirs ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := 0
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(filepath.Clean(dir)); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		added++
	}
	if added == 0 {
		w.Close()
		return errors.New("hot reload: no directories to watch")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		w.Close()
		return ErrClosed
	}
	if p.watcher != nil {
		p.watcher.Close()
	}
	p.watcher = w
	p.mu.Unlock()

	go p.watch(w)
	return nil
}

func (p *Pool) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			p.log.Info().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("hot reload")
			p.Recycle()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Warn().Err(err).Msg("hot reload watcher")
		}
	}
}

// Close stops hot reload and closes every context.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	endpoints := p.endpoints
	p.endpoints = nil
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	for _, ep := range endpoints {
		errs = append(errs, ep.Close())
	}
	return errors.Join(errs...)
}
