package spawn

import "sync"

// Scope is the namespace of one isolated context. At most one name exposes
// the context's endpoint at a time.
type Scope struct {
	mu     sync.RWMutex
	name   string
	ep     *Endpoint
	loaded []string
}

func NewScope() *Scope {
	return &Scope{}
}

// Expose publishes ep under name, dropping any previously exposed name.
func (s *Scope) Expose(name string, ep *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.ep = ep
}

// Lookup returns the endpoint exposed under name.
func (s *Scope) Lookup(name string) (*Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ep == nil || s.name != name {
		return nil, false
	}
	return s.ep, true
}

// Name is the currently exposed name, or "" once the endpoint is gone.
func (s *Scope) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Loaded lists the resolved ids of scripts loaded into the scope, in order.
func (s *Scope) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.loaded...)
}

func (s *Scope) markLoaded(ids ...string) {
	s.mu.Lock()
	s.loaded = append(s.loaded, ids...)
	s.mu.Unlock()
}

func (s *Scope) unexpose(ep *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep == ep {
		s.name = ""
		s.ep = nil
	}
}
