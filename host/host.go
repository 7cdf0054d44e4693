// Package host serves isolated contexts to remote controllers over
// websockets. Each accepted socket becomes one context: the controller's
// first message is the bootstrap, after which both sides speak envelopes.
package host

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-spawn/spawn"
)

type Config struct {
	// Loader resolves the scripts controllers import.
	Loader spawn.Loader

	// Secret enables HS256 bearer-token authentication when non-empty.
	Secret []byte

	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool

	Logger zerolog.Logger
}

// Host is an http.Handler accepting websocket contexts.
type Host struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[*spawn.Endpoint]string
	draining bool
}

func New(cfg Config) *Host {
	check := cfg.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	return &Host{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
		log:      cfg.Logger.With().Str("component", "host").Logger(),
		sessions: make(map[*spawn.Endpoint]string),
	}
}

func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, err := authenticate(r, h.cfg.Secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade")
		return
	}

	ep, err := spawn.AcceptWebSocket(ws,
		spawn.WithLoader(h.cfg.Loader),
		spawn.WithLogger(h.log.With().Str("subject", subject).Logger()),
	)
	if err != nil {
		h.log.Warn().Err(err).Str("subject", subject).Msg("bootstrap rejected")
		ws.Close()
		return
	}

	h.track(ep, subject)
	defer h.untrack(ep)

	h.log.Info().Str("subject", subject).Str("remote", r.RemoteAddr).Msg("context opened")
	<-ep.Done()
	h.log.Info().Str("subject", subject).Msg("context closed")
}

func (h *Host) track(ep *spawn.Endpoint, subject string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[ep] = subject
}

func (h *Host) untrack(ep *spawn.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, ep)
}

// Active is the number of open contexts.
func (h *Host) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Health is the JSON body served by HealthHandler.
type Health struct {
	Active   int  `json:"active"`
	Draining bool `json:"draining"`
}

func (h *Host) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		body := Health{Active: len(h.sessions), Draining: h.draining}
		h.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, "failed to encode health", http.StatusInternalServerError)
		}
	})
}

// Shutdown refuses new contexts and closes every open one, notifying each
// controller.
func (h *Host) Shutdown() {
	h.mu.Lock()
	h.draining = true
	eps := make([]*spawn.Endpoint, 0, len(h.sessions))
	for ep := range h.sessions {
		eps = append(eps, ep)
	}
	h.mu.Unlock()

	for _, ep := range eps {
		ep.Close()
	}
}
