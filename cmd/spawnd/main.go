package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go-spawn/host"
	"go-spawn/internal/logging"
	"go-spawn/spawn"
)

var (
	configPath string

	emitURL     string
	emitScript  string
	emitPayload string
	emitToken   string
	emitTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spawnd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spawnd",
		Short:         "Run and drive isolated event contexts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "spawnd.toml", "path to the TOML config file")

	root.AddCommand(newServeCmd(), newIsolateCmd(), newEmitCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host websocket contexts and an HTTP emit endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newIsolateCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "isolate",
		Short:  "Run as a child-process context (started by a controller)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.Configure(logging.ProfileIsolate)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := spawn.Serve(ctx, nil,
				spawn.WithLoader(builtinScripts()),
				spawn.WithLogger(logger.With().Str("component", "spawn").Logger()),
			)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit EVENT",
		Short: "Start a context, import a script, send one event and print the acknowledgment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			return runEmit(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&emitURL, "url", "", "websocket URL of a spawnd host; empty runs a child process")
	cmd.Flags().StringVar(&emitScript, "script", "/scripts/echo.js", "script to import before emitting")
	cmd.Flags().StringVar(&emitPayload, "data", "null", "JSON payload")
	cmd.Flags().StringVar(&emitToken, "token", "", "bearer token for the host (defaults to one signed with $"+EnvJWTSecret+")")
	cmd.Flags().DurationVar(&emitTimeout, "timeout", 5*time.Second, "how long to wait for the acknowledgment")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	loc, err := spawn.ParseLocation(cfg.Origin)
	if err != nil {
		return err
	}
	scripts := builtinScripts()

	pool, err := spawn.NewPool(ctx, cfg.Pool, spawn.Job(func(ep *spawn.Endpoint) {
		ep.ImportScripts(scripts.Scripts()...)
	}), spawn.WithLoader(scripts), spawn.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	defer pool.Close()

	// Scripts are compiled in; a change under ScriptDirs only restarts the
	// pooled contexts, it does not load anything from those directories.
	if len(cfg.ScriptDirs) > 0 {
		if err := pool.EnableHotReload(cfg.ScriptDirs...); err != nil {
			log.Warn().Err(err).Msg("[serve] hot reload disabled")
		} else {
			log.Info().Strs("dirs", cfg.ScriptDirs).Msg("[serve] hot reload enabled, changes restart pooled contexts")
		}
	}

	h := host.New(host.Config{
		Loader: scripts,
		Secret: []byte(cfg.Secret),
		Logger: log.Logger,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, h)
	mux.Handle(cfg.Path+"/health", h.HealthHandler())
	mux.Handle(cfg.Path+"/emit", emitHandler(pool, cfg.Timeout))
	mux.HandleFunc(cfg.Path+"/pool", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pool.Stats())
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		log.Info().Msg("[shutdown] closing contexts and shutting down HTTP server")

		h.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("[shutdown] http server shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Str("path", cfg.Path).
		Str("origin", loc.Origin).
		Int("pool", cfg.Pool).
		Bool("auth", cfg.Secret != "").
		Msg("spawnd listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// emitHandler sends one event into the pool and replies with its
// acknowledgment.
func emitHandler(pool *spawn.Pool, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body emitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Event == "" {
			http.Error(w, "missing event", http.StatusBadRequest)
			return
		}

		var payload any
		if len(body.Data) > 0 {
			payload = body.Data
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ack, err := pool.Request(ctx, body.Event, payload)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			http.Error(w, "no acknowledgment", http.StatusGatewayTimeout)
			return
		case err != nil:
			log.Warn().Err(err).Str("event", body.Event).Msg("[emit] request failed")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ack.String()))
	})
}

func runEmit(ctx context.Context, event string) error {
	if !json.Valid([]byte(emitPayload)) {
		return fmt.Errorf("--data is not valid JSON: %s", emitPayload)
	}

	launcher, err := emitLauncher()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()

	ack, err := emitOnce(ctx, launcher, emitScript, event, json.RawMessage(emitPayload), func(f spawn.Fault) {
		log.Error().Str("script", f.Script).Str("event", f.Event).Msg(f.Message)
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	fmt.Println(ack.String())
	return nil
}

// emitOnce starts a context, imports script, sends event and waits for its
// acknowledgment. onFault sees every error the context reports, including
// import failures that arrive before the event is answered.
func emitOnce(ctx context.Context, launcher spawn.Launcher, script, event string, payload json.RawMessage, onFault func(spawn.Fault)) (spawn.Payload, error) {
	ep, err := spawn.New(ctx, spawn.Script(script),
		spawn.WithLauncher(launcher),
		spawn.WithHandler(spawn.EventError, func(p spawn.Payload, _ spawn.Responder) {
			var f spawn.Fault
			if err := p.Decode(&f); err == nil {
				onFault(f)
			}
		}),
	)
	if err != nil {
		return spawn.Payload{}, err
	}
	defer ep.Close()

	return ep.Request(ctx, event, payload)
}

func emitLauncher() (spawn.Launcher, error) {
	if emitURL == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		return &spawn.ProcessLauncher{Path: self, Args: []string{"isolate"}}, nil
	}

	token := emitToken
	if secret := os.Getenv(EnvJWTSecret); token == "" && secret != "" {
		t, err := host.SignToken([]byte(secret), "spawnd-emit", time.Minute)
		if err != nil {
			return nil, err
		}
		token = t
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &spawn.WebSocketLauncher{URL: emitURL, Header: header}, nil
}
