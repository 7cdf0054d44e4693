package spawn

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	name     string
	launcher Launcher
	location *Location
	loader   Loader
	logger   *zerolog.Logger
	handlers []listener
}

type listener struct {
	event string
	h     Handler
}

// Option configures New, Attach and Serve.
type Option func(*options)

// WithName sets the name the isolate endpoint is exposed under in its scope.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLauncher selects how the isolated context is created. The default runs
// it on a goroutine in this process.
func WithLauncher(l Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithLocation overrides the origin used to resolve imports.
func WithLocation(l Location) Option {
	return func(o *options) { o.location = &l }
}

// WithLoader sets the script loader used inside the isolated context.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithHandler registers h for event before the endpoint starts dispatching,
// so it also sees events the peer sends while New is still returning.
func WithHandler(event string, h Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, listener{event: event, h: h}) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.name == "" {
		o.name = DefaultName
	}
	if o.location == nil {
		loc := CurrentLocation()
		o.location = &loc
	}
	if o.logger == nil {
		l := log.Logger.With().Str("component", "spawn").Logger()
		o.logger = &l
	}
	return o
}
