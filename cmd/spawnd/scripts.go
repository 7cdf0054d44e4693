package main

import (
	"strings"
	"time"

	"go-spawn/spawn"
)

// builtinScripts are the scripts every spawnd context can import.
func builtinScripts() *spawn.Registry {
	return spawn.NewRegistry().
		Register("/scripts/echo.js", func(ep *spawn.Endpoint) {
			ep.On("echo", func(p spawn.Payload, respond spawn.Responder) {
				respond(p)
			})
		}).
		Register("/scripts/greet.js", func(ep *spawn.Endpoint) {
			ep.On("greet", func(p spawn.Payload, respond spawn.Responder) {
				var name string
				if err := p.Decode(&name); err != nil || strings.TrimSpace(name) == "" {
					name = "stranger"
				}
				respond("Hello, " + name + "!")
			})
		}).
		Register("/scripts/clock.js", func(ep *spawn.Endpoint) {
			ep.On("now", func(_ spawn.Payload, respond spawn.Responder) {
				respond(time.Now().UTC().Format(time.RFC3339Nano))
			})
		})
}
