package testlog

import (
	"testing"

	"github.com/rs/zerolog"

	"go-spawn/internal/logging"
)

// Start configures test logging and returns a logger tagged with the test name.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	l := logging.ConfigureTests().With().Str("test", t.Name()).Logger()
	l.Debug().Msg("start")
	return l
}
