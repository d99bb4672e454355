// Package testlog routes the global zerolog logger through the test binary's stderr.
package testlog

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var once sync.Once

// Start configures logging for a test. Set REMOTEDESK_TEST_LOG=debug for verbose output.
func Start(t testing.TB) {
	t.Helper()
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
		level := zerolog.WarnLevel
		if raw := os.Getenv("REMOTEDESK_TEST_LOG"); raw != "" {
			if l, err := zerolog.ParseLevel(raw); err == nil {
				level = l
			}
		}
		zerolog.SetGlobalLevel(level)
	})
}
