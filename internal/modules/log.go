package modules

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/emberlang/ember/internal/config"
)

// newLogger builds a subsystem logger. Quiet by default; EMBER_DEBUG
// turns on debug output. Logging never changes load behavior.
func newLogger(subsystem string) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{Prefix: subsystem})
	if os.Getenv(config.EnvDebug) != "" {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.WarnLevel)
	}
	return l
}
