package tarstream

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the logging verbosity for the library.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see per-file phase transitions
// Use "info" for one line per finished stream (default)
// Use "disabled" to suppress all logs
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}
