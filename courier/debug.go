package courier

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// debugLogger is the package-level zerolog logger used when no logger is
// configured on the client.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// logRequest logs the outgoing logical request at debug level.
func logRequest(logger zerolog.Logger, service string, req *http.Request) {
	logger.Debug().
		Str("service", service).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("courier request")
}

// logResponse logs the completed logical request at debug level.
func logResponse(logger zerolog.Logger, service string, resp *http.Response, attempts int, duration time.Duration) {
	logger.Debug().
		Str("service", service).
		Int("status", resp.StatusCode).
		Int("attempts", attempts).
		Dur("duration_ms", duration).
		Msg("courier response")
}
