package ftp

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haldane/goftp/internal/ratelimit"
)

// Option configures a Session at Dial time, grounded on the teacher's
// functional-option pattern (options.go). TLS options are not carried over:
// encrypted channels are an explicit non-goal of this client.
type Option func(*Session) error

// WithTimeout sets the deadline applied to the control connection and every
// data connection the session opens.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.timeout = timeout
		return nil
	}
}

// WithLogger enables structured logging of every command/reply pair and
// connection lifecycle event through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.log = logger
		return nil
	}
}

// WithActiveMode makes the session default to active (PORT) mode instead of
// passive (PASV) mode for data channels it opens on the caller's behalf.
func WithActiveMode(localHost string, localPort int) Option {
	return func(s *Session) error {
		s.activeMode = true
		s.activeHost = localHost
		s.activePort = localPort
		return nil
	}
}

// WithBandwidthLimit throttles every transfer's data-channel I/O to
// bytesPerSecond using a token-bucket limiter (domain-stack enrichment,
// §2.2), wired through the teacher's internal/ratelimit package unchanged.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		s.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithMetrics registers the session's transfer metrics (bytes transferred,
// transfers started/finished by outcome, transfers currently active) against
// reg (domain-stack enrichment, §2.2).
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Session) error {
		s.metrics = newTransferMetrics(reg)
		return nil
	}
}

// WithIdleKeepAlive sends NOOP whenever the control channel has been idle
// for longer than interval, preventing idle servers from closing the
// connection during long pauses between commands. Zero disables it.
func WithIdleKeepAlive(interval time.Duration) Option {
	return func(s *Session) error {
		s.keepAliveInterval = interval
		return nil
	}
}
