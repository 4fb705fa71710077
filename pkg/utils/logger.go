package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger tagged with the service name. When debug is true it uses the
// development config (human-readable, debug level); otherwise the production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	opts := []zap.Option{zap.Fields(zap.String("service", "utsushi"))}
	if debug {
		return zap.NewDevelopment(opts...)
	}
	return zap.NewProduction(opts...)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
