package domain

import (
	"context"
)

// Logger defines the interface for logging within the session client.
// All logging methods accept a context.Context as the first argument so that
// request and session identifiers travel with every line.
// The variadic `fields` argument takes structured key-value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // Fatal will call os.Exit(1) after logging

	// With creates a child logger with the provided structured context fields.
	With(fields ...any) Logger
}
