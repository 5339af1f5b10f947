package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// Execute runs fn in a new goroutine and returns a channel that is closed once fn
// has returned, normally or by panic. Panics are recovered and logged with the
// goroutine name and a stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				// The caller's context may already be done; logging must still work.
				logCtx := ctx
				if ctx.Err() != nil {
					logCtx = context.Background()
				}
				logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
					"panic_info", fmt.Sprintf("%v", r),
					"stacktrace", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
	return done
}
