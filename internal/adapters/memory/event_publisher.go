package memory

import (
	"context"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// LogEventPublisher satisfies domain.AuthEventPublisher when no broker is configured;
// state changes are only logged.
type LogEventPublisher struct {
	logger domain.Logger
}

func NewLogEventPublisher(logger domain.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) PublishAuthStateChange(ctx context.Context, change domain.AuthStateChange) error {
	p.logger.Debug(ctx, "Auth state change (not published, no broker configured)",
		"from", change.From.String(), "to", change.To.String(), "reason", change.Reason)
	return nil
}
