package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/logger"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

func TestAuthEventsPubSubAdapter_PublishSubscribe(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	log := logger.NewFromZap(zap.NewNop())

	sub := NewAuthEventsPubSubAdapter(client, log, "auth_events:test")
	received := make(chan domain.AuthStateChange, 1)
	require.NoError(t, sub.SubscribeAuthStateChanges(ctx, func(change domain.AuthStateChange) error {
		received <- change
		return nil
	}))
	t.Cleanup(func() { _ = sub.Close() })

	require.Error(t, sub.SubscribeAuthStateChanges(ctx, func(domain.AuthStateChange) error { return nil }))

	pub := NewAuthEventsPubSubAdapter(client, log, "auth_events:test")
	change := domain.AuthStateChange{
		SessionID: "tab-1",
		From:      domain.AuthStateChecking,
		To:        domain.AuthStateAuthenticated,
		At:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, pub.PublishAuthStateChange(ctx, change))

	select {
	case got := <-received:
		assert.Equal(t, change, got)
	case <-time.After(2 * time.Second):
		t.Fatal("auth state change was not delivered")
	}
}
