package application

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// Deduplicator collapses concurrent calls that share a key into one underlying call.
// Entries live only while the call is pending; there is no result caching.
type Deduplicator struct {
	group  singleflight.Group
	logger domain.Logger
}

// NewDeduplicator creates a new Deduplicator.
func NewDeduplicator(logger domain.Logger) *Deduplicator {
	if logger == nil {
		panic("logger is nil in NewDeduplicator")
	}
	return &Deduplicator{logger: logger}
}

// VisaSearchKey is the dedupe key of a visa search for one country.
func VisaSearchKey(countryCode string) string {
	return "visa-search-" + countryCode
}

// Dedupe runs fn under key unless a call with the same key is already pending, in which case
// the caller receives that call's outcome. fn runs detached from the caller's cancellation;
// a caller whose ctx ends stops waiting while the shared call carries on for the others.
func Dedupe[T any](ctx context.Context, d *Deduplicator, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ch := d.group.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		metrics.IncrementDedupe(res.Shared)
		if res.Shared {
			d.logger.Debug(ctx, "Shared result of pending call", "key", key)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return zero, fmt.Errorf("dedupe key %q reused with a different result type %T", key, res.Val)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Forget drops key so the next call starts fresh even if one is still pending.
func (d *Deduplicator) Forget(key string) {
	d.group.Forget(key)
}
