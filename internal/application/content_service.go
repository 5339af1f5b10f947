package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/contextkeys"
)

const (
	defaultAutocompleteTimeout = 5 * time.Second
	defaultSectionTimeout      = 30 * time.Second
)

// ContentService is what pages call to load CMS data. Hot lookups are deduplicated and
// every upstream call carries its own deadline.
type ContentService struct {
	logger domain.Logger
	config config.Provider
	api    domain.ContentAPI
	dedupe *Deduplicator
}

// NewContentService creates a new ContentService.
func NewContentService(logger domain.Logger, cfgProvider config.Provider, api domain.ContentAPI, dedupe *Deduplicator) *ContentService {
	if api == nil {
		panic("content api is nil in NewContentService")
	}
	if dedupe == nil {
		panic("deduplicator is nil in NewContentService")
	}
	return &ContentService{logger: logger, config: cfgProvider, api: api, dedupe: dedupe}
}

// SearchVisas returns the visa options for countryCode. Concurrent searches for the same
// country share one upstream request.
func (s *ContentService) SearchVisas(ctx context.Context, countryCode string) ([]domain.VisaRequirement, error) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if code == "" {
		return nil, fmt.Errorf("country code is required: %w", domain.ErrInvalidInput)
	}
	ctx = context.WithValue(ctx, contextkeys.OperationKey, "visa_search")
	return Dedupe(ctx, s.dedupe, VisaSearchKey(code), func(ctx context.Context) ([]domain.VisaRequirement, error) {
		ctx, cancel := context.WithTimeout(ctx, s.sectionTimeout())
		defer cancel()
		visas, err := s.api.SearchVisas(ctx, code)
		if err != nil {
			s.logger.Warn(ctx, "Visa search failed", "country_code", code, "error", err.Error())
			return nil, err
		}
		return visas, nil
	})
}

// Autocomplete returns suggestions for query, giving up after the autocomplete timeout.
func (s *ContentService) Autocomplete(ctx context.Context, query string) ([]domain.Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	ctx = context.WithValue(ctx, contextkeys.OperationKey, "autocomplete")
	timeout := time.Duration(s.config.Get().CMS.AutocompleteTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultAutocompleteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.api.Autocomplete(ctx, query)
}

// FetchSection loads one card section; concurrent loads of the same section are shared.
func (s *ContentService) FetchSection(ctx context.Context, slug string) (domain.Section, error) {
	ctx = context.WithValue(ctx, contextkeys.OperationKey, "section")
	return Dedupe(ctx, s.dedupe, "section-"+slug, func(ctx context.Context) (domain.Section, error) {
		ctx, cancel := context.WithTimeout(ctx, s.sectionTimeout())
		defer cancel()
		return s.api.FetchSection(ctx, slug)
	})
}

func (s *ContentService) sectionTimeout() time.Duration {
	if d := time.Duration(s.config.Get().CMS.SectionTimeoutSeconds) * time.Second; d > 0 {
		return d
	}
	return defaultSectionTimeout
}
