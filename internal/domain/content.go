package domain

import "context"

// VisaRequirement is one visa option for travellers to a destination country.
type VisaRequirement struct {
	CountryCode    string `json:"countryCode"`
	Country        string `json:"country,omitempty"`
	VisaType       string `json:"visaType"`
	ProcessingTime string `json:"processingTime,omitempty"`
	Fee            string `json:"fee,omitempty"`
	MaxStayDays    int    `json:"maxStayDays,omitempty"`
}

// Suggestion is one autocomplete hit for destination and holiday search boxes.
type Suggestion struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Kind  string `json:"kind,omitempty"` // "country", "city", "package"
}

// Card is a single teaser inside a content section.
type Card struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Section is a CMS-managed block of cards, e.g. a carousel on a landing page.
type Section struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
	Cards []Card `json:"cards"`
}

// ContentAPI is the data side of the CMS. Implementations wrap ErrUnauthorized, ErrNotFound
// or ErrUpstream according to the final HTTP status.
type ContentAPI interface {
	SearchVisas(ctx context.Context, countryCode string) ([]VisaRequirement, error)
	Autocomplete(ctx context.Context, query string) ([]Suggestion, error)
	FetchSection(ctx context.Context, slug string) (Section, error)
}
