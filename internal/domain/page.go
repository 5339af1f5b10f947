package domain

import (
	"context"
	"encoding/json"
)

// Envelope is the {success, data} shape every internal CMS endpoint answers with.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// PageInfo describes one CMS page known to the page context.
type PageInfo struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Slug  string `json:"slug,omitempty"`
	Title string `json:"title,omitempty"`
}

// PageDirectory is the protected resource the auth gate probes.
// FetchPages returns an error wrapping ErrUnauthorized when credentials are rejected.
type PageDirectory interface {
	FetchPages(ctx context.Context) (map[string]PageInfo, error)
}
