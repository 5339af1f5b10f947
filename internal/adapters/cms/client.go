package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// maxBodyBytes bounds how much of a CMS response is read.
const maxBodyBytes = 4 << 20

// Client talks to the internal CMS API. Session handling is the job of the http.Client it is
// given; Client only maps answers to domain types and errors.
type Client struct {
	http   *http.Client
	config config.Provider
	logger domain.Logger
}

// NewClient creates a CMS client on top of httpClient.
func NewClient(httpClient *http.Client, cfgProvider config.Provider, logger domain.Logger) *Client {
	if httpClient == nil {
		panic("http client is nil in cms.NewClient")
	}
	return &Client{http: httpClient, config: cfgProvider, logger: logger}
}

func endpoint(baseURL, path string, query url.Values) string {
	u := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs one JSON call and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint(c.config.Get().CMS.BaseURL, path, query), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if err := statusError(resp.StatusCode); err != nil {
		c.logger.Debug(ctx, "CMS call rejected", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrInvalidEnvelope, err)
	}
	if !env.Success {
		return fmt.Errorf("%s %s: %w: %s", method, path, domain.ErrInvalidEnvelope, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return domain.ErrUpstream
	}
}

// FetchPages loads the page directory, keyed by page type. The CMS answers either with a
// list of pages or with a type -> id object.
func (c *Client) FetchPages(ctx context.Context) (map[string]domain.PageInfo, error) {
	var data json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.config.Get().CMS.PageDirectoryPath, nil, nil, &data); err != nil {
		return nil, err
	}
	return decodePageDirectory(data)
}

func decodePageDirectory(data json.RawMessage) (map[string]domain.PageInfo, error) {
	pages := make(map[string]domain.PageInfo)
	if len(data) == 0 {
		return pages, nil
	}

	var list []domain.PageInfo
	if err := json.Unmarshal(data, &list); err == nil {
		for _, p := range list {
			if p.Type != "" {
				pages[p.Type] = p
			}
		}
		return pages, nil
	}

	var ids map[string]string
	if err := json.Unmarshal(data, &ids); err == nil {
		for typ, id := range ids {
			pages[typ] = domain.PageInfo{Type: typ, ID: id}
		}
		return pages, nil
	}

	var infos map[string]domain.PageInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("%w: unrecognised page directory: %v", domain.ErrInvalidEnvelope, err)
	}
	for typ, info := range infos {
		if info.Type == "" {
			info.Type = typ
		}
		pages[typ] = info
	}
	return pages, nil
}

// SearchVisas returns the visa options for a destination country.
func (c *Client) SearchVisas(ctx context.Context, countryCode string) ([]domain.VisaRequirement, error) {
	var visas []domain.VisaRequirement
	payload := map[string]string{"countryCode": countryCode}
	if err := c.do(ctx, http.MethodPost, c.config.Get().CMS.VisaSearchPath, nil, payload, &visas); err != nil {
		return nil, err
	}
	return visas, nil
}

// Autocomplete returns search-box suggestions for query.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]domain.Suggestion, error) {
	var suggestions []domain.Suggestion
	q := url.Values{"q": []string{query}}
	if err := c.do(ctx, http.MethodGet, c.config.Get().CMS.AutocompletePath, q, nil, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// FetchSection loads one card section by slug.
func (c *Client) FetchSection(ctx context.Context, slug string) (domain.Section, error) {
	var section domain.Section
	path := strings.TrimRight(c.config.Get().CMS.SectionPath, "/") + "/" + url.PathEscape(slug)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &section); err != nil {
		return domain.Section{}, err
	}
	if section.Slug == "" {
		section.Slug = slug
	}
	return section, nil
}
