package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// SessionDurationHeader may carry the validity window, in seconds.
const SessionDurationHeader = "X-Session-Duration"

// AuthAPI calls the guest-login endpoint. Its http.Client must share the cookie jar of the
// data client but must not be wrapped by the retry transport.
type AuthAPI struct {
	http   *http.Client
	config config.Provider
	logger domain.Logger
}

// NewAuthAPI creates a new AuthAPI.
func NewAuthAPI(httpClient *http.Client, cfgProvider config.Provider, logger domain.Logger) *AuthAPI {
	if httpClient == nil {
		panic("http client is nil in cms.NewAuthAPI")
	}
	return &AuthAPI{http: httpClient, config: cfgProvider, logger: logger}
}

type guestLoginRequest struct {
	UserName string `json:"userName"`
}

// guestLoginResponse accepts the duration at the top level or inside data.
type guestLoginResponse struct {
	SessionDuration *float64 `json:"sessionDuration"`
	Data            struct {
		SessionDuration *float64 `json:"sessionDuration"`
	} `json:"data"`
}

// GuestLogin re-authenticates userName. The session cookie arrives through the jar.
func (a *AuthAPI) GuestLogin(ctx context.Context, userName string) (domain.LoginResult, error) {
	cms := a.config.Get().CMS
	raw, err := json.Marshal(guestLoginRequest{UserName: userName})
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("encode guest login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(cms.BaseURL, cms.GuestLoginPath, nil), bytes.NewReader(raw))
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("guest login: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.LoginResult{}, fmt.Errorf("%w: status %d", domain.ErrLoginRejected, resp.StatusCode)
	}

	result := domain.LoginResult{SessionDuration: durationFromBody(body)}
	if result.SessionDuration == 0 {
		result.SessionDuration = secondsToDuration(resp.Header.Get(SessionDurationHeader))
	}
	if result.SessionDuration == 0 {
		a.logger.Debug(ctx, "Guest login did not report a session duration")
	}
	return result, nil
}

func durationFromBody(body []byte) time.Duration {
	if len(body) == 0 {
		return 0
	}
	var parsed guestLoginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	for _, v := range []*float64{parsed.Data.SessionDuration, parsed.SessionDuration} {
		if v != nil && *v > 0 {
			return time.Duration(*v * float64(time.Second))
		}
	}
	return 0
}

func secondsToDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
