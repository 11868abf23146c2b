package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

// DefaultTokenURL is the Twitch OAuth2 client-credentials endpoint that
// issues IGDB bearer tokens.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// tokenRefreshMargin renews tokens this long before their reported expiry.
const tokenRefreshMargin = 60 * time.Second

// TokenProvider supplies a valid bearer token on demand. Implementations may
// block while refreshing; a returned error is fatal for the run.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token. Useful for tests and for
// deployments that manage tokens externally.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider returning the given token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Token implements TokenProvider.
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// TwitchTokenProvider obtains IGDB bearer tokens via the Twitch
// client-credentials flow and caches them until shortly before expiry.
type TwitchTokenProvider struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	logger       zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTwitchTokenProvider creates a provider for the given credentials.
// A nil httpClient uses a default with a 30s timeout.
func NewTwitchTokenProvider(clientID, clientSecret string, httpClient *http.Client) *TwitchTokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &TwitchTokenProvider{
		httpClient:   httpClient,
		tokenURL:     DefaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logging.NewLogger("auth"),
	}
}

// SetTokenURL overrides the token endpoint (for testing).
func (p *TwitchTokenProvider) SetTokenURL(u string) {
	p.tokenURL = u
}

// Token returns a cached token or refreshes it when expired.
func (p *TwitchTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-tokenRefreshMargin)) {
		return p.token, nil
	}

	if err := p.refresh(ctx); err != nil {
		return "", err
	}

	return p.token, nil
}

// refresh performs the client-credentials exchange. Callers hold p.mu.
func (p *TwitchTokenProvider) refresh(ctx context.Context) error {
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, nil)
	if err != nil {
		return fmt.Errorf("%w: create token request: %v", ErrAuth, err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuth, resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("%w: token endpoint returned empty access_token", ErrAuth)
	}

	p.token = payload.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	p.logger.Info().
		Time("expires_at", p.expiresAt).
		Msg("Refreshed IGDB bearer token")

	return nil
}
