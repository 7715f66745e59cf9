package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/Hadi-Serhan/vwrotation/internal/metrics"
)

// tokenSlack retires an access token early so a request never departs
// with one about to expire.
const tokenSlack = 15 * time.Second

const deviceName = "rotation-scheduler"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Audience     string // optional, forwarded to the token endpoint
	Timeout      time.Duration
}

// Client wraps the Vaultwarden API endpoints the scheduler needs. All
// API traffic goes through a circuit breaker so a down vault fails fast
// instead of stacking slow requests across runs.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	profileMu sync.Mutex
	profile   *Profile
	emailByID map[string]string
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	logger = logger.With("component", "vault")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vaultwarden",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     logger,
		emailByID:  make(map[string]string),
	}
}

type Profile struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organizationId"`
}

// ListCiphers fetches every cipher visible to the API client.
func (c *Client) ListCiphers(ctx context.Context) ([]Item, error) {
	var items []Item
	err := c.get(ctx, "list_ciphers", "/api/ciphers", func(body []byte) error {
		payloads, err := decodeCipherList(body)
		if err != nil {
			return err
		}
		items = make([]Item, 0, len(payloads))
		for _, p := range payloads {
			items = append(items, itemFromPayload(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "listed ciphers", "count", len(items))
	return items, nil
}

// GetProfile returns the API client's account profile, cached for the
// process lifetime.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	c.profileMu.Lock()
	defer c.profileMu.Unlock()
	if c.profile != nil {
		return c.profile, nil
	}

	var p Profile
	err := c.get(ctx, "profile", "/api/accounts/profile", func(body []byte) error {
		return json.Unmarshal(body, &p)
	})
	if err != nil {
		return nil, err
	}
	c.profile = &p
	return c.profile, nil
}

// ResolveUserEmail maps a Vaultwarden user id to an email address,
// falling back to the profile email so a notification is never dropped
// for want of a recipient.
func (c *Client) ResolveUserEmail(ctx context.Context, userID string) (string, error) {
	profile, err := c.GetProfile(ctx)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return profile.Email, nil
	}

	c.profileMu.Lock()
	if email, ok := c.emailByID[userID]; ok {
		c.profileMu.Unlock()
		return email, nil
	}
	c.profileMu.Unlock()

	if profile.OrganizationID != "" {
		var members struct {
			Data []struct {
				ID    string `json:"id"`
				Email string `json:"email"`
			} `json:"data"`
		}
		err := c.get(ctx, "org_users", "/api/organizations/"+profile.OrganizationID+"/users", func(body []byte) error {
			return json.Unmarshal(body, &members)
		})
		if err != nil {
			c.logger.WarnContext(ctx, "list organization members", "error", err)
		} else {
			for _, m := range members.Data {
				if m.ID == userID && m.Email != "" {
					c.profileMu.Lock()
					c.emailByID[userID] = m.Email
					c.profileMu.Unlock()
					return m.Email, nil
				}
			}
		}
	}

	return profile.Email, nil
}

// get runs one authenticated GET through the breaker. Token refresh
// happens inside the breaker call so auth failures count toward it too.
func (c *Client) get(ctx context.Context, op, path string, decode func([]byte) error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: unexpected status code: %d", path, resp.StatusCode)
		}
		return nil, decode(body)
	})
	if err != nil {
		metrics.VaultRequestsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.VaultRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// accessToken returns a cached client-credentials token, fetching a new
// one when the cached token is within tokenSlack of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":       {"client_credentials"},
		"scope":            {"api"},
		"client_id":        {c.cfg.ClientID},
		"client_secret":    {c.cfg.ClientSecret},
		"deviceIdentifier": {uuid.NewString()},
		"deviceType":       {"7"},
		"deviceName":       {deviceName},
	}
	if c.cfg.Audience != "" {
		form.Set("audience", c.cfg.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/identity/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status code: %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.logger.DebugContext(ctx, "obtained access token", "expires_in", payload.ExpiresIn)
	return c.token, nil
}
