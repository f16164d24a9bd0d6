package thirdparty

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/webhook-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

const (
	defaultTimeout              = 10 * time.Second
	defaultTokenTTL             = 5 * time.Minute
	defaultIssuer               = "webhook-relay"
	responseBodyReadLimit int64 = 1024
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Client forwards webhook bodies to the third party API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
	issuer     string
	tokenTTL   time.Duration
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the forwarding client. A missing base URL or token is a
// CodeConfiguration error.
func NewClient(cfg config.ThirdPartyConfig, opts ...Option) (*Client, error) {
	if !cfg.Configured() {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "third party base url and token are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := strings.TrimSpace(cfg.TokenIssuer)
	if issuer == "" {
		issuer = defaultIssuer
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		secret:     strings.TrimSpace(cfg.Token),
		issuer:     issuer,
		tokenTTL:   ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Post sends body to endpoint and returns the response status. Transport
// failures are returned as CodeDependency errors; any status is returned as-is.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, headers map[string]string) (int, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeConfiguration, "third party client not configured")
	}
	token, err := c.mintToken()
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "mint third party token")
	}

	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build third party request")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute third party request")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyReadLimit))
	return resp.StatusCode, nil
}

func (c *Client) mintToken() (string, error) {
	now := c.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(c.secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
