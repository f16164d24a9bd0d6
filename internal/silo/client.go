package silo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
	// shared secret is configured.
	SignatureHeader = "X-Relay-Signature"

	defaultRequestTimeout       = 10 * time.Second
	responseBodyReadLimit int64 = 4096
)

// Request is a stored webhook request replayed verbatim against a region.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

type Response struct {
	StatusCode int
	Body       []byte
}

// Client sends replayed requests to region silos. Transport failures and
// non-2xx responses come back as coded errors; callers decide what they mean.
type Client struct {
	httpClient *http.Client
	secret     string
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

// NewClient builds a region client that refuses to dial restricted networks.
func NewClient(cfg config.RegionsConfig, opts ...Option) (*Client, error) {
	restricted, err := parseCIDRs(cfg.RestrictedCIDR)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	transport := &http.Transport{
		DialContext:         newDialer(restricted, timeout).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	client := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		secret: strings.TrimSpace(cfg.SharedSecret),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Request replays req against region. The body is sent as raw bytes so
// upstream webhook signatures stay valid.
func (c *Client) Request(ctx context.Context, region Region, req Request) (*Response, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "region client not configured")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request method is required")
	}
	target := region.Address + "/" + strings.TrimLeft(req.Path, "/")

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build region request")
	}
	for key, value := range CleanProxyHeaders(req.Headers) {
		httpReq.Header.Set(key, value)
	}
	if c.secret != "" {
		httpReq.Header.Set(SignatureHeader, "sha256="+Sign(c.secret, req.Body))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(region, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("region %s rejected the request as a conflict", region.Name)).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(body)})
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, pkgerrors.RemoteStatus(resp.StatusCode, fmt.Sprintf("region %s returned %d", region.Name, resp.StatusCode)).
			WithDetails(map[string]any{"body": string(body)})
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func transportError(region Region, err error) error {
	switch {
	case errors.Is(err, ErrRestrictedAddress):
		return pkgerrors.Wrap(pkgerrors.CodeRestrictedHost, err, fmt.Sprintf("region %s is ip address restricted", region.Name))
	case isTimeout(err):
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, fmt.Sprintf("region %s timed out", region.Name))
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return pkgerrors.Wrap(pkgerrors.CodeConnectionReset, err, fmt.Sprintf("region %s reset the connection", region.Name))
	}
	return pkgerrors.Wrap(pkgerrors.CodeHostUnreachable, err, fmt.Sprintf("region %s unreachable", region.Name))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Sign returns the hex encoded HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var proxyHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
	"Host":                {},
	"Forwarded":           {},
	"X-Forwarded-For":     {},
	"X-Forwarded-Host":    {},
	"X-Forwarded-Proto":   {},
	"X-Real-Ip":           {},
}

// CleanProxyHeaders drops hop-by-hop and proxy headers captured at ingestion.
func CleanProxyHeaders(headers map[string]string) map[string]string {
	cleaned := make(map[string]string, len(headers))
	for key, value := range headers {
		if _, skip := proxyHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		cleaned[key] = value
	}
	return cleaned
}
