package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/platform/env"
	"github.com/bmess/blueocean-plugin/internal/platform/requestid"
)

const (
	maxJSONBody = 8 << 20
	maxTextBody = 64 << 20
)

// ErrTransport matches every *TransportError.
var ErrTransport = errors.New("blue ocean transport error")

// ErrBodyTooLarge is wrapped in the TransportError of a response that exceeds
// the client's body limit. Nothing is returned from such a response.
var ErrBodyTooLarge = errors.New("response body too large")

// TransportError reports a network failure or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Organization string        `yaml:"organization"`
	Timeout      time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:8080/jenkins/blue",
		Organization: address.DefaultOrganization,
		Timeout:      15 * time.Second,
	}
}

// ApplyEnv overrides cfg with any DASHBOARD_JENKINS_* variables that are set.
func (c Config) ApplyEnv() (Config, error) {
	baseURL, err := env.BaseURL("DASHBOARD_JENKINS_URL", c.BaseURL)
	if err != nil {
		return Config{}, err
	}
	c.BaseURL = baseURL
	c.Organization = env.String("DASHBOARD_JENKINS_ORGANIZATION", c.Organization)
	timeout, err := env.Duration("DASHBOARD_JENKINS_TIMEOUT", c.Timeout)
	if err != nil {
		return Config{}, err
	}
	c.Timeout = timeout
	return c, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("jenkins base url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("jenkins base url must be http(s): %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errors.New("jenkins timeout must be > 0")
	}
	return nil
}

// Client is a read-only Blue Ocean REST client. It never retries.
type Client struct {
	baseURL      string
	organization string
	http         *http.Client
	jsonLimit    int64
	textLimit    int64
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout}), nil
}

// NewWithHTTPClient is used by tests to point the client at an httptest server.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	org := strings.TrimSpace(cfg.Organization)
	if org == "" {
		org = address.DefaultOrganization
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		organization: org,
		http:         hc,
		jsonLimit:    maxJSONBody,
		textLimit:    maxTextBody,
	}
}

func (c *Client) BaseURL() string      { return c.baseURL }
func (c *Client) Organization() string { return c.organization }

// GetJSON fetches url and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url, "application/json", c.jsonLimit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetText fetches url as plain text (run and node logs).
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.get(ctx, url, "text/plain", c.textLimit)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Ping checks that the organization resource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, address.OrganizationURL(c.baseURL, c.organization), "application/json", c.jsonLimit)
	return err
}

func (c *Client) get(ctx context.Context, url, accept string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", accept)
	if id, err := requestid.New(); err == nil {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	if int64(len(body)) > limit {
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Err:        fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit),
		}
	}
	return body, nil
}
