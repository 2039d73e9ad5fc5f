// Package httpc is a small client for the trackd HTTP API, built on an
// http.Client with explicit timeouts.
package httpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-trackables/pkg/web"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient creates an http.Client with the given overall timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from trackd
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trackd: %d %s", e.Status, e.Message)
}

// Client talks to one trackd instance
type Client struct {
	base string
	http *http.Client
}

// New creates a client for addr ("host:port" or a full http URL)
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: base, http: NewHTTPClient(DefaultTimeout)}
}

// Subsystems lists every subsystem
func (c *Client) Subsystems(ctx context.Context) ([]web.SubsystemStatus, error) {
	var out []web.SubsystemStatus
	err := c.do(ctx, http.MethodGet, "/api/subsystems", &out)
	return out, err
}

// Subsystem returns one subsystem's status
func (c *Client) Subsystem(ctx context.Context, id string) (web.SubsystemStatus, error) {
	var out web.SubsystemStatus
	err := c.do(ctx, http.MethodGet, "/api/subsystems/"+url.PathEscape(id), &out)
	return out, err
}

// Start starts a subsystem
func (c *Client) Start(ctx context.Context, id string) (web.SubsystemStatus, error) {
	var out web.SubsystemStatus
	err := c.do(ctx, http.MethodPost, "/api/subsystems/"+url.PathEscape(id)+"/start", &out)
	return out, err
}

// Stop stops a subsystem
func (c *Client) Stop(ctx context.Context, id string) (web.SubsystemStatus, error) {
	var out web.SubsystemStatus
	err := c.do(ctx, http.MethodPost, "/api/subsystems/"+url.PathEscape(id)+"/stop", &out)
	return out, err
}

// Live returns the raw live records of a subsystem
func (c *Client) Live(ctx context.Context, id string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/subsystems/"+url.PathEscape(id)+"/live", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
