// CLAUDE:SUMMARY HTTP client for the snapshot store: push/list/delete/purge
// over the credentials API with bearer auth, no retries.

// Package storeclient is the remote persistence boundary. It wraps the
// store's credentials API and carries no business rules: deciding what to
// push or apply is the orchestrator's job.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/safeguard"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

// ErrTransport marks the store being unreachable or answering non-2xx.
// Never retried here; the caller decides whether to re-invoke.
var ErrTransport = errors.New("storeclient: transport")

// ErrRejected marks a 2xx response whose envelope reports success=false.
var ErrRejected = errors.New("storeclient: rejected")

// Envelope is the store's uniform response shape.
type Envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the store root, e.g. "https://store.example.com".
	BaseURL string
	// Token is the bearer token minted by the store's auth endpoint.
	Token string
	// AllowPrivate permits store URLs on private/loopback addresses
	// (self-hosted deployments).
	AllowPrivate bool
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client talks to one snapshot store on behalf of one authenticated member.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *slog.Logger
}

// New validates the endpoint and builds a Client.
func New(cfg Config) (*Client, error) {
	if err := safeguard.ValidateStoreURL(cfg.BaseURL, cfg.AllowPrivate); err != nil {
		return nil, fmt.Errorf("storeclient: base url: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("storeclient: token required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   cfg.Logger,
	}, nil
}

// Push persists a snapshot and returns the id the store assigned.
func (c *Client) Push(ctx context.Context, snap *session.Snapshot) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/credentials/store", nil, snap)
	if err != nil {
		return "", err
	}
	var out struct {
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("storeclient: decode push response: %w", err)
	}
	return out.Credential, nil
}

// List fetches the caller's team snapshots, already filtered server-side to
// active credentials.
func (c *Client) List(ctx context.Context) ([]session.Snapshot, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/credentials/get", nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Credentials []session.Snapshot `json:"credentials"`
		Count       int                `json:"count"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storeclient: decode list response: %w", err)
	}
	return out.Credentials, nil
}

// Delete removes one snapshot by id and reports how many rows went away.
func (c *Client) Delete(ctx context.Context, id string) (int, error) {
	if err := safeguard.ValidateIdentifier(id); err != nil {
		return 0, fmt.Errorf("storeclient: credential id: %w", err)
	}
	return c.cleanup(ctx, url.Values{"credentialId": {id}})
}

// Purge removes every snapshot of the caller's team.
func (c *Client) Purge(ctx context.Context) (int, error) {
	return c.cleanup(ctx, nil)
}

func (c *Client) cleanup(ctx context.Context, query url.Values) (int, error) {
	data, err := c.do(ctx, http.MethodDelete, "/api/credentials/cleanup", query, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("storeclient: decode cleanup response: %w", err)
	}
	return out.DeletedCount, nil
}

// do performs one request and unwraps the envelope. Exactly one attempt:
// transport failures surface as ErrTransport and are never retried.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("storeclient: encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("storeclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := safeguard.LimitedReadAll(resp.Body, safeguard.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", ErrTransport, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("storeclient: non-2xx from store",
			"method", method, "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrTransport, method, path, resp.StatusCode)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("storeclient: decode envelope: %w", err)
	}
	if !env.Success {
		reason := env.Error
		if reason == "" {
			reason = env.Message
		}
		return nil, fmt.Errorf("%w: %s %s: %s", ErrRejected, method, path, reason)
	}
	return env.Data, nil
}
