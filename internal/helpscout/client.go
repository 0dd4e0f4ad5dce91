// Package helpscout is a thin client for the Help Scout Mailbox API v2.
package helpscout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production Mailbox API host.
	DefaultBaseURL = "https://api.helpscout.net"
	// DashboardURL is where agents open a conversation in the web app.
	DashboardURL = "https://secure.helpscout.net/conversation/"

	tokenPath        = "/v2/oauth2/token"
	conversationPath = "/v2/conversations/"
	maxErrorBody     = 512
)

// Config holds configuration for the Help Scout client
type Config struct {
	BaseURL      string
	ClientID     string // OAuth 2.0 app id
	ClientSecret string // OAuth 2.0 app secret
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the Help Scout API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// Token is an OAuth access token returned by the client-credentials grant.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helpscout: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether repeating the call may succeed.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth retrying. Transport errors and
// anything that is not an APIError are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// New creates a new Help Scout client
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("helpscout: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("helpscout: ClientSecret is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}, nil
}

// AccessToken performs the OAuth 2.0 client-credentials exchange.
func (c *Client) AccessToken(ctx context.Context) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("helpscout: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("helpscout: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("token", resp)
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("helpscout: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("helpscout: token response missing access_token")
	}
	return &token, nil
}

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// ReopenConversation sets the conversation status back to active.
func (c *Client) ReopenConversation(ctx context.Context, conversationID string, token *Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("helpscout: access token required")
	}
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("helpscout: conversation id required")
	}

	body, err := json.Marshal(patchOperation{Op: "replace", Path: "/status", Value: "active"})
	if err != nil {
		return err
	}

	endpoint := c.baseURL + conversationPath + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("helpscout: create reopen request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("helpscout: reopen %s failed: %w", conversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError("reopen conversation "+conversationID, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ConversationURL links to the conversation in the Help Scout web app.
func ConversationURL(conversationID string) string {
	return DashboardURL + url.PathEscape(conversationID)
}

func newAPIError(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
