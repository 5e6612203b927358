// Package telegram resolves a bot token to the bot's username via getMe.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"botbuilder/internal/keys"
	"botbuilder/internal/logging"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// LookupError reports a failed getMe call.
type LookupError struct {
	// StatusCode is the HTTP status, or zero for transport failures.
	StatusCode  int
	Description string
	Err         error
}

func (e *LookupError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram getMe: %v", e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram getMe: %d %s", e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("telegram getMe: status %d", e.StatusCode)
	}
}

func (e *LookupError) Unwrap() error { return e.Err }

// Client calls the Bot API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type getMeResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		ID       int64  `json:"id"`
		IsBot    bool   `json:"is_bot"`
		Username string `json:"username"`
	} `json:"result"`
}

// Username returns the username of the bot that owns token.
func (c *Client) Username(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bot"+token+"/getMe", nil)
	if err != nil {
		return "", &LookupError{Err: errors.New("malformed token")}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// url.Error embeds the request URL, which contains the token.
		return "", &LookupError{Err: errors.Unwrap(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &LookupError{StatusCode: resp.StatusCode, Err: err}
	}

	var out getMeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &LookupError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return "", &LookupError{StatusCode: resp.StatusCode, Description: out.Description}
	}
	if out.Result.Username == "" {
		return "", &LookupError{StatusCode: resp.StatusCode, Description: "response has no username"}
	}
	return out.Result.Username, nil
}

// UsernameLookup is implemented by Client.
type UsernameLookup interface {
	Username(ctx context.Context, token string) (string, error)
}

// TokenPrompter asks the user for a corrected token after a failed lookup.
type TokenPrompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// ErrNoToken is returned when the user supplies an empty token.
var ErrNoToken = errors.New("telegram: no bot token supplied")

// Resolve looks up the username for token, asking for a new token after each
// failure. It returns the username together with the token that worked. The
// loop ends only on success, an empty token or a prompter error.
func Resolve(ctx context.Context, lookup UsernameLookup, prompter TokenPrompter, token string) (username, usedToken string, err error) {
	token = keys.Clean(token)
	for {
		if token == "" {
			return "", "", ErrNoToken
		}

		username, err := lookup.Username(ctx, token)
		if err == nil {
			return username, token, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		logging.L().Warn("bot token lookup failed", zap.Error(err))
		answer, err := prompter.Ask(ctx, "Could not reach Telegram with that token ("+err.Error()+"). Please paste the bot token again:")
		if err != nil {
			return "", "", err
		}
		token = keys.Clean(answer)
	}
}
