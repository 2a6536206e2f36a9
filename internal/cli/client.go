package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shipsbot/internal/game"
)

// Client talks to the shipsbot admin API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Target is where notifications for an operation are delivered.
type Target struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

func playerPath(playerID, suffix string) string {
	return "/v1/players/" + url.PathEscape(playerID) + suffix
}

func (c *Client) Health(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) State(ctx context.Context, playerID string) (game.StateView, error) {
	var out game.StateView
	err := c.jsonRequest(ctx, http.MethodGet, playerPath(playerID, "/state"), nil, &out)
	return out, err
}

func (c *Client) RaidStatus(ctx context.Context, playerID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, playerPath(playerID, "/raids"), nil, &out)
	return out, err
}

func (c *Client) Notifications(ctx context.Context, playerID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, playerPath(playerID, "/notifications"), nil, &out)
	return out, err
}

func (c *Client) Upgrade(ctx context.Context, playerID, resource string, target Target) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(playerID, "/upgrades"), map[string]any{
		"resource":   resource,
		"guild_id":   target.GuildID,
		"channel_id": target.ChannelID,
	}, &out)
	return out, err
}

func (c *Client) Build(ctx context.Context, playerID, ship, count string, target Target) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(playerID, "/builds"), map[string]any{
		"ship":       ship,
		"count":      count,
		"guild_id":   target.GuildID,
		"channel_id": target.ChannelID,
	}, &out)
	return out, err
}

func (c *Client) Raid(ctx context.Context, playerID string, locationID int, duration string, target Target) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(playerID, "/raids"), map[string]any{
		"location_id": locationID,
		"duration":    duration,
		"guild_id":    target.GuildID,
		"channel_id":  target.ChannelID,
	}, &out)
	return out, err
}

// Command runs a chat command for the player and returns the bot's reply.
func (c *Client) Command(ctx context.Context, playerID, content string, target Target) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, playerPath(playerID, "/commands"), map[string]any{
		"content":    content,
		"guild_id":   target.GuildID,
		"channel_id": target.ChannelID,
	}, &out)
	return out.Reply, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
