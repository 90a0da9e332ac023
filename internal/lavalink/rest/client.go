// Package rest is the HTTP command channel of a Lavalink v4 node.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/pkg/retrylimit"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const apiVersion = "/v4"

type Config struct {
	BaseURL           string
	Passphrase        string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client issues commands against one node. Requests share an adaptive
// limiter that backs off on 429 and 5xx responses.
type Client struct {
	base       *url.URL
	passphrase string
	client     *http.Client
	limiter    *retrylimit.AdaptiveLimiter
	logger     zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse node url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("node url %q: unsupported scheme %q", cfg.BaseURL, base.Scheme)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		base:       base,
		passphrase: cfg.Passphrase,
		client:     httpClient,
		limiter:    retrylimit.NewAdaptiveLimiter(rate.Limit(rps), 1, rate.Limit(rps*2), 1, 0.5),
		logger:     logger.With().Str("component", "rest").Logger(),
	}, nil
}

// BaseURL returns the node address the client talks to.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// UpdatePlayer applies update to the player of guildID and returns the
// node's snapshot. With noReplace set, a playing track is not replaced.
func (c *Client) UpdatePlayer(ctx context.Context, sessionID string, guildID snowflake.ID, update protocol.PlayerUpdate, noReplace bool) (*protocol.Player, error) {
	query := url.Values{"noReplace": {strconv.FormatBool(noReplace)}}

	var player protocol.Player
	if err := c.do(ctx, http.MethodPatch, playerPath(sessionID, guildID), query, update, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// Player fetches the current snapshot of one player.
func (c *Client) Player(ctx context.Context, sessionID string, guildID snowflake.ID) (*protocol.Player, error) {
	var player protocol.Player
	if err := c.do(ctx, http.MethodGet, playerPath(sessionID, guildID), nil, nil, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// DestroyPlayer removes the player of guildID from the node.
func (c *Client) DestroyPlayer(ctx context.Context, sessionID string, guildID snowflake.ID) error {
	return c.do(ctx, http.MethodDelete, playerPath(sessionID, guildID), nil, nil, nil)
}

// UpdateSession configures resuming of a session.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, update protocol.SessionUpdate) (*protocol.Session, error) {
	var session protocol.Session
	if err := c.do(ctx, http.MethodPatch, sessionPath(sessionID), nil, update, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Info returns the node build information.
func (c *Client) Info(ctx context.Context) (*protocol.Info, error) {
	var info protocol.Info
	if err := c.do(ctx, http.MethodGet, apiVersion+"/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func sessionPath(sessionID string) string {
	return apiVersion + "/sessions/" + url.PathEscape(sessionID)
}

func playerPath(sessionID string, guildID snowflake.ID) string {
	return sessionPath(sessionID) + "/players/" + guildID.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.passphrase)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newError(resp.StatusCode, data)
		if retrylimit.DefaultClassifier(apiErr) {
			c.limiter.RateLimited()
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return apiErr
	}
	c.limiter.Success()

	if out == nil || len(data) == 0 || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
