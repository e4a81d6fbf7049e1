// Package kickapi contains a minimal client for the public Kick channel
// metadata endpoint, used to resolve a channel slug to its chatroom id.
package kickapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/onnwee/kick-bridge/telemetry"
)

// ErrResolution wraps every failure to resolve a channel name to a room id:
// transport errors, non-2xx responses, and responses missing chatroom.id.
var ErrResolution = errors.New("channel resolution failed")

// Channel is the subset of the channel metadata response the bridge needs.
type Channel struct {
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
}

// Client calls the Kick API. BaseURL defaults to https://kick.com.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://kick.com"
}

// GetChannel fetches metadata for a channel slug and returns its chatroom id.
func (c *Client) GetChannel(ctx context.Context, slug string) (*Channel, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrResolution)
	}

	ctx, span := telemetry.StartSpan(ctx, "kickapi", "GetChannel", telemetry.ChannelAttr(slug))
	defer span.End()

	endpoint := c.base() + "/api/v2/channels/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: unexpected status %d for %q", ErrResolution, resp.StatusCode, slug)
		telemetry.RecordError(span, err)
		return nil, err
	}

	var ch Channel
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: decode: %v", ErrResolution, err)
	}
	if ch.Chatroom.ID == 0 {
		err := fmt.Errorf("%w: response for %q missing chatroom.id", ErrResolution, slug)
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetSpanSuccess(span)
	return &ch, nil
}
