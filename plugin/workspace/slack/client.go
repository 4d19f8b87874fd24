// Package slack implements the agent workspace on a Slack channel:
// ticket cards built from Block Kit, claim and close edits, thread
// relay, and webhook parsing for the Events and Interactivity APIs.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
)

const defaultTimeout = 5 * time.Second

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	timeout   time.Duration

	mu    sync.Mutex
	names map[string]string
}

// NewClient creates a Slack API client for the given escalation channel.
func NewClient(token, channelID string) *Client {
	return NewClientWithAPIURL(token, channelID, "")
}

// NewClientWithAPIURL creates a Slack API client that targets a custom
// API URL. Useful for testing with a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	var opts []goslack.Option
	if apiURL != "" {
		opts = append(opts, goslack.OptionAPIURL(apiURL))
	}
	return &Client{
		api:       goslack.New(token, opts...),
		channelID: channelID,
		timeout:   defaultTimeout,
		names:     make(map[string]string),
	}
}

// PostMessage sends a message to the escalation channel and returns its
// timestamp, which identifies the thread from then on. If threadTS is
// non-empty, the message is posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, fallback string, blocks []goslack.Block, threadTS string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(fallback, false),
	}
	if len(blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(blocks...))
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// UpdateMessage replaces the blocks of an existing channel message.
func (c *Client) UpdateMessage(ctx context.Context, ts, fallback string, blocks []goslack.Block) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, _, _, err := c.api.UpdateMessageContext(ctx, c.channelID, ts,
		goslack.MsgOptionText(fallback, false),
		goslack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("chat.update failed: %w", err)
	}
	return nil
}

// PostEphemeral sends a message only the given user sees.
func (c *Client) PostEphemeral(ctx context.Context, userID, threadTS, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(text, false),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	if _, err := c.api.PostEphemeralContext(ctx, c.channelID, userID, opts...); err != nil {
		return fmt.Errorf("chat.postEphemeral failed: %w", err)
	}
	return nil
}

// UserName resolves a user id to a display name, caching results.
// Resolution failures fall back to the id so replies still flow.
func (c *Client) UserName(ctx context.Context, userID string) string {
	c.mu.Lock()
	if name, ok := c.names[userID]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.Warn("slack workspace: users.info failed", "user_id", userID, "error", err)
		return userID
	}

	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = userID
	}

	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}
