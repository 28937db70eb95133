package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

type Config struct {
	BotToken      string        `envconfig:"BOT_TOKEN" split_words:"true" required:"true"`
	DefaultChatID string        `envconfig:"DEFAULT_CHAT_ID" split_words:"true" required:"true"`
	VenueChats    string        `envconfig:"VENUE_CHATS" split_words:"true"`
	Timeout       time.Duration `split_words:"true" default:"10s"`
}

// Client notifies the staff Telegram channel about escalated conversations.
// Each venue can route to its own chat; everything else goes to the default.
type Client struct {
	apiURL        string
	defaultChatID string
	venueChats    map[string]string
	httpClient    *http.Client
}

var _ contractx.Notifier = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	defaultChatID := strings.TrimSpace(cfg.DefaultChatID)
	if defaultChatID == "" {
		return nil, errors.New("telegram default chat id is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiURL:        "https://api.telegram.org/bot" + token + "/sendMessage",
		defaultChatID: defaultChatID,
		venueChats:    parseVenueChats(cfg.VenueChats),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// parseVenueChats decodes "venueID=chatID,venueID=chatID" pairs.
func parseVenueChats(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		venue := strings.TrimSpace(parts[0])
		chat := strings.TrimSpace(parts[1])
		if venue != "" && chat != "" {
			out[venue] = chat
		}
	}
	return out
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (c *Client) Notify(ctx context.Context, n contractx.EscalationNotice) error {
	chatID := c.defaultChatID
	if v, ok := c.venueChats[n.VenueID]; ok {
		chatID = v
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      formatNotice(n),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram send status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

func formatNotice(n contractx.EscalationNotice) string {
	var sb strings.Builder
	sb.WriteString("<b>Escalated conversation</b>\n")
	fmt.Fprintf(&sb, "Chat: <code>%s</code>\n", html.EscapeString(n.ChatID))
	if n.UserName != "" {
		fmt.Fprintf(&sb, "User: %s\n", html.EscapeString(n.UserName))
	}
	if n.VenueName != "" {
		fmt.Fprintf(&sb, "Club: %s\n", html.EscapeString(n.VenueName))
	}
	fmt.Fprintf(&sb, "Reason: %s\n\n", html.EscapeString(n.Reason))
	fmt.Fprintf(&sb, "<b>Last message</b>\n%s\n\n", html.EscapeString(n.LastMessage))
	fmt.Fprintf(&sb, "<b>Bot reply</b>\n%s", html.EscapeString(n.ResponseText))
	return sb.String()
}
