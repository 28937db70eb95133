package wazzup

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

	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

type Config struct {
	URL       string        `split_words:"true" default:"https://api.wazzup24.com/v3"`
	APIKey    string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	ChannelID string        `envconfig:"CHANNEL_ID" split_words:"true"`
	Timeout   time.Duration `split_words:"true" default:"15s"`
}

// Client sends outbound messages through the Wazzup messaging API.
type Client struct {
	baseURL        string
	apiKey         string
	defaultChannel string
	httpClient     *http.Client
}

var _ contractx.Deliverer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("wazzup url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid wazzup url: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("wazzup api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		defaultChannel: strings.TrimSpace(cfg.ChannelID),
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

type sendMessageRequest struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	ChatType  string `json:"chatType"`
	Text      string `json:"text"`
}

// Deliver posts the message. A 2xx response is the delivery confirmation;
// anything else leaves the conversation history untouched upstream.
func (c *Client) Deliver(ctx context.Context, d contractx.Delivery) error {
	if strings.TrimSpace(d.ChatID) == "" {
		return errors.New("delivery chat id is required")
	}
	if strings.TrimSpace(d.Text) == "" {
		return errors.New("delivery text is required")
	}

	channelID := strings.TrimSpace(d.ChannelID)
	if channelID == "" {
		channelID = c.defaultChannel
	}
	if channelID == "" {
		return errors.New("delivery channel id is required")
	}

	chatType := strings.TrimSpace(d.Source)
	if chatType == "" {
		chatType = "whatsapp"
	}

	body, err := json.Marshal(sendMessageRequest{
		ChannelID: channelID,
		ChatID:    d.ChatID,
		ChatType:  chatType,
		Text:      d.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal wazzup message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build wazzup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute wazzup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("wazzup send status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}
