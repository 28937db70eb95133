package backend

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
	statex "github.com/fitlabs/respond-agent/agent/state"
)

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"15s"`
}

// Client talks to the fitness backend over GraphQL. It serves the pipeline as
// context provider, schedule source, payment link issuer and message logger.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var (
	_ contractx.ContextProvider = (*Client)(nil)
	_ contractx.MessageLogger   = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("backend url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("backend api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
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

const userContextQuery = `
query UserContext($chatId: String!) {
  userContext(chatId: $chatId) {
    userId
    profile
    triggers {
      paymentDue
      programFinished
      firstTraining
      noActivity
    }
    history {
      sender
      text
      at
    }
    venue {
      id
      name
    }
  }
}`

type userContextPayload struct {
	UserContext *struct {
		UserID   string         `json:"userId"`
		Profile  map[string]any `json:"profile"`
		Triggers struct {
			PaymentDue      bool `json:"paymentDue"`
			ProgramFinished bool `json:"programFinished"`
			FirstTraining   bool `json:"firstTraining"`
			NoActivity      bool `json:"noActivity"`
		} `json:"triggers"`
		History []struct {
			Sender string    `json:"sender"`
			Text   string    `json:"text"`
			At     time.Time `json:"at"`
		} `json:"history"`
		Venue *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"venue"`
	} `json:"userContext"`
}

func (c *Client) ConversationContext(ctx context.Context, chatID string) (*contractx.ConversationContext, error) {
	var payload userContextPayload
	err := c.query(ctx, userContextQuery, map[string]any{"chatId": chatID}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.UserContext == nil {
		return nil, fmt.Errorf("no user context for chat=%s", chatID)
	}

	uc := payload.UserContext
	cc := &contractx.ConversationContext{
		UserID:  uc.UserID,
		Profile: uc.Profile,
		Triggers: statex.Triggers{
			PaymentDue:      uc.Triggers.PaymentDue,
			ProgramFinished: uc.Triggers.ProgramFinished,
			FirstTraining:   uc.Triggers.FirstTraining,
			NoActivity:      uc.Triggers.NoActivity,
		},
	}
	for _, turn := range uc.History {
		cc.History = append(cc.History, statex.Turn{
			Sender: turn.Sender,
			Text:   turn.Text,
			At:     turn.At,
		})
	}
	if uc.Venue != nil {
		cc.VenueID = uc.Venue.ID
		cc.VenueName = uc.Venue.Name
	}
	return cc, nil
}

const scheduleQuery = `
query Schedule($clubId: String!, $from: DateTime!, $to: DateTime!) {
  schedule(clubId: $clubId, from: $from, to: $to) {
    id
    name
    startTime
    endTime
    status
  }
}`

type schedulePayload struct {
	Schedule []struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
		Status    string    `json:"status"`
	} `json:"schedule"`
}

func (c *Client) EventsByDates(ctx context.Context, venueID string, start, end time.Time) ([]contractx.ScheduleEvent, error) {
	var payload schedulePayload
	err := c.query(ctx, scheduleQuery, map[string]any{
		"clubId": venueID,
		"from":   start.Format(time.RFC3339),
		"to":     end.Format(time.RFC3339),
	}, &payload)
	if err != nil {
		return nil, err
	}

	events := make([]contractx.ScheduleEvent, 0, len(payload.Schedule))
	for _, ev := range payload.Schedule {
		events = append(events, contractx.ScheduleEvent{
			ID:        ev.ID,
			Name:      ev.Name,
			StartTime: ev.StartTime,
			EndTime:   ev.EndTime,
			Status:    ev.Status,
		})
	}
	return events, nil
}

const createPaymentLinkMutation = `
mutation CreatePaymentLink($product: String!, $clubId: String!, $chatId: String!, $amount: Int!) {
  createPaymentLink(product: $product, clubId: $clubId, chatId: $chatId, amount: $amount) {
    url
  }
}`

type paymentLinkPayload struct {
	CreatePaymentLink *struct {
		URL string `json:"url"`
	} `json:"createPaymentLink"`
}

func (c *Client) CreatePaymentLink(ctx context.Context, product, venueID, chatID string, amount int) (string, error) {
	var payload paymentLinkPayload
	err := c.query(ctx, createPaymentLinkMutation, map[string]any{
		"product": product,
		"clubId":  venueID,
		"chatId":  chatID,
		"amount":  amount,
	}, &payload)
	if err != nil {
		return "", err
	}
	if payload.CreatePaymentLink == nil || payload.CreatePaymentLink.URL == "" {
		return "", fmt.Errorf("no payment link returned for product=%s", product)
	}
	return payload.CreatePaymentLink.URL, nil
}

const logMessageMutation = `
mutation LogMessage($chatId: String!, $sender: String!, $text: String!, $at: DateTime!) {
  logMessage(chatId: $chatId, sender: $sender, text: $text, at: $at) {
    ok
  }
}`

func (c *Client) LogMessage(ctx context.Context, chatID, sender, text string, at time.Time) error {
	var payload json.RawMessage
	return c.query(ctx, logMessageMutation, map[string]any{
		"chatId": chatID,
		"sender": sender,
		"text":   text,
		"at":     at.Format(time.RFC3339),
	}, &payload)
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute graphql request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("backend http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("backend graphql error: %s", parsed.Errors[0].Message)
	}
	if out != nil && len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
	}
	return nil
}
