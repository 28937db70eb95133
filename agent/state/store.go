package state

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrStateNotFound = errors.New("conversation state not found")
	ErrInvalidChatID = errors.New("chat id is empty")
	ErrLeaseHeld     = errors.New("conversation lease is held")
	ErrLeaseExpired  = errors.New("conversation lease no longer held")
)

const (
	defaultStoreKeyPrefix = "conv:"
	defaultSnapshotTTL    = 7 * 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store is the persistence contract used by the pipeline engine.
// Snapshot writes within a run are strictly ordered; history only grows.
type Store interface {
	LoadSnapshot(ctx context.Context, chatID string) (*ConversationState, error)
	SaveSnapshot(ctx context.Context, st *ConversationState) error

	// AppendHistory records confirmed-delivery turns. An error here leaves
	// the durable log behind the snapshot's History until the next append;
	// callers flag the divergence on the state rather than fail the run.
	AppendHistory(ctx context.Context, chatID string, turns ...Turn) error
	History(ctx context.Context, chatID string) ([]Turn, error)

	// AcquireLease grants the single in-flight run for a chat. It returns a
	// release token, or ErrLeaseHeld while another run owns the conversation.
	// The lease expires after ttl so a crashed run cannot deadlock the chat.
	AcquireLease(ctx context.Context, chatID string, ttl time.Duration) (string, error)
	ReleaseLease(ctx context.Context, chatID, token string) error
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithSnapshotTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.snapshotTTL = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists conversation snapshots, the append-only history
// log, and per-chat leases in Upstash Redis via REST.
type UpstashRedisStore struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	keyPrefix   string
	snapshotTTL time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		keyPrefix:   defaultStoreKeyPrefix,
		snapshotTTL: defaultSnapshotTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.snapshotTTL < 0 {
		return nil, errors.New("snapshot ttl must be >= 0")
	}

	return store, nil
}

func (s *UpstashRedisStore) LoadSnapshot(ctx context.Context, chatID string) (*ConversationState, error) {
	key, err := s.snapshotKey(chatID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode snapshot payload: %w", err)
	}

	var st ConversationState
	if err := json.Unmarshal([]byte(encoded), &st); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}

	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot loaded from store: %w", err)
	}
	return &st, nil
}

func (s *UpstashRedisStore) SaveSnapshot(ctx context.Context, st *ConversationState) error {
	if st == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(st.ChatID) == "" {
		return ErrInvalidChatID
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	} else {
		st.UpdatedAt = st.UpdatedAt.UTC()
	}

	key, err := s.snapshotKey(st.ChatID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	cmd := []any{"SET", key, string(payload)}
	if s.snapshotTTL > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.snapshotTTL))
	}

	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) AppendHistory(ctx context.Context, chatID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key, err := s.historyKey(chatID)
	if err != nil {
		return err
	}

	cmd := []any{"RPUSH", key}
	for _, turn := range turns {
		payload, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal history turn: %w", err)
		}
		cmd = append(cmd, string(payload))
	}

	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) History(ctx context.Context, chatID string) ([]Turn, error) {
	key, err := s.historyKey(chatID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"LRANGE", key, 0, -1})
	if err != nil {
		return nil, err
	}

	var encoded []string
	if err := json.Unmarshal(resp.Result, &encoded); err != nil {
		return nil, fmt.Errorf("decode history payload: %w", err)
	}

	turns := make([]Turn, 0, len(encoded))
	for _, raw := range encoded {
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal history turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *UpstashRedisStore) AcquireLease(ctx context.Context, chatID string, ttl time.Duration) (string, error) {
	key, err := s.leaseKey(chatID)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("lease ttl must be > 0")
	}

	token, err := newLeaseToken()
	if err != nil {
		return "", err
	}

	resp, err := s.exec(ctx, []any{"SET", key, token, "NX", "PX", ttl.Milliseconds()})
	if err != nil {
		return "", err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return "", ErrLeaseHeld
	}
	return token, nil
}

// releaseLeaseScript deletes the lease only while it still holds the caller's
// token. Compare and delete must be one round trip: with separate GET and DEL
// the lease could expire in between, and the DEL would remove a lease a newer
// run just acquired.
const releaseLeaseScript = "if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end return 0"

func (s *UpstashRedisStore) ReleaseLease(ctx context.Context, chatID, token string) error {
	key, err := s.leaseKey(chatID)
	if err != nil {
		return err
	}

	resp, err := s.exec(ctx, []any{"EVAL", releaseLeaseScript, 1, key, token})
	if err != nil {
		return err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) || bytes.Equal(result, []byte("0")) {
		return ErrLeaseExpired
	}
	return nil
}

func (s *UpstashRedisStore) snapshotKey(chatID string) (string, error) {
	return s.key(chatID, "state")
}

func (s *UpstashRedisStore) historyKey(chatID string) (string, error) {
	return s.key(chatID, "history")
}

func (s *UpstashRedisStore) leaseKey(chatID string) (string, error) {
	return s.key(chatID, "lease")
}

func (s *UpstashRedisStore) key(chatID, suffix string) (string, error) {
	if strings.TrimSpace(chatID) == "" {
		return "", ErrInvalidChatID
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + chatID + ":agent:" + suffix, nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}
	if strings.TrimSpace(s.baseURL) == "" {
		return nil, errors.New("empty redis url")
	}
	if strings.TrimSpace(s.token) == "" {
		return nil, errors.New("empty redis token")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func newLeaseToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
