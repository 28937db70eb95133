package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

type fakeRunner struct {
	mu     sync.Mutex
	runs   []contractx.InboundMessage
	result *statex.ConversationState
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, msg contractx.InboundMessage) (*statex.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeStateReader struct {
	snapshot *statex.ConversationState
	turns    []statex.Turn
}

func (f *fakeStateReader) LoadSnapshot(ctx context.Context, chatID string) (*statex.ConversationState, error) {
	if f.snapshot == nil {
		return nil, statex.ErrStateNotFound
	}
	return f.snapshot, nil
}

func (f *fakeStateReader) History(ctx context.Context, chatID string) ([]statex.Turn, error) {
	return f.turns, nil
}

func newTestServer(t *testing.T, runner *fakeRunner, states *fakeStateReader) *Server {
	t.Helper()

	if runner.result == nil {
		runner.result = &statex.ConversationState{
			ChatID:            "chat-1",
			HumanizedResponse: "hello there",
		}
	}
	srv, err := New(runner, states, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, &fakeStateReader{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProcessReturnsRunResult(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: &statex.ConversationState{
		ChatID:            "chat-1",
		HumanizedResponse: "see you at 19:00",
		EscalationNeeded:  true,
		EscalationReason:  "wants a manager",
	}}
	srv := newTestServer(t, runner, &fakeStateReader{})

	body := `{"chat_id":"chat-1","sender_id":"u1","text":"hi"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp ProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ResponseText != "see you at 19:00" || !resp.EscalationNeeded || resp.EscalationReason != "wants a manager" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestProcessMalformedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, &fakeStateReader{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessValidationErrorIs400(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: fmt.Errorf("%w: chat id is required", contractx.ErrValidation)}
	srv := newTestServer(t, runner, &fakeStateReader{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"text":"hi"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWazzupWebhookFiltersMessages(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	srv := newTestServer(t, runner, &fakeStateReader{})

	body := `{"messages":[
		{"chatId":"c1","text":"hello","status":"inbound","chatType":"whatsapp"},
		{"chatId":"c2","text":"sent by us","status":"outbound"},
		{"chatId":"c3","text":"echo","status":"inbound","isEcho":true},
		{"chatId":"","text":"no chat","status":"inbound"}
	]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/wazzup", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"] != 1 {
		t.Fatalf("accepted = %d, want 1", resp["accepted"])
	}

	// Webhook runs are async; wait for the single accepted message.
	deadline := time.After(2 * time.Second)
	for runner.runCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("accepted message never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if runner.runCount() != 1 {
		t.Fatalf("runs = %d, want 1", runner.runCount())
	}
}

func TestWazzupWebhookMalformed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, &fakeStateReader{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/wazzup", strings.NewReader("[]")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatflowWebhookRequiresChatID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, &fakeStateReader{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/chatflow", strings.NewReader(`{"msg":"hi"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetStateNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, &fakeStateReader{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph/state/unknown", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetStateFound(t *testing.T) {
	t.Parallel()

	states := &fakeStateReader{snapshot: &statex.ConversationState{
		ChatID:      "chat-9",
		TriggerType: statex.TriggerNoActivity,
	}}
	srv := newTestServer(t, &fakeRunner{}, states)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph/state/chat-9", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st statex.ConversationState
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.ChatID != "chat-9" || st.TriggerType != statex.TriggerNoActivity {
		t.Fatalf("state = %+v", st)
	}
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	states := &fakeStateReader{turns: []statex.Turn{
		{Sender: "user", Text: "hi"},
		{Sender: "agent", Text: "hello"},
	}}
	srv := newTestServer(t, &fakeRunner{}, states)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph/history/chat-9", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		ChatID  string        `json:"chat_id"`
		History []statex.Turn `json:"history"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChatID != "chat-9" || len(resp.History) != 2 {
		t.Fatalf("response = %+v", resp)
	}
}
