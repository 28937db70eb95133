package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	promptx "github.com/fitlabs/respond-agent/agent/prompt"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]*statex.ConversationState
	history   map[string][]statex.Turn
	leases    map[string]string
	stages    []string
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: make(map[string]*statex.ConversationState),
		history:   make(map[string][]statex.Turn),
		leases:    make(map[string]string),
	}
}

func cloneState(st *statex.ConversationState) *statex.ConversationState {
	raw, err := json.Marshal(st)
	if err != nil {
		panic(err)
	}
	var out statex.ConversationState
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, chatID string) (*statex.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.snapshots[chatID]
	if !ok {
		return nil, statex.ErrStateNotFound
	}
	return cloneState(st), nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, st *statex.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[st.ChatID] = cloneState(st)
	f.stages = append(f.stages, st.Stage)
	return nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, chatID string, turns ...statex.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.history[chatID] = append(f.history[chatID], turns...)
	return nil
}

func (f *fakeStore) History(ctx context.Context, chatID string) ([]statex.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statex.Turn(nil), f.history[chatID]...), nil
}

func (f *fakeStore) AcquireLease(ctx context.Context, chatID string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.leases[chatID]; held {
		return "", statex.ErrLeaseHeld
	}
	token := fmt.Sprintf("token-%d", len(f.stages))
	f.leases[chatID] = token
	return token, nil
}

func (f *fakeStore) ReleaseLease(ctx context.Context, chatID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[chatID] != token {
		return statex.ErrLeaseExpired
	}
	delete(f.leases, chatID)
	return nil
}

func (f *fakeStore) savedStages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stages...)
}

type fakeProvider struct {
	cc  *contractx.ConversationContext
	err error
}

func (f *fakeProvider) ConversationContext(ctx context.Context, chatID string) (*contractx.ConversationContext, error) {
	return f.cc, f.err
}

type fakeGenerator struct {
	result contractx.GenerationResult
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (contractx.GenerationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeHumanizer struct {
	err error
}

func (f *fakeHumanizer) Humanize(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "~" + text + "~", nil
}

type fakeDeliverer struct {
	mu         sync.Mutex
	err        error
	deliveries []contractx.Delivery
}

func (f *fakeDeliverer) Deliver(ctx context.Context, d contractx.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

type fakeNotifier struct {
	err     error
	notices []contractx.EscalationNotice
}

func (f *fakeNotifier) Notify(ctx context.Context, n contractx.EscalationNotice) error {
	if f.err != nil {
		return f.err
	}
	f.notices = append(f.notices, n)
	return nil
}

type fakePublisher struct {
	destinations []string
}

func (f *fakePublisher) Publish(ctx context.Context, destination string, payload any) error {
	f.destinations = append(f.destinations, destination)
	return nil
}

type testRig struct {
	store     *fakeStore
	provider  *fakeProvider
	generator *fakeGenerator
	humanizer *fakeHumanizer
	deliverer *fakeDeliverer
	notifier  *fakeNotifier
	publisher *fakePublisher
	engine    *Engine
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()

	prompts, err := promptx.NewBuilder(promptx.LoadSet())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	rig := &testRig{
		store: newFakeStore(),
		provider: &fakeProvider{cc: &contractx.ConversationContext{
			UserID:  "user-1",
			Profile: map[string]any{"name": "Alex"},
		}},
		generator: &fakeGenerator{result: contractx.GenerationResult{
			ResponseText: "Bootcamp is at 19:00.",
		}},
		humanizer: &fakeHumanizer{},
		deliverer: &fakeDeliverer{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
	}

	if cfg.LeaseRetryInterval == 0 {
		cfg.LeaseRetryInterval = 5 * time.Millisecond
	}

	engine, err := New(Deps{
		Store:     rig.store,
		Provider:  rig.provider,
		Prompts:   prompts,
		Generator: rig.generator,
		Humanizer: rig.humanizer,
		Deliverer: rig.deliverer,
		Notifier:  rig.notifier,
		Publisher: rig.publisher,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rig.engine = engine
	return rig
}

func inbound(text string) contractx.InboundMessage {
	return contractx.InboundMessage{
		ChatID:   "chat-1",
		SenderID: "user-1",
		Text:     text,
		Source:   "whatsapp",
	}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	st, err := rig.engine.Run(context.Background(), inbound("when is bootcamp?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.Error != "" {
		t.Fatalf("Error = %q, want empty", st.Error)
	}
	if st.TriggerType != statex.TriggerNone {
		t.Fatalf("TriggerType = %q, want none", st.TriggerType)
	}
	if st.HumanizedResponse != "~Bootcamp is at 19:00.~" {
		t.Fatalf("HumanizedResponse = %q", st.HumanizedResponse)
	}

	if len(rig.deliverer.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(rig.deliverer.deliveries))
	}
	if rig.deliverer.deliveries[0].Text != st.HumanizedResponse {
		t.Fatalf("delivered %q, want %q", rig.deliverer.deliveries[0].Text, st.HumanizedResponse)
	}

	history, _ := rig.store.History(context.Background(), "chat-1")
	if len(history) != 2 {
		t.Fatalf("history = %d turns, want 2", len(history))
	}
	if history[0].Sender != "user" || history[1].Sender != "agent" {
		t.Fatalf("history senders = %q, %q", history[0].Sender, history[1].Sender)
	}

	if len(rig.notifier.notices) != 0 {
		t.Fatal("notifier called on a non-escalated run")
	}
	if _, held := rig.store.leases["chat-1"]; held {
		t.Fatal("lease not released after run")
	}
}

func TestRunPersistsEveryStage(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	if _, err := rig.engine.Run(context.Background(), inbound("hi")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"extract", "fetch_context", "select_trigger", "build_prompts", "generate", "humanize", "deliver", "finalize"}
	got := rig.store.savedStages()
	if len(got) != len(want) {
		t.Fatalf("persisted stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("persisted stages = %v, want %v", got, want)
		}
	}
}

func TestRunSelectsHighestPriorityTrigger(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.provider.cc.Triggers = statex.Triggers{
		ProgramFinished: true,
		NoActivity:      true,
	}

	st, err := rig.engine.Run(context.Background(), inbound("hello"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.TriggerType != statex.TriggerProgramFinished {
		t.Fatalf("TriggerType = %q, want program_finished", st.TriggerType)
	}
}

func TestRunEmptyTextFailsValidation(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	st, err := rig.engine.Run(context.Background(), inbound("   "))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.Error == "" || st.ErrorKind != statex.ErrorKindValidation {
		t.Fatalf("state = error %q kind %q, want validation failure", st.Error, st.ErrorKind)
	}
	if st.HumanizedResponse != "" {
		t.Fatal("failed run carries a humanized response")
	}
	if rig.generator.calls != 0 {
		t.Fatal("generator called on a validation failure")
	}
	if len(rig.deliverer.deliveries) != 0 {
		t.Fatal("delivery attempted on a validation failure")
	}
	history, _ := rig.store.History(context.Background(), "chat-1")
	if len(history) != 0 {
		t.Fatal("history grew on a failed run")
	}
}

func TestRunEmptyChatIDRejected(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	msg := inbound("hi")
	msg.ChatID = "  "
	if _, err := rig.engine.Run(context.Background(), msg); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
}

func TestRunContextFetchFailure(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.provider.cc = nil
	rig.provider.err = errors.New("backend 502")

	st, err := rig.engine.Run(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.ErrorKind != statex.ErrorKindUpstream {
		t.Fatalf("ErrorKind = %q, want upstream", st.ErrorKind)
	}
	if rig.generator.calls != 0 {
		t.Fatal("generator called after context fetch failed")
	}
}

func TestRunMissingProfileTerminates(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.provider.cc = &contractx.ConversationContext{UserID: "user-1"}

	st, err := rig.engine.Run(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Error == "" || st.ErrorKind != statex.ErrorKindUpstream {
		t.Fatalf("state = error %q kind %q, want upstream failure", st.Error, st.ErrorKind)
	}
	if rig.generator.calls != 0 {
		t.Fatal("generator called without a user profile")
	}
	if len(rig.deliverer.deliveries) != 0 {
		t.Fatal("delivery attempted without a user profile")
	}
	if st.TriggerType != "" {
		t.Fatalf("TriggerType = %q, want unset on a terminated run", st.TriggerType)
	}
}

func TestRunDeliveryFailure(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.deliverer.err = errors.New("channel down")
	rig.generator.result = contractx.GenerationResult{
		ResponseText:     "reply",
		EscalationNeeded: true,
		EscalationReason: "wants a manager",
	}

	st, err := rig.engine.Run(context.Background(), inbound("complain"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.ErrorKind != statex.ErrorKindUpstream {
		t.Fatalf("ErrorKind = %q, want upstream", st.ErrorKind)
	}
	if st.HumanizedResponse != "" {
		t.Fatal("failed run carries a humanized response")
	}
	if st.EscalationNeeded || st.EscalationReason != "" {
		t.Fatal("delivery failure escalated anyway")
	}
	if len(rig.notifier.notices) != 0 {
		t.Fatal("notifier called after delivery failure")
	}
	history, _ := rig.store.History(context.Background(), "chat-1")
	if len(history) != 0 {
		t.Fatal("history grew without a confirmed delivery")
	}
}

func TestRunEscalation(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.generator.result = contractx.GenerationResult{
		ResponseText:     "A manager will contact you.",
		EscalationNeeded: true,
		EscalationReason: "reports knee pain",
	}

	st, err := rig.engine.Run(context.Background(), inbound("my knee hurts after training"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !st.EscalationNeeded || st.EscalationReason != "reports knee pain" {
		t.Fatalf("escalation = %v %q", st.EscalationNeeded, st.EscalationReason)
	}
	if len(rig.deliverer.deliveries) != 1 {
		t.Fatal("reply not delivered before escalation")
	}
	if len(rig.notifier.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(rig.notifier.notices))
	}
	notice := rig.notifier.notices[0]
	if notice.Reason != "reports knee pain" || notice.ChatID != "chat-1" {
		t.Fatalf("notice = %+v", notice)
	}
}

func TestRunEscalationNotifyFailureUsesPublisher(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{EscalationRetryDestination: "https://hooks.example/escalations"})
	rig.notifier.err = errors.New("telegram down")
	rig.generator.result = contractx.GenerationResult{
		ResponseText:     "A manager will contact you.",
		EscalationNeeded: true,
		EscalationReason: "refund request",
	}

	st, err := rig.engine.Run(context.Background(), inbound("I want my money back"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Error != "" {
		t.Fatalf("notify failure poisoned the run: %q", st.Error)
	}
	if len(rig.publisher.destinations) != 1 || rig.publisher.destinations[0] != "https://hooks.example/escalations" {
		t.Fatalf("publisher destinations = %v", rig.publisher.destinations)
	}
}

func TestRunGenerationLimitDegrades(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.generator.result = contractx.GenerationResult{ResponseText: "fallback reply"}
	rig.generator.err = fmt.Errorf("%w: tool call depth 5 exhausted", contractx.ErrGenerationLimit)

	st, err := rig.engine.Run(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Error != "" {
		t.Fatalf("degraded run reports error %q", st.Error)
	}
	if st.HumanizedResponse != "~fallback reply~" {
		t.Fatalf("HumanizedResponse = %q, want the humanized fallback", st.HumanizedResponse)
	}
	if len(rig.deliverer.deliveries) != 1 {
		t.Fatal("fallback reply not delivered")
	}
}

func TestRunHumanizerFailureDeliversRaw(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.humanizer.err = errors.New("model timeout")

	st, err := rig.engine.Run(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Error != "" {
		t.Fatalf("humanizer failure poisoned the run: %q", st.Error)
	}
	if st.HumanizedResponse != "Bootcamp is at 19:00." {
		t.Fatalf("HumanizedResponse = %q, want the raw draft", st.HumanizedResponse)
	}
}

func TestRunHistoryWriteFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	rig.store.appendErr = errors.New("redis write refused")

	st, err := rig.engine.Run(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Error != "" {
		t.Fatalf("history write failure poisoned the run: %q", st.Error)
	}
	if st.HumanizedResponse == "" {
		t.Fatal("reply missing after confirmed delivery")
	}
	if !st.HistoryWriteFailed {
		t.Fatal("HistoryWriteFailed not set after a failed append")
	}
	if len(st.History) != 2 {
		t.Fatalf("state history = %d turns, want 2", len(st.History))
	}
	history, _ := rig.store.History(context.Background(), "chat-1")
	if len(history) != 0 {
		t.Fatal("store history grew despite the failed append")
	}
}

func TestRunHistoryAccumulatesAcrossRuns(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{})
	if _, err := rig.engine.Run(context.Background(), inbound("first")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	st, err := rig.engine.Run(context.Background(), inbound("second"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(st.History) != 4 {
		t.Fatalf("state history = %d turns, want 4", len(st.History))
	}
	history, _ := rig.store.History(context.Background(), "chat-1")
	if len(history) != 4 {
		t.Fatalf("store history = %d turns, want 4", len(history))
	}
}

func TestRunSerializesSameChat(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{LeaseRetryInterval: time.Millisecond})

	token, err := rig.store.AcquireLease(context.Background(), "chat-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := rig.engine.Run(context.Background(), inbound("queued"))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Run() finished while the lease was held")
	case <-time.After(30 * time.Millisecond):
	}

	if err := rig.store.ReleaseLease(context.Background(), "chat-1", token); err != nil {
		t.Fatalf("ReleaseLease() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not proceed after the lease was released")
	}
}

func TestRunLeaseWaitHonorsContext(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, Config{LeaseRetryInterval: time.Millisecond})
	if _, err := rig.store.AcquireLease(context.Background(), "chat-1", time.Minute); err != nil {
		t.Fatalf("AcquireLease() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rig.engine.Run(ctx, inbound("hi"))
	if !errors.Is(err, contractx.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}
