package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campushq/bursarbot/internal/config"
	"github.com/campushq/bursarbot/internal/database"
)

const testApology = "I'm sorry, I encountered an error processing your request."

// memStore is an in-memory database.Store for bridge tests.
type memStore struct {
	mu       sync.Mutex
	messages map[uint]*database.Message
	nextID   uint
	subs     []chan database.Message
	appended chan database.Message
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[uint]*database.Message),
		nextID:   1,
		appended: make(chan database.Message, 16),
	}
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) AppendMessage(_ context.Context, m *database.Message) error {
	s.mu.Lock()
	m.ID = s.nextID
	s.nextID++
	m.CreatedAt = time.Now().UTC()
	stored := *m
	s.messages[m.ID] = &stored
	subs := append([]chan database.Message(nil), s.subs...)
	s.mu.Unlock()

	for _, ch := range subs {
		ch <- stored
	}
	s.appended <- stored
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id uint) (*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	stored := *m
	return &stored, nil
}

func (s *memStore) ListMessages(context.Context, int) ([]database.Message, error) {
	return nil, nil
}

func (s *memStore) ClaimMessage(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Role != database.RoleUser || m.Processed {
		return database.ErrAlreadyClaimed
	}
	m.Processed = true
	return nil
}

func (s *memStore) GetUnprocessedUserMessages(_ context.Context, olderThan time.Time, _ int) ([]database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Message
	for _, m := range s.messages {
		if m.Role == database.RoleUser && !m.Processed && m.CreatedAt.Before(olderThan) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) Subscribe() (<-chan database.Message, func()) {
	ch := make(chan database.Message, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch, func() {}
}

func (s *memStore) RunSQLMaintenance(context.Context) error { return nil }

// fixedOrchestrator returns a fixed reply or error and counts invocations.
type fixedOrchestrator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (o *fixedOrchestrator) Handle(context.Context, string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.reply, o.err
}

func (o *fixedOrchestrator) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func newTestBridge(store database.Store, orch Orchestrator) *Bridge {
	return New(store, orch, config.BridgeConfig{
		MaxHandlers:    4,
		HandlerTimeout: 5 * time.Second,
		SweepGrace:     time.Minute,
	}, testApology, nil)
}

// startBridge runs the bridge and returns a stop function that cancels it
// and waits for Run to return. It blocks until the bridge has subscribed to
// the store so entries appended after it returns are not lost.
func startBridge(t *testing.T, b *Bridge) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(ctx); err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()
	if ms, ok := b.store.(*memStore); ok {
		for {
			ms.mu.Lock()
			subscribed := len(ms.subs) > 0
			ms.mu.Unlock()
			if subscribed {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	return func() {
		cancel()
		<-done
	}
}

// waitForModelReply drains appended entries until a model reply shows up.
func waitForModelReply(t *testing.T, store *memStore) database.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-store.appended:
			if m.Role == database.RoleModel {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for a model reply")
		}
	}
}

func TestBridgeRepliesToUserEntry(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orch := &fixedOrchestrator{reply: "Your balance is $100."}
	stop := startBridge(t, newTestBridge(store, orch))
	defer stop()

	user := &database.Message{Role: database.RoleUser, Text: "What's my balance?"}
	if err := store.AppendMessage(context.Background(), user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	reply := waitForModelReply(t, store)
	if reply.Text != "Your balance is $100." {
		t.Errorf("reply text = %q, want orchestrator output", reply.Text)
	}
	if !reply.RelatedToMessageID.Valid || reply.RelatedToMessageID.Int64 != int64(user.ID) {
		t.Errorf("related_to_message_id = %+v, want %d", reply.RelatedToMessageID, user.ID)
	}

	claimed, err := store.GetMessage(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !claimed.Processed {
		t.Error("user entry was not marked processed")
	}
}

func TestBridgeFallbackApologyOnOrchestrationError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orch := &fixedOrchestrator{err: errors.New("model exploded")}
	stop := startBridge(t, newTestBridge(store, orch))
	defer stop()

	user := &database.Message{Role: database.RoleUser, Text: "hi"}
	if err := store.AppendMessage(context.Background(), user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	reply := waitForModelReply(t, store)
	if reply.Text != testApology {
		t.Errorf("reply text = %q, want the fixed apology", reply.Text)
	}
	if !reply.RelatedToMessageID.Valid || reply.RelatedToMessageID.Int64 != int64(user.ID) {
		t.Errorf("fallback reply related_to_message_id = %+v, want %d", reply.RelatedToMessageID, user.ID)
	}
}

func TestBridgeIgnoresModelAndProcessedEntries(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orch := &fixedOrchestrator{reply: "should not fire"}
	stop := startBridge(t, newTestBridge(store, orch))
	defer stop()

	model := &database.Message{Role: database.RoleModel, Text: "a previous reply"}
	if err := store.AppendMessage(context.Background(), model); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	<-store.appended

	done := &database.Message{Role: database.RoleUser, Text: "old news", Processed: true}
	if err := store.AppendMessage(context.Background(), done); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	<-store.appended

	time.Sleep(100 * time.Millisecond)
	if got := orch.callCount(); got != 0 {
		t.Errorf("orchestrator invoked %d times for ignorable entries, want 0", got)
	}
}

func TestBridgeDuplicateNotificationProcessedOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orch := &fixedOrchestrator{reply: "once"}
	bridge := newTestBridge(store, orch)

	user := &database.Message{Role: database.RoleUser, Text: "claim race"}
	if err := store.AppendMessage(context.Background(), user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	<-store.appended

	// Deliver the same entry twice, as a flaky subscription might.
	bridge.process(context.Background(), *user)
	bridge.process(context.Background(), *user)

	if got := orch.callCount(); got != 1 {
		t.Errorf("orchestrator invoked %d times, want exactly 1", got)
	}

	var replies int
	for {
		select {
		case m := <-store.appended:
			if m.Role == database.RoleModel {
				replies++
			}
			continue
		default:
		}
		break
	}
	if replies != 1 {
		t.Errorf("appended %d replies, want exactly 1", replies)
	}
}

func TestBridgeSweepHandlesMissedEntries(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orch := &fixedOrchestrator{reply: "caught by sweep"}
	bridge := New(store, orch, config.BridgeConfig{
		MaxHandlers:    4,
		HandlerTimeout: 5 * time.Second,
		SweepGrace:     time.Millisecond,
	}, testApology, nil)

	user := &database.Message{Role: database.RoleUser, Text: "lost notification"}
	if err := store.AppendMessage(context.Background(), user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	<-store.appended

	time.Sleep(5 * time.Millisecond) // age the entry past the grace period

	if err := bridge.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	reply := waitForModelReply(t, store)
	if reply.Text != "caught by sweep" {
		t.Errorf("reply text = %q, want sweep-produced reply", reply.Text)
	}

	// A second sweep finds nothing to do.
	if err := bridge.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	if got := orch.callCount(); got != 1 {
		t.Errorf("orchestrator invoked %d times across sweeps, want 1", got)
	}
}
