package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oshelest/shopmate/internal/agent"
	"github.com/oshelest/shopmate/internal/content"
	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/insights"
	"github.com/oshelest/shopmate/internal/persona"
)

type mockBackend struct {
	mu       sync.Mutex
	requests []agent.Request
	reply    agent.Reply
	err      error
	block    chan struct{} // when set, Send waits until closed
}

func (b *mockBackend) Send(ctx context.Context, req agent.Request) (agent.Reply, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	block := b.block
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return agent.Reply{}, ctx.Err()
		}
	}
	if b.err != nil {
		return agent.Reply{}, b.err
	}
	return b.reply, nil
}

func (b *mockBackend) lastRequest(t *testing.T) agent.Request {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		t.Fatal("backend received no requests")
	}
	return b.requests[len(b.requests)-1]
}

type recordingArchiver struct {
	mu   sync.Mutex
	msgs []conversation.Message
}

func (a *recordingArchiver) Archive(msg conversation.Message) {
	a.mu.Lock()
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
}

func testResolver(t *testing.T) *insights.Engine {
	t.Helper()
	lib, err := content.Load()
	if err != nil {
		t.Fatalf("loading content library: %v", err)
	}
	return insights.New(lib)
}

func TestSendText_AppendsUserAndAssistantMessages(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Output: "Запропонуйте дегустацію.", Recognized: true}}
	o := New(store, backend, testResolver(t))

	msg, err := o.SendText(context.Background(), persona.Seller, "  Що порадити клієнту?  ")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if msg.Role != conversation.RoleAssistant {
		t.Errorf("role = %v, want assistant", msg.Role)
	}
	if msg.Content != "Запропонуйте дегустацію." {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Related == nil || len(msg.Related.Articles) == 0 || len(msg.Related.Checklists) == 0 {
		t.Error("assistant message must carry related resources")
	}

	history := store.History(persona.Seller)
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != conversation.RoleUser || history[0].Content != "Що порадити клієнту?" {
		t.Errorf("user message = %+v, want trimmed text", history[0])
	}
	if store.Pending(persona.Seller) {
		t.Error("pending slot must clear after resolution")
	}

	if got := backend.lastRequest(t); got.Text != "Що порадити клієнту?" || got.Persona != string(persona.Seller) {
		t.Errorf("backend request = %+v", got)
	}
}

func TestSendText_BlankIsNoOp(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{}
	o := New(store, backend, testResolver(t))

	_, err := o.SendText(context.Background(), persona.Seller, "   \n\t ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SendText = %v, want ErrEmptyMessage", err)
	}
	if len(store.History(persona.Seller)) != 0 {
		t.Error("blank submission must not be recorded")
	}
	if len(backend.requests) != 0 {
		t.Error("blank submission must not reach the backend")
	}
}

func TestSendText_SingleInFlightPerPersona(t *testing.T) {
	store := conversation.NewStore()
	block := make(chan struct{})
	backend := &mockBackend{reply: agent.Reply{Output: "ok", Recognized: true}, block: block}
	o := New(store, backend, testResolver(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.SendText(context.Background(), persona.Seller, "перше")
	}()

	waitFor(t, func() bool { return store.Pending(persona.Seller) })

	if _, err := o.SendText(context.Background(), persona.Seller, "друге"); !errors.Is(err, ErrRequestPending) {
		t.Errorf("concurrent SendText = %v, want ErrRequestPending", err)
	}

	// Another persona is an independent lane.
	backend2 := &mockBackend{reply: agent.Reply{Output: "ок", Recognized: true}}
	o2 := New(store, backend2, testResolver(t))
	if _, err := o2.SendText(context.Background(), persona.Psychologist, "інша розмова"); err != nil {
		t.Errorf("other persona blocked: %v", err)
	}

	close(block)
	<-done
	if store.Pending(persona.Seller) {
		t.Error("pending slot must clear after the blocked exchange resolves")
	}
}

func TestSendText_BackendFailureResolvesInBand(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{err: agent.ErrUnavailable}
	o := New(store, backend, testResolver(t))

	msg, err := o.SendText(context.Background(), persona.Seller, "привіт")
	if err != nil {
		t.Fatalf("failure must resolve in-band, got error %v", err)
	}
	if msg.Role != conversation.RoleAssistant {
		t.Errorf("role = %v, want assistant", msg.Role)
	}
	if msg.Content != apologyText {
		t.Errorf("content = %q, want apology", msg.Content)
	}
	if store.Pending(persona.Seller) {
		t.Error("pending slot must clear after failure")
	}
	history := store.History(persona.Seller)
	if len(history) != 2 {
		t.Errorf("history has %d messages, want user + apology", len(history))
	}
}

func TestSendText_UnrecognizedReplyFormat(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Recognized: false}}
	o := New(store, backend, testResolver(t))

	msg, err := o.SendText(context.Background(), persona.Companion, "як справи?")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if msg.Content != unknownFormatText {
		t.Errorf("content = %q, want unknown-format fallback", msg.Content)
	}
}

func TestSendText_MediaAppendedToReply(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{
		Output:     "Ось інструкція.",
		Image:      "https://example.com/i.png",
		VideoURL:   "https://example.com/v.mp4",
		Recognized: true,
	}}
	o := New(store, backend, testResolver(t))

	msg, err := o.SendText(context.Background(), persona.Seller, "покажи")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if !strings.Contains(msg.Content, "https://example.com/i.png") || !strings.Contains(msg.Content, "https://example.com/v.mp4") {
		t.Errorf("media links missing from %q", msg.Content)
	}
}

func TestSendVoice_PlaceholderAndPayload(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Output: "Чую вас!", Recognized: true}}
	o := New(store, backend, testResolver(t))

	_, err := o.SendVoice(context.Background(), persona.Seller, "QUFBQQ==", "/tmp/clip.wav")
	if err != nil {
		t.Fatalf("SendVoice failed: %v", err)
	}

	history := store.History(persona.Seller)
	if history[0].Content != VoicePlaceholder {
		t.Errorf("user message content = %q, want placeholder", history[0].Content)
	}
	if history[0].AudioRef != "/tmp/clip.wav" {
		t.Errorf("audio ref = %q", history[0].AudioRef)
	}

	req := backend.lastRequest(t)
	if req.AudioBase64 != "QUFBQQ==" {
		t.Errorf("audio payload = %q", req.AudioBase64)
	}
	if req.Text != "" {
		t.Errorf("voice request must not carry text, got %q", req.Text)
	}
}

func TestSendVoice_EmptyPayloadRejected(t *testing.T) {
	o := New(conversation.NewStore(), &mockBackend{}, testResolver(t))
	if _, err := o.SendVoice(context.Background(), persona.Seller, "", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SendVoice = %v, want ErrEmptyMessage", err)
	}
}

func TestExchange_HistoryWindowBounded(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Output: "ok", Recognized: true}}
	o := New(store, backend, testResolver(t))

	for i := 0; i < 8; i++ {
		if _, err := o.SendText(context.Background(), persona.Seller, "повідомлення"); err != nil {
			t.Fatalf("SendText %d failed: %v", i, err)
		}
	}

	req := backend.lastRequest(t)
	if len(req.History) > historyWindow {
		t.Errorf("history carries %d entries, want at most %d", len(req.History), historyWindow)
	}
	// 7 prior exchanges produced 14 messages; the window must have clipped.
	if len(req.History) != historyWindow {
		t.Errorf("history carries %d entries, want exactly %d", len(req.History), historyWindow)
	}
}

func TestExchange_ReplyBoundToInitiatingPersona(t *testing.T) {
	store := conversation.NewStore()
	block := make(chan struct{})
	backend := &mockBackend{reply: agent.Reply{Output: "відповідь продавцю", Recognized: true}, block: block}
	o := New(store, backend, testResolver(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.SendText(context.Background(), persona.Seller, "питання продавця")
	}()
	waitFor(t, func() bool { return store.Pending(persona.Seller) })

	// User switches to another persona while the request is in flight.
	o2 := New(store, &mockBackend{reply: agent.Reply{Output: "інше", Recognized: true}}, testResolver(t))
	o2.SendText(context.Background(), persona.Psychologist, "інше питання")

	close(block)
	<-done

	seller := store.History(persona.Seller)
	if len(seller) != 2 || seller[1].Content != "відповідь продавцю" {
		t.Errorf("seller history = %+v, want its own reply", seller)
	}
	for _, m := range store.History(persona.Psychologist) {
		if m.Content == "відповідь продавцю" {
			t.Error("seller reply leaked into psychologist history")
		}
	}
}

func TestExchange_ArchiverSeesAllMessages(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Output: "ok", Recognized: true}}
	arch := &recordingArchiver{}
	o := New(store, backend, testResolver(t), WithArchiver(arch))

	if _, err := o.SendText(context.Background(), persona.Seller, "привіт"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.msgs) != 2 {
		t.Fatalf("archiver saw %d messages, want 2", len(arch.msgs))
	}
	if arch.msgs[0].Role != conversation.RoleUser || arch.msgs[1].Role != conversation.RoleAssistant {
		t.Errorf("archived roles = %v, %v", arch.msgs[0].Role, arch.msgs[1].Role)
	}
}

func TestExchange_AuthContextForwarded(t *testing.T) {
	store := conversation.NewStore()
	backend := &mockBackend{reply: agent.Reply{Output: "ok", Recognized: true}}
	o := New(store, backend, testResolver(t), WithAuthContext("host-token"))

	if _, err := o.SendText(context.Background(), persona.Seller, "привіт"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if got := backend.lastRequest(t); got.AuthContext != "host-token" {
		t.Errorf("auth context = %q, want host-token", got.AuthContext)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
