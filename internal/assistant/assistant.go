// Package assistant orchestrates one assistant exchange end to end: record
// the user message, call the webhook backend with bounded history, resolve
// related resources for the reply, and land the outcome in the conversation
// store. Failures never escape as raw errors to the conversation; they
// become an in-band apology message.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oshelest/shopmate/internal/agent"
	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/insights"
	"github.com/oshelest/shopmate/internal/persona"
)

// User-visible texts. The audience is Ukrainian retail staff, so these are
// fixed Ukrainian strings rather than localized resources.
const (
	// VoicePlaceholder stands in for the transcript of a voice message.
	VoicePlaceholder = "🎤 Голосове повідомлення"

	apologyText       = "Вибачте, сталася помилка. Перевірте інтернет або спробуйте пізніше."
	unknownFormatText = "Від агента отримано відповідь у невідомому форматі. Спробуйте ще раз."
)

// historyWindow caps how many prior messages travel with each request.
const historyWindow = 10

// ErrEmptyMessage is returned when a submission is blank after trimming.
// Nothing is recorded and no request is dispatched.
var ErrEmptyMessage = errors.New("message is empty")

// ErrRequestPending mirrors the store's single in-flight rule at the
// orchestrator boundary.
var ErrRequestPending = conversation.ErrRequestPending

// Backend is the conversational service behind an exchange.
type Backend interface {
	Send(ctx context.Context, req agent.Request) (agent.Reply, error)
}

// Resolver cross-links a reply to supporting resources.
type Resolver interface {
	Resolve(text string) insights.Resources
}

// Archiver durably records finished messages. Archiving is best-effort and
// never blocks or fails an exchange.
type Archiver interface {
	Archive(msg conversation.Message)
}

// Tracker counts product events. Fire-and-forget.
type Tracker interface {
	Track(event string, attrs map[string]string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver attaches a durable transcript sink.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithTracker attaches a telemetry sink.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithAuthContext sets the opaque host-session token forwarded to the
// backend with every request.
func WithAuthContext(token string) Option {
	return func(o *Orchestrator) { o.authContext = token }
}

// Orchestrator runs assistant exchanges against one conversation store.
type Orchestrator struct {
	store    *conversation.Store
	backend  Backend
	resolver Resolver

	archiver    Archiver
	tracker     Tracker
	authContext string
	logger      *slog.Logger
}

// New creates an Orchestrator over the given store, backend and resolver.
func New(store *conversation.Store, backend Backend, resolver Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		backend:  backend,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendText runs a text exchange for persona p and returns the assistant
// message that landed in p's history. Blank input is rejected with
// ErrEmptyMessage before anything is recorded; a second submission while p
// has an exchange in flight is rejected with ErrRequestPending. Backend
// failures resolve in-band as an apology message, not as a returned error.
func (o *Orchestrator) SendText(ctx context.Context, p persona.Persona, text string) (conversation.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return conversation.Message{}, ErrEmptyMessage
	}
	return o.exchange(ctx, p, trimmed, "", "")
}

// SendVoice runs a voice exchange: the history shows a fixed placeholder
// plus a playback reference, and the backend receives the base64 payload.
func (o *Orchestrator) SendVoice(ctx context.Context, p persona.Persona, audioBase64, audioRef string) (conversation.Message, error) {
	if audioBase64 == "" {
		return conversation.Message{}, ErrEmptyMessage
	}
	return o.exchange(ctx, p, VoicePlaceholder, audioBase64, audioRef)
}

// exchange is the shared request lifecycle. The persona is captured here,
// at initiation time; everything that happens later in the exchange is
// attributed to it no matter what the caller displays meanwhile.
func (o *Orchestrator) exchange(ctx context.Context, p persona.Persona, content, audioBase64, audioRef string) (conversation.Message, error) {
	if err := o.store.BeginRequest(p); err != nil {
		return conversation.Message{}, err
	}

	// History is snapshotted before the new message so the backend sees
	// only prior context.
	history := historyEntries(o.store.Tail(p, historyWindow))

	userMsg := o.store.AppendUser(p, content, audioRef)
	o.archive(userMsg)
	o.track("assistant_message_sent", p, audioBase64 != "")

	req := agent.Request{
		Persona:     string(p),
		History:     history,
		AuthContext: o.authContext,
	}
	if audioBase64 != "" {
		req.AudioBase64 = audioBase64
	} else {
		req.Text = content
	}

	reply, err := o.backend.Send(ctx, req)
	if err != nil {
		o.logger.Warn("assistant exchange failed", "persona", p, "error", err)
		failMsg := o.store.FailRequest(p, apologyText)
		o.archive(failMsg)
		o.track("assistant_message_failed", p, audioBase64 != "")
		return failMsg, nil
	}

	output := reply.Output
	if !reply.Recognized {
		output = unknownFormatText
	}
	if reply.Image != "" {
		output += "\n" + reply.Image
	}
	if reply.VideoURL != "" {
		output += "\n" + reply.VideoURL
	}

	related := o.resolver.Resolve(output)
	msg := o.store.ResolveRequest(p, output, &related)
	o.archive(msg)
	return msg, nil
}

func (o *Orchestrator) archive(msg conversation.Message) {
	if o.archiver != nil {
		o.archiver.Archive(msg)
	}
}

func (o *Orchestrator) track(event string, p persona.Persona, voice bool) {
	if o.tracker == nil {
		return
	}
	kind := "text"
	if voice {
		kind = "voice"
	}
	o.tracker.Track(event, map[string]string{"persona": string(p), "kind": kind})
}

func historyEntries(msgs []conversation.Message) []agent.HistoryEntry {
	out := make([]agent.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, agent.HistoryEntry{Role: string(m.Role), Content: m.Content})
	}
	return out
}
