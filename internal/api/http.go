// Package api exposes the daemon over HTTP: assistant exchanges, the
// content library, a websocket event feed, and an MCP surface. Error
// responses use a single JSON envelope {"error":{"message","type"}}.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oshelest/shopmate/internal/assistant"
	"github.com/oshelest/shopmate/internal/content"
	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/persona"
	"github.com/oshelest/shopmate/internal/session"
)

const maxRequestBodySize = 10 << 20 // 10MB, voice payloads are base64 PCM

// sessionHeader carries the opaque client session ID. Clients that omit it
// share the default local session.
const sessionHeader = "X-Session-Id"

const defaultSession = "local"

// initDataHeader carries the embedding host's opaque auth payload (e.g.
// Telegram init data). Forwarded to the webhook backend verbatim.
const initDataHeader = "X-Init-Data"

// Assistant runs exchanges against one conversation store.
type Assistant interface {
	SendText(ctx context.Context, p persona.Persona, text string) (conversation.Message, error)
	SendVoice(ctx context.Context, p persona.Persona, audioBase64, audioRef string) (conversation.Message, error)
}

// AssistantFactory builds an Assistant bound to a session's store.
// authContext is the host auth payload for this exchange; empty means none.
type AssistantFactory func(store *conversation.Store, authContext string) Assistant

// Tracker mirrors the telemetry hook; nil-safe on the telemetry side.
type Tracker interface {
	Track(event string, attrs map[string]string)
}

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Sessions  *session.Manager
	Assistant AssistantFactory
	Library   *content.Library
	Importer  *content.Importer
	Tracker   Tracker
	Token     string // empty disables auth (local loopback use)
}

// NewHandler builds the chi router for the daemon API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/health", handleHealth)

	r.Get("/v1/personas", handlePersonas)
	r.Get("/v1/assistant/{persona}/messages", handleHistory(deps))
	r.Post("/v1/assistant/{persona}/messages", handleSend(deps))
	r.Get("/v1/assistant/events", handleEvents(deps))

	r.Get("/v1/kb", handleListArticles(deps))
	r.Get("/v1/kb/{id}", handleGetArticle(deps))
	r.Post("/v1/kb/import", handleImport(deps))
	r.Post("/v1/kb/import/urls", handleImportURLs(deps))
	r.Post("/v1/kb/import/pdf", handleImportPDF(deps))

	r.Get("/v1/checklists", handleChecklists(deps))
	r.Get("/v1/checklists/{id}", handleGetChecklist(deps))
	r.Get("/v1/catalog", handleCatalog(deps))
	r.Get("/v1/contacts", handleContacts(deps))
	r.Get("/v1/quizzes", handleQuizzes(deps))

	r.Post("/v1/telemetry", handleTrack(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, persona.All())
}

// sessionStore resolves the conversation store for the request's session.
func sessionStore(deps Deps, r *http.Request) *conversation.Store {
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	if id == "" {
		id = defaultSession
	}
	return deps.Sessions.Get(id)
}

func requestPersona(r *http.Request) (persona.Persona, error) {
	return persona.Parse(chi.URLParam(r, "persona"))
}

type historyResponse struct {
	Persona  persona.Persona        `json:"persona"`
	Messages []conversation.Message `json:"messages"`
	Pending  bool                   `json:"pending"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := requestPersona(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		store := sessionStore(deps, r)
		messages := store.History(p)
		if messages == nil {
			messages = []conversation.Message{}
		}
		writeJSON(w, historyResponse{Persona: p, Messages: messages, Pending: store.Pending(p)})
	}
}

type sendRequest struct {
	Text        string `json:"text,omitempty"`
	AudioBase64 string `json:"audioBase64,omitempty"`
	AudioRef    string `json:"audioRef,omitempty"`
}

func handleSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := requestPersona(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		a := deps.Assistant(sessionStore(deps, r), strings.TrimSpace(r.Header.Get(initDataHeader)))

		var msg conversation.Message
		if req.AudioBase64 != "" {
			msg, err = a.SendVoice(r.Context(), p, req.AudioBase64, req.AudioRef)
		} else {
			msg, err = a.SendText(r.Context(), p, req.Text)
		}

		switch {
		case errors.Is(err, assistant.ErrEmptyMessage):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is empty")
			return
		case errors.Is(err, assistant.ErrRequestPending):
			httpError(w, http.StatusConflict, "conflict_error", "a request is already pending for persona %s", p)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "sending message: %v", err)
			return
		}

		writeJSON(w, msg)
	}
}

func handleListArticles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		summaries := deps.Library.ArticleSummaries(query)
		if summaries == nil {
			summaries = []content.ArticleSummary{}
		}
		writeJSON(w, summaries)
	}
}

func handleGetArticle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		art, err := deps.Library.Article(chi.URLParam(r, "id"))
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "article not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading article: %v", err)
			return
		}
		writeJSON(w, art)
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req content.ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		art, err := deps.Importer.Import(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "import failed: %v", err)
			return
		}
		writeJSON(w, art)
	}
}

func handleImportURLs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var reqs []content.ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(reqs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one import request is required")
			return
		}

		articles, err := deps.Importer.ImportURLs(r.Context(), reqs)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, articles)
	}
}

// handleImportPDF takes a raw PDF body; article metadata rides in the
// query string because the body is the document itself.
func handleImportPDF(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request body is empty")
			return
		}

		req := content.ImportRequest{
			Title:    r.URL.Query().Get("title"),
			Category: r.URL.Query().Get("category"),
		}
		if tags := r.URL.Query().Get("tags"); tags != "" {
			for _, t := range strings.Split(tags, ",") {
				if t = strings.TrimSpace(t); t != "" {
					req.Tags = append(req.Tags, t)
				}
			}
		}

		art, err := deps.Importer.ImportPDF(bytes.NewReader(data), int64(len(data)), req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "import failed: %v", err)
			return
		}
		writeJSON(w, art)
	}
}

func handleChecklists(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Library.Checklists())
	}
}

func handleGetChecklist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cl, err := deps.Library.Checklist(chi.URLParam(r, "id"))
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "checklist not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading checklist: %v", err)
			return
		}
		writeJSON(w, cl)
	}
}

func handleCatalog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Library.CatalogItems())
	}
}

func handleContacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Library.Contacts())
	}
}

func handleQuizzes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Library.Quizzes())
	}
}

type trackRequest struct {
	Event string            `json:"event"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func handleTrack(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req trackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Event == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "event is required")
			return
		}

		if deps.Tracker != nil {
			deps.Tracker.Track(req.Event, req.Attrs)
		}
		writeJSON(w, map[string]string{"status": "queued"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
