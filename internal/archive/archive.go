// Package archive persists finished conversation messages to the SQLite
// transcript store. The archive is strictly additive and best-effort: a
// write failure is logged and the conversation carries on from memory.
package archive

import (
	"encoding/json"
	"log/slog"

	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/persona"
	"github.com/oshelest/shopmate/internal/storage"
)

// TranscriptStore abstracts the durable side of the archive.
type TranscriptStore interface {
	SaveTranscript(t storage.Transcript) error
	RecentTranscripts(persona string, limit int) ([]storage.Transcript, error)
}

// Archive writes conversation messages to a transcript store.
type Archive struct {
	store  TranscriptStore
	logger *slog.Logger
}

// New creates an Archive over the given store.
func New(store TranscriptStore) *Archive {
	return &Archive{store: store, logger: slog.Default()}
}

// Archive records one message. Implements the orchestrator's archiver hook.
func (a *Archive) Archive(msg conversation.Message) {
	relatedJSON := ""
	if msg.Related != nil {
		b, err := json.Marshal(msg.Related)
		if err != nil {
			a.logger.Warn("encoding related resources failed", "message_id", msg.ID, "error", err)
		} else {
			relatedJSON = string(b)
		}
	}

	t := storage.Transcript{
		ID:          msg.ID,
		Persona:     string(msg.Persona),
		Role:        string(msg.Role),
		Content:     msg.Content,
		AudioRef:    msg.AudioRef,
		RelatedJSON: relatedJSON,
		CreatedAt:   msg.CreatedAt,
	}
	if err := a.store.SaveTranscript(t); err != nil {
		a.logger.Warn("archiving message failed", "message_id", msg.ID, "error", err)
	}
}

// Recent returns up to limit archived messages for one persona in
// chronological order, oldest first.
func (a *Archive) Recent(p string, limit int) ([]conversation.Message, error) {
	rows, err := a.store.RecentTranscripts(p, limit)
	if err != nil {
		return nil, err
	}

	// The store returns newest first; replay order is oldest first.
	out := make([]conversation.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msg, err := toMessage(rows[i])
		if err != nil {
			a.logger.Warn("decoding archived message failed", "message_id", rows[i].ID, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func toMessage(t storage.Transcript) (conversation.Message, error) {
	msg := conversation.Message{
		ID:        t.ID,
		Role:      conversation.Role(t.Role),
		Content:   t.Content,
		CreatedAt: t.CreatedAt,
		Persona:   persona.Persona(t.Persona),
		AudioRef:  t.AudioRef,
	}
	if t.RelatedJSON != "" {
		if err := json.Unmarshal([]byte(t.RelatedJSON), &msg.Related); err != nil {
			return conversation.Message{}, err
		}
	}
	return msg, nil
}
