package conversation

import (
	"time"

	"github.com/oshelest/shopmate/internal/insights"
	"github.com/oshelest/shopmate/internal/persona"
)

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation entry. Messages are created once and
// never mutated; the store hands out copies only.
type Message struct {
	ID        string              `json:"id"`
	Role      Role                `json:"role"`
	Content   string              `json:"content"`
	CreatedAt time.Time           `json:"createdAt"`
	Persona   persona.Persona     `json:"persona"`
	AudioRef  string              `json:"audioRef,omitempty"`
	Related   *insights.Resources `json:"relatedResources,omitempty"`
}
