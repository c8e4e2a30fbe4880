package persona

import "fmt"

// Persona is one of the fixed conversational modes of the assistant.
// Each persona owns an independent message history.
type Persona string

const (
	Seller       Persona = "seller"
	Psychologist Persona = "psychologist"
	Companion    Persona = "companion"
)

// Info describes a persona for display purposes.
type Info struct {
	ID          Persona `json:"id"`
	Label       string  `json:"label"`
	Icon        string  `json:"icon"`
	Description string  `json:"description"`
}

// catalog is configuration, not runtime state. Order is display order.
var catalog = []Info{
	{
		ID:          Seller,
		Label:       "Продавець",
		Icon:        "🛒",
		Description: "Про товари, техніки продажу та сервіс",
	},
	{
		ID:          Psychologist,
		Label:       "Психолог",
		Icon:        "💆",
		Description: "Підтримка емоційного стану та робота зі стресом",
	},
	{
		ID:          Companion,
		Label:       "Потеревенькати",
		Icon:        "☕",
		Description: "Легка дружня бесіда під час зміни",
	},
}

// All returns the persona catalog in display order.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Parse validates a raw persona identifier.
func Parse(raw string) (Persona, error) {
	for _, p := range catalog {
		if string(p.ID) == raw {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("unknown persona %q", raw)
}

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	_, err := Parse(string(p))
	return err == nil
}
