package agent

// HistoryEntry is one prior message handed to the backend as context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the outbound payload for one assistant exchange. AuthContext
// is the opaque host-session token, passed through unexamined; its absence
// never blocks a request.
type Request struct {
	Text        string         `json:"text,omitempty"`
	AudioBase64 string         `json:"audioBase64,omitempty"`
	Persona     string         `json:"persona"`
	History     []HistoryEntry `json:"history"`
	AuthContext string         `json:"initData,omitempty"`
}

// Reply is the normalized backend response. Recognized is false when the
// body carried none of the accepted reply fields; Output is then empty and
// the caller substitutes its own fallback text.
type Reply struct {
	Output     string
	Image      string
	VideoURL   string
	Recognized bool
}
