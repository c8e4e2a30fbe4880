package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

//go:embed data/*.json
var dataFS embed.FS

// ErrNotFound is returned when a requested content entry does not exist.
var ErrNotFound = errors.New("not found")

// ArticleSummary is a knowledge-base article without its body.
type ArticleSummary struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	TLDR     string   `json:"tldr"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
	ImageURL string   `json:"imageUrl,omitempty"`
	VideoURL string   `json:"videoUrl,omitempty"`
}

// Article is a full knowledge-base article.
type Article struct {
	ArticleSummary
	ContentMD string `json:"contentMd"`
}

// ChecklistItem is a single step of a shift checklist.
type ChecklistItem struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	HelperLink string `json:"helperLink,omitempty"`
}

// Checklist is a shift checklist with its steps.
type Checklist struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Items       []ChecklistItem `json:"items"`
}

// CatalogAvailability is per-location stock for a catalog item.
type CatalogAvailability struct {
	Location         string `json:"location"`
	Stock            int    `json:"stock"`
	ReplenishmentETA string `json:"replenishmentEta,omitempty"`
}

// CatalogInstruction is a video or AR aid attached to a catalog item.
type CatalogInstruction struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"` // "video" or "ar"
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// CatalogItem is a product catalog entry.
type CatalogItem struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Image        string                `json:"image"`
	URL          string                `json:"url"`
	VideoURL     string                `json:"videoUrl,omitempty"`
	Availability []CatalogAvailability `json:"availability"`
	CrossSellIDs []string              `json:"crossSellIds,omitempty"`
	Instructions []CatalogInstruction  `json:"instructions,omitempty"`
}

// Contact is a directory entry for reaching support staff.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Telegram string `json:"telegram"`
	Email    string `json:"email"`
	VideoURL string `json:"videoUrl,omitempty"`
	Hours    string `json:"hours,omitempty"`
}

// QuizOption is a single answer option of a quiz question.
type QuizOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuizQuestion is one question of a quiz module.
type QuizQuestion struct {
	ID              string       `json:"id"`
	Text            string       `json:"text"`
	Options         []QuizOption `json:"options"`
	CorrectOptionID string       `json:"correctOptionId"`
	Hint            string       `json:"hint,omitempty"`
	Explanation     string       `json:"explanation,omitempty"`
}

// QuizModule is a staff training quiz.
type QuizModule struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Duration       string         `json:"duration"`
	QuestionsCount int            `json:"questionsCount"`
	Description    string         `json:"description"`
	Questions      []QuizQuestion `json:"questions,omitempty"`
}

// Library holds the static content catalogs. Catalog order is the embedded
// file order and stays stable for the process lifetime; imported articles
// are appended after the embedded ones.
type Library struct {
	mu         sync.RWMutex
	articles   []Article
	checklists []Checklist
	catalog    []CatalogItem
	contacts   []Contact
	quizzes    []QuizModule
}

// Load parses the embedded content catalogs.
func Load() (*Library, error) {
	lib := &Library{}

	if err := loadJSON("data/knowledge_base.json", &lib.articles); err != nil {
		return nil, err
	}
	if err := loadJSON("data/checklists.json", &lib.checklists); err != nil {
		return nil, err
	}
	if err := loadJSON("data/catalog.json", &lib.catalog); err != nil {
		return nil, err
	}
	if err := loadJSON("data/contacts.json", &lib.contacts); err != nil {
		return nil, err
	}
	if err := loadJSON("data/quizzes.json", &lib.quizzes); err != nil {
		return nil, err
	}

	return lib, nil
}

func loadJSON(name string, v any) error {
	data, err := dataFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading embedded %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// ArticleSummaries returns all article summaries, optionally filtered by a
// case-insensitive title substring query.
func (l *Library) ArticleSummaries(query string) []ArticleSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]ArticleSummary, 0, len(l.articles))
	for _, a := range l.articles {
		if q != "" && !strings.Contains(strings.ToLower(a.Title), q) {
			continue
		}
		out = append(out, a.ArticleSummary)
	}
	return out
}

// Article returns a full article by id.
func (l *Library) Article(id string) (Article, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, a := range l.articles {
		if a.ID == id {
			return a, nil
		}
	}
	return Article{}, ErrNotFound
}

// AddArticle appends an imported article. The id must not collide with an
// existing one.
func (l *Library) AddArticle(a Article) error {
	if a.ID == "" || a.Title == "" {
		return fmt.Errorf("article id and title are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.articles {
		if existing.ID == a.ID {
			return fmt.Errorf("article %q already exists", a.ID)
		}
	}
	l.articles = append(l.articles, a)
	return nil
}

// Checklists returns all checklists.
func (l *Library) Checklists() []Checklist {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Checklist, len(l.checklists))
	copy(out, l.checklists)
	return out
}

// Checklist returns a checklist by id.
func (l *Library) Checklist(id string) (Checklist, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, c := range l.checklists {
		if c.ID == id {
			return c, nil
		}
	}
	return Checklist{}, ErrNotFound
}

// CatalogItems returns the product catalog.
func (l *Library) CatalogItems() []CatalogItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]CatalogItem, len(l.catalog))
	copy(out, l.catalog)
	return out
}

// Contacts returns the contacts directory.
func (l *Library) Contacts() []Contact {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Contact, len(l.contacts))
	copy(out, l.contacts)
	return out
}

// Quizzes returns the quiz modules.
func (l *Library) Quizzes() []QuizModule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]QuizModule, len(l.quizzes))
	copy(out, l.quizzes)
	return out
}
