// Package insights cross-links assistant replies to knowledge-base articles
// and shift checklists via naive keyword-stem matching. Substring matching on
// short stems tolerates Ukrainian word-form inflection without a
// morphological analyzer.
package insights

import (
	"strings"

	"github.com/oshelest/shopmate/internal/content"
)

const (
	fallbackArticles   = 3
	fallbackChecklists = 2
)

// stemMapping ties a keyword stem to related resource ids. Kept as an
// ordered slice so resolution is deterministic.
type stemMapping struct {
	stem       string
	articles   []string
	checklists []string
}

var stemTable = []stemMapping{
	// Noun ("скарга") and verb ("скаржитися") forms stem differently; both
	// map to the same resources.
	{stem: "скарг", articles: []string{"complaints"}, checklists: []string{"closing"}},
	{stem: "скарж", articles: []string{"complaints"}, checklists: []string{"closing"}},
	{stem: "дегустац", articles: []string{"welcome-flow"}, checklists: []string{"tasting-bar"}},
	{stem: "десерт", articles: []string{"cross-selling"}, checklists: []string{"morning-shift"}},
	{stem: "тривог", articles: []string{"emergency-air-raid"}, checklists: []string{"closing"}},
	{stem: "пожеж", articles: []string{"emergency-fire"}, checklists: []string{"closing"}},
	{stem: "світл", articles: []string{"emergency-power-outage"}, checklists: []string{"closing"}},
}

// Resources is the set of related content for one assistant reply.
type Resources struct {
	Articles   []content.ArticleSummary `json:"articles"`
	Checklists []content.Checklist      `json:"checklists"`
}

// Catalog is the read-only content source the engine resolves ids against.
// The engine never fetches content itself.
type Catalog interface {
	ArticleSummaries(query string) []content.ArticleSummary
	Checklists() []content.Checklist
}

// Engine matches reply text against the stem table.
type Engine struct {
	catalog Catalog
}

// New creates an Engine over the given catalog.
func New(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Resolve returns the articles and checklists related to text. If no stem
// matches, each list independently falls back to a fixed-size prefix of the
// catalog so the result is never empty. Pure: same text, same catalog, same
// result.
func (e *Engine) Resolve(text string) Resources {
	normalized := strings.ToLower(text)

	articleIDs := make(map[string]bool)
	checklistIDs := make(map[string]bool)
	for _, m := range stemTable {
		if !strings.Contains(normalized, m.stem) {
			continue
		}
		for _, id := range m.articles {
			articleIDs[id] = true
		}
		for _, id := range m.checklists {
			checklistIDs[id] = true
		}
	}

	allArticles := e.catalog.ArticleSummaries("")
	allChecklists := e.catalog.Checklists()

	// Filtering in catalog order keeps the result order stable and
	// deduplicates with first occurrence winning.
	articles := filterByID(allArticles, articleIDs, func(a content.ArticleSummary) string { return a.ID })
	if len(articles) == 0 {
		articles = prefix(allArticles, fallbackArticles, func(a content.ArticleSummary) string { return a.ID })
	}

	checklists := filterByID(allChecklists, checklistIDs, func(c content.Checklist) string { return c.ID })
	if len(checklists) == 0 {
		checklists = prefix(allChecklists, fallbackChecklists, func(c content.Checklist) string { return c.ID })
	}

	return Resources{Articles: articles, Checklists: checklists}
}

func filterByID[T any](list []T, ids map[string]bool, idOf func(T) string) []T {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []T
	for _, item := range list {
		id := idOf(item)
		if ids[id] && !seen[id] {
			seen[id] = true
			out = append(out, item)
		}
	}
	return out
}

func prefix[T any](list []T, n int, idOf func(T) string) []T {
	seen := make(map[string]bool)
	var out []T
	for _, item := range list {
		if len(out) >= n {
			break
		}
		id := idOf(item)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, item)
	}
	return out
}
