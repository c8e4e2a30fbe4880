package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const maxFetchSize = 5 << 20 // 5MB

// ImportRequest describes a knowledge-base article to import.
type ImportRequest struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Content  string   `json:"content,omitempty"`
	URL      string   `json:"url,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Importer adds articles to a Library from raw text, PDF files, or web pages.
type Importer struct {
	lib        *Library
	httpClient *http.Client
}

// NewImporter creates an Importer. A nil client falls back to
// http.DefaultClient.
func NewImporter(lib *Library, client *http.Client) *Importer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Importer{lib: lib, httpClient: client}
}

// Import resolves the request content (inline text or fetched URL) and adds
// the article to the library. Returns the stored article.
func (imp *Importer) Import(ctx context.Context, req ImportRequest) (Article, error) {
	if req.Title == "" {
		return Article{}, fmt.Errorf("title is required")
	}
	if req.Content == "" && req.URL == "" {
		return Article{}, fmt.Errorf("at least one of content or url is required")
	}

	body := req.Content
	if body == "" {
		fetched, err := imp.fetchText(ctx, req.URL)
		if err != nil {
			return Article{}, fmt.Errorf("fetching %s: %w", req.URL, err)
		}
		body = fetched
	}

	id := req.ID
	if id == "" {
		id = slugify(req.Title)
	}
	category := req.Category
	if category == "" {
		category = "Імпортовані"
	}

	art := Article{
		ArticleSummary: ArticleSummary{
			ID:       id,
			Title:    req.Title,
			TLDR:     tldr(body),
			Tags:     req.Tags,
			Category: category,
		},
		ContentMD: body,
	}
	if err := imp.lib.AddArticle(art); err != nil {
		return Article{}, err
	}
	return art, nil
}

// ImportURLs fetches and imports several pages concurrently. The first
// failure cancels the remaining fetches.
func (imp *Importer) ImportURLs(ctx context.Context, reqs []ImportRequest) ([]Article, error) {
	results := make([]Article, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			art, err := imp.Import(gctx, req)
			if err != nil {
				return err
			}
			results[i] = art
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ImportPDF extracts plain text from a PDF stream and imports it.
func (imp *Importer) ImportPDF(r io.ReaderAt, size int64, req ImportRequest) (Article, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return Article{}, fmt.Errorf("opening pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return Article{}, fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return Article{}, fmt.Errorf("reading pdf text: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return Article{}, fmt.Errorf("pdf contains no extractable text")
	}

	req.Content = text
	req.URL = ""
	return imp.Import(context.Background(), req)
}

func (imp *Importer) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := imp.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", err
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return extractHTMLText(data)
	}
	return strings.TrimSpace(string(data)), nil
}

// extractHTMLText walks the parsed document and collects visible text,
// skipping script and style subtrees.
func extractHTMLText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := sb.String()
	if text == "" {
		return "", fmt.Errorf("page contains no extractable text")
	}
	return text, nil
}

// slugify builds an article id from a title; non-letter runs become single
// hyphens. Titles that produce an empty slug get a random id.
func slugify(title string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			sb.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		return uuid.New().String()
	}
	return slug
}

// tldr takes the first sentence-ish prefix of the body for the summary line.
func tldr(body string) string {
	text := strings.TrimSpace(body)
	if idx := strings.IndexAny(text, ".\n"); idx > 0 {
		text = text[:idx+1]
	}
	runes := []rune(text)
	if len(runes) > 160 {
		text = string(runes[:160]) + "…"
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "\n")
}
