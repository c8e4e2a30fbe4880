package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := len(lib.ArticleSummaries("")); got != 6 {
		t.Errorf("got %d articles, want 6", got)
	}
	if got := len(lib.Checklists()); got != 3 {
		t.Errorf("got %d checklists, want 3", got)
	}
	if got := len(lib.CatalogItems()); got == 0 {
		t.Error("catalog is empty")
	}
	if got := len(lib.Contacts()); got != 3 {
		t.Errorf("got %d contacts, want 3", got)
	}
	if got := len(lib.Quizzes()); got != 3 {
		t.Errorf("got %d quizzes, want 3", got)
	}
}

func TestLoad_StableOrder(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	first := lib.ArticleSummaries("")
	second := lib.ArticleSummaries("")
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("article order changed between calls: %q vs %q", first[i].ID, second[i].ID)
		}
	}
}

func TestArticle(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	art, err := lib.Article("complaints")
	if err != nil {
		t.Fatalf("Article(complaints) failed: %v", err)
	}
	if art.ContentMD == "" {
		t.Error("article body is empty")
	}

	if _, err := lib.Article("missing"); err != ErrNotFound {
		t.Errorf("Article(missing) = %v, want ErrNotFound", err)
	}
}

func TestArticleSummaries_Query(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	results := lib.ArticleSummaries("скарг")
	if len(results) != 1 || results[0].ID != "complaints" {
		t.Errorf("query \"скарг\" returned %v, want only complaints", results)
	}

	// Query filter is case-insensitive.
	if got := len(lib.ArticleSummaries("ДІЇ")); got != 2 {
		t.Errorf("query \"ДІЇ\" returned %d results, want 2", got)
	}
}

func TestChecklist(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cl, err := lib.Checklist("closing")
	if err != nil {
		t.Fatalf("Checklist(closing) failed: %v", err)
	}
	if len(cl.Items) != 4 {
		t.Errorf("closing checklist has %d items, want 4", len(cl.Items))
	}

	if _, err := lib.Checklist("missing"); err != ErrNotFound {
		t.Errorf("Checklist(missing) = %v, want ErrNotFound", err)
	}
}

func TestAddArticle_DuplicateRejected(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	art := Article{ArticleSummary: ArticleSummary{ID: "complaints", Title: "dup"}}
	if err := lib.AddArticle(art); err == nil {
		t.Error("duplicate article id should be rejected")
	}
}

func TestImporter_FromText(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	imp := NewImporter(lib, nil)
	art, err := imp.Import(context.Background(), ImportRequest{
		Title:   "Нова стаття про сервіс",
		Content: "Перше речення. Друге речення.",
		Tags:    []string{"сервіс"},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if art.ID == "" {
		t.Error("imported article has empty id")
	}
	if art.TLDR != "Перше речення." {
		t.Errorf("tldr = %q, want first sentence", art.TLDR)
	}

	stored, err := lib.Article(art.ID)
	if err != nil {
		t.Fatalf("imported article not retrievable: %v", err)
	}
	if stored.Title != "Нова стаття про сервіс" {
		t.Errorf("stored title = %q", stored.Title)
	}
}

func TestImporter_FromURL_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><style>p{color:red}</style><script>alert(1)</script></head><body><h1>Заголовок</h1><p>Текст сторінки.</p></body></html>`))
	}))
	defer srv.Close()

	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	imp := NewImporter(lib, srv.Client())
	art, err := imp.Import(context.Background(), ImportRequest{
		Title: "Стаття з вебу",
		URL:   srv.URL,
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if strings.Contains(art.ContentMD, "alert") || strings.Contains(art.ContentMD, "color:red") {
		t.Errorf("script/style text leaked into content: %q", art.ContentMD)
	}
	if !strings.Contains(art.ContentMD, "Текст сторінки.") {
		t.Errorf("page text missing from content: %q", art.ContentMD)
	}
}

func TestImporter_FromURL_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	imp := NewImporter(lib, srv.Client())
	if _, err := imp.Import(context.Background(), ImportRequest{Title: "x", URL: srv.URL}); err == nil {
		t.Error("expected error on HTTP 500")
	}
}

func TestImporter_ImportURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("вміст " + r.URL.Path))
	}))
	defer srv.Close()

	lib, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	imp := NewImporter(lib, srv.Client())
	arts, err := imp.ImportURLs(context.Background(), []ImportRequest{
		{Title: "Сторінка один", URL: srv.URL + "/one"},
		{Title: "Сторінка два", URL: srv.URL + "/two"},
	})
	if err != nil {
		t.Fatalf("ImportURLs failed: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("got %d articles, want 2", len(arts))
	}
	if arts[0].Title != "Сторінка один" || arts[1].Title != "Сторінка два" {
		t.Error("results not in request order")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Нова стаття про сервіс": "нова-стаття-про-сервіс",
		"Hello, World!":          "hello-world",
		"  a  b  ":               "a-b",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
	if slugify("!!!") == "" {
		t.Error("slugify of punctuation-only title must not be empty")
	}
}
