package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kotae/internal/catalog"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/internal/vectorstore"
)

const testDims = 32

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

type testEnv struct {
	idx     *Indexer
	store   *vectorstore.MemoryStore
	client  *embedding.Client
	catalog *catalog.Catalog
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvAt(t, time.Now, opts...)
}

// newTestEnvAt shares one clock between the indexer and the store so fragment
// expiry is judged against the same time it was stamped with.
func newTestEnvAt(t *testing.T, now func() time.Time, opts ...Option) *testEnv {
	t.Helper()
	store, err := vectorstore.NewMemoryStore(testDims, vectorstore.WithClock(now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cat, err := catalog.New("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cat.Close() })
	client := embedding.NewClient(embedding.NewMockProvider(testDims), embedding.WithBatching(5, 0))
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{WithCatalog(cat), WithChunking(40, 8), WithClock(now)}, opts...)
	return &testEnv{idx: New(client, store, opts...), store: store, client: client, catalog: cat}
}

func (e *testEnv) search(t *testing.T, query, docID string) []*models.RetrievalResult {
	t.Helper()
	vec, err := e.client.Embed(context.Background(), query)
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.store.Search(context.Background(), vec, 50, vectorstore.DocumentFilter(docID))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestIngestText(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnvAt(t, func() time.Time { return now }, WithTTL(time.Hour))
	ctx := context.Background()

	res, err := env.idx.IngestText(ctx, models.DocumentInput{
		ID:       "handbook",
		Title:    "Team handbook",
		Content:  "Deploys happen on Tuesdays. Rollbacks need two approvals. On-call rotates weekly.",
		Metadata: map[string]interface{}{"team": "platform"},
	})
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if res.DocumentID != "handbook" || res.Fragments < 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}

	hits := env.search(t, "deploys", "handbook")
	if len(hits) != res.Fragments {
		t.Fatalf("stored %d fragments, want %d", len(hits), res.Fragments)
	}
	if hits[0].Metadata["team"] != "platform" || hits[0].Metadata[MetaTitle] != "Team handbook" {
		t.Errorf("metadata not stored: %v", hits[0].Metadata)
	}

	entry, err := env.catalog.Get(ctx, "handbook")
	if err != nil || entry == nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
	if entry.Fragments != res.Fragments || entry.Title != "Team handbook" {
		t.Errorf("catalog entry = %+v", entry)
	}
}

func TestIngestText_replacesPreviousFragments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	long := strings.Repeat("The first version had many sentences. ", 10)
	first, err := env.idx.IngestText(ctx, models.DocumentInput{ID: "doc", Content: long})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.idx.IngestText(ctx, models.DocumentInput{ID: "doc", Content: "Short replacement."})
	if err != nil {
		t.Fatal(err)
	}
	if first.Fragments <= second.Fragments {
		t.Fatalf("expected fewer fragments after replace: %d then %d", first.Fragments, second.Fragments)
	}
	n, _ := env.store.Count(ctx)
	if n != second.Fragments {
		t.Errorf("store holds %d fragments, want %d", n, second.Fragments)
	}
}

func TestIngestText_generatesID(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.idx.IngestText(context.Background(), models.DocumentInput{Content: "Some text."})
	if err != nil {
		t.Fatal(err)
	}
	if res.DocumentID == "" {
		t.Error("expected a generated document id")
	}
}

func TestIngestText_validation(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range []models.DocumentInput{
		{Content: "   \n\t"},
		{ID: "a/b", Content: "text"},
		{ID: strings.Repeat("x", 129), Content: "text"},
	} {
		_, err := env.idx.IngestText(context.Background(), in)
		if !errors.Is(err, ragerrors.ErrValidation) {
			t.Errorf("IngestText(%+v): expected validation error, got %v", in, err)
		}
	}
}

func TestIngestFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(fPath, []byte("Hello world content."), 0600); err != nil {
		t.Fatal(err)
	}
	res, err := env.idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}
	docID := fileid.FromAbs(fPath)
	if res.DocumentID != docID || res.Title != "doc.txt" {
		t.Fatalf("unexpected result: %+v", res)
	}
	hits := env.search(t, "hello", docID)
	if len(hits) != 1 || hits[0].Text != "Hello world content." {
		t.Fatalf("unexpected fragments: %+v", hits)
	}
	if hits[0].Metadata[MetaSourcePath] != fPath {
		t.Errorf("metadata source_path: got %v", hits[0].Metadata[MetaSourcePath])
	}

	if err := os.WriteFile(fPath, []byte("Updated content."), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := env.idx.IngestFile(ctx, fPath); err != nil {
		t.Fatal(err)
	}
	hits = env.search(t, "updated", docID)
	if len(hits) != 1 || hits[0].Text != "Updated content." {
		t.Errorf("after update: %+v", hits)
	}
}

func TestIngestFile_rejected(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, WithExtensions([]string{".txt", ".md"}), WithMaxBytes(16))
	ctx := context.Background()

	script := filepath.Join(dir, "script.sh")
	html := filepath.Join(dir, "page.html")
	big := filepath.Join(dir, "big.txt")
	for path, body := range map[string]string{script: "#!/bin/bash", html: "<p>hi</p>", big: strings.Repeat("x", 17)} {
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	for _, path := range []string{script, html, big, dir} {
		if _, err := env.idx.IngestFile(ctx, path); !errors.Is(err, ragerrors.ErrValidation) {
			t.Errorf("IngestFile(%s): expected validation error, got %v", filepath.Base(path), err)
		}
	}
	if _, err := env.idx.IngestFile(ctx, filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestFile_excel(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t)

	fPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	res, err := env.idx.IngestFile(context.Background(), fPath)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	hits := env.search(t, "excel", res.DocumentID)
	if len(hits) != 1 || hits[0].Text != "Sheet: Sheet1\nExcel searchable content" {
		t.Errorf("unexpected fragments: %+v", hits)
	}
}

func TestIngestBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.idx.IngestBytes(ctx, "notes/release.html", []byte("<h1>Release</h1><p>Ships Friday.</p>"), models.DocumentInput{ID: "release"})
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if res.Title != "release.html" {
		t.Errorf("Title = %q", res.Title)
	}
	entry, _ := env.catalog.Get(ctx, "release")
	if entry == nil || entry.Source != "upload:release.html" {
		t.Errorf("catalog entry = %+v", entry)
	}

	if _, err := env.idx.IngestBytes(ctx, "slides.pptx", []byte("x"), models.DocumentInput{}); !errors.Is(err, ragerrors.ErrValidation) {
		t.Errorf("expected validation error for unsupported upload, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "note.md")
	if err := os.WriteFile(fPath, []byte("Note content."), 0600); err != nil {
		t.Fatal(err)
	}
	res, err := env.idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}
	removed, err := env.idx.DeleteFile(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}
	if removed != res.Fragments {
		t.Errorf("removed %d fragments, want %d", removed, res.Fragments)
	}
	if hits := env.search(t, "note", res.DocumentID); len(hits) != 0 {
		t.Errorf("fragments remain after delete: %d", len(hits))
	}
	if entry, _ := env.catalog.Get(ctx, res.DocumentID); entry != nil {
		t.Error("catalog entry remains after delete")
	}

	removed, err = env.idx.DeleteDocument(ctx, "unknown")
	if err != nil || removed != 0 {
		t.Errorf("DeleteDocument(unknown) = %d, %v", removed, err)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, WithExtensions([]string{".txt"}))

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):     "file a",
		filepath.Join(dir, "b.txt"):     "file b",
		filepath.Join(sub, "c.txt"):     "file c",
		filepath.Join(dir, "empty.txt"): "   ",
		filepath.Join(dir, "skip.xyz"):  "skip",
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	results, err := env.idx.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("IngestDirectory: ingested %d files, want 3", len(results))
	}
	want, _ := fileid.ForPath(filepath.Join(sub, "c.txt"))
	found := false
	for _, r := range results {
		if r.DocumentID == want {
			found = true
		}
	}
	if !found {
		t.Errorf("sub/c.txt missing from results %+v", results)
	}
}
