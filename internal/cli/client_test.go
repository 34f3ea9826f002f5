package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func newAPI(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

func TestClient_Query(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var req models.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(models.QueryResult{Query: req.Query, Answer: "42", Confidence: 0.5})
	})
	c := newAPI(t, mux)

	res, err := c.Query(context.Background(), models.QueryRequest{Query: "meaning?", MaxResults: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Query != "meaning?" || res.Answer != "42" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_errorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, `{"error":{"kind":"query_timeout","message":"The query did not complete within the allowed time."}}`)
	})
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newAPI(t, mux)

	_, err := c.Query(context.Background(), models.QueryRequest{Query: "slow"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusGatewayTimeout || apiErr.Kind != "query_timeout" {
		t.Errorf("apiErr = %+v", apiErr)
	}

	_, err = c.Stats(context.Background())
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" || apiErr.Kind != "" {
		t.Errorf("plain error = %v", err)
	}
}

func TestClient_HistoryAndDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if got := r.URL.Query().Get("limit"); got != "5" {
				t.Errorf("limit = %q", got)
			}
			_ = json.NewEncoder(w).Encode(models.HistoryPage{Total: 7, Limit: 5})
		case http.MethodDelete:
			_, _ = io.WriteString(w, `{"status":"cleared"}`)
		}
	})
	mux.HandleFunc("/api/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "release notes" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		_, _ = io.WriteString(w, `{"documents":[{"id":"a","title":"Release notes","fragments":2}],"total":1}`)
	})
	mux.HandleFunc("/api/v1/documents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/documents/file_12" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"document_id":"file_12","fragments_deleted":3}`)
	})
	c := newAPI(t, mux)
	ctx := context.Background()

	page, err := c.History(ctx, 5)
	if err != nil || page.Total != 7 {
		t.Fatalf("History = %+v, %v", page, err)
	}
	if err := c.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	docs, total, err := c.Documents(ctx, "release notes", 0)
	if err != nil || total != 1 || docs[0].Title != "Release notes" {
		t.Fatalf("Documents = %+v, %d, %v", docs, total, err)
	}
	n, err := c.DeleteDocument(ctx, "file_12")
	if err != nil || n != 3 {
		t.Fatalf("DeleteDocument = %d, %v", n, err)
	}
}

func TestClient_Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\nhello"), 0o644); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "notes.md" || string(data) != "# Notes\nhello" || r.FormValue("id") != "n1" {
			t.Errorf("upload = %q %q id=%q", header.Filename, data, r.FormValue("id"))
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.IngestResult{DocumentID: "n1", Fragments: 1})
	})
	c := newAPI(t, mux)

	res, err := c.Upload(context.Background(), path, "n1", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.DocumentID != "n1" || res.Fragments != 1 {
		t.Errorf("result = %+v", res)
	}

	if _, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.md"), "", ""); err == nil {
		t.Error("expected error for missing file")
	}
}
