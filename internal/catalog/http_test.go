package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

func TestHTTPCommitter_Commit(t *testing.T) {
	var got []Entry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/story" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"inserted":1,"skipped":0}`))
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL+"/api/story", 4, 0)
	if err := c.Commit(context.Background(), []ledger.Task{{ID: 12, Text: "A cat"}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(got) != 1 || got[0] != (Entry{Title: "A cat", Index: "0012"}) {
		t.Errorf("posted = %+v", got)
	}
}

func TestHTTPCommitter_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "D1 unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTPCommitter(srv.URL, 4, 0).Commit(context.Background(), []ledger.Task{{ID: 1, Text: "x"}})
	var ce *pipeline.CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CommitError", err)
	}
	if ce.Diagnostic != "D1 unavailable" {
		t.Errorf("diagnostic = %q", ce.Diagnostic)
	}
}

func TestHTTPCommitter_Unrecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("index") == "0001" {
			w.Write([]byte(`{"description":"0001"}`))
			return
		}
		http.Error(w, "Novel not found", http.StatusNotFound)
	}))
	defer srv.Close()

	todo, err := NewHTTPCommitter(srv.URL, 4, 0).Unrecorded(context.Background(),
		[]ledger.Task{{ID: 1}, {ID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(todo) != 1 || todo[0].ID != 2 {
		t.Errorf("todo = %+v", todo)
	}
}

func TestNew(t *testing.T) {
	c, store, err := New(config.CatalogConfig{Driver: "sqlite", DSN: t.TempDir() + "/s.db", PadWidth: 4})
	if err != nil || store == nil {
		t.Fatalf("sqlite: %v", err)
	}
	store.Close()
	if _, ok := c.(pipeline.CommitFilter); !ok {
		t.Error("sqlite committer should filter")
	}
	if _, _, err := New(config.CatalogConfig{Driver: "http"}); err == nil {
		t.Error("http without url should fail")
	}
	if _, _, err := New(config.CatalogConfig{Driver: "mongo"}); err == nil {
		t.Error("unknown driver should fail")
	}
}
