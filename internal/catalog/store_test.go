package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dohr-michael/storybook/internal/ledger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stories.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPadID(t *testing.T) {
	cases := []struct {
		id, width int
		want      string
	}{
		{7, 4, "0007"},
		{12345, 4, "12345"},
		{3, 0, "0003"},
		{3, 2, "03"},
	}
	for _, c := range cases {
		if got := PadID(c.id, c.width); got != c.want {
			t.Errorf("PadID(%d,%d) = %q, want %q", c.id, c.width, got, c.want)
		}
	}
}

func TestStore_InsertSkipsExisting(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, []Entry{{"A cat", "0001"}, {"A dog", "0002"}, {"Dup", "0001"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.Inserted != 2 || res.Skipped != 1 {
		t.Errorf("res = %+v", res)
	}

	res, err = s.Insert(ctx, []Entry{{"A dog again", "0002"}, {"A bird", "0003"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("second res = %+v", res)
	}

	n, err := s.Get(ctx, "0002")
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "A dog" {
		t.Errorf("title = %q, existing entry must win", n.Title)
	}
	if n.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Description != "0001" || all[2].Description != "0003" {
		t.Errorf("all = %+v", all)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "9999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_InsertRejectsEmptyIndex(t *testing.T) {
	s := openStore(t)
	if _, err := s.Insert(context.Background(), []Entry{{"ok", "0001"}, {"bad", ""}}); err == nil {
		t.Fatal("expected error")
	}
	all, _ := s.All(context.Background())
	if len(all) != 0 {
		t.Errorf("batch should roll back, got %+v", all)
	}
}

func TestStoreCommitter(t *testing.T) {
	s := openStore(t)
	c := NewStoreCommitter(s, 4)
	ctx := context.Background()
	tasks := []ledger.Task{{ID: 1, Text: "one"}, {ID: 2, Text: "two"}}

	todo, err := c.Unrecorded(ctx, tasks)
	if err != nil || len(todo) != 2 {
		t.Fatalf("Unrecorded = %v, %v", todo, err)
	}
	if err := c.Commit(ctx, tasks[:1]); err != nil {
		t.Fatal(err)
	}
	todo, err = c.Unrecorded(ctx, tasks)
	if err != nil || len(todo) != 1 || todo[0].ID != 2 {
		t.Errorf("Unrecorded after commit = %v, %v", todo, err)
	}
}
