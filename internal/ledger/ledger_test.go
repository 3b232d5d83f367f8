package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "asset", "task.csv"), opts...)
}

func writeLedger(t *testing.T, l *Ledger, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.Path(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	ctx := context.Background()

	tasks, err := newTestLedger(t).Load(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty ledger, got %d tasks", len(tasks))
	}

	_, err = newTestLedger(t, WithFirstRun(false)).Load(ctx)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"bad header":   "id,text\n1,hello\n",
		"column count": "id,text,generate_storybook,upload_storybook,is_target,pic\n1,hello,0,0\n",
		"bad id":       "id,text,generate_storybook,upload_storybook,is_target,pic\nx,hello,0,0,1,0\n",
		"bad flag":     "id,text,generate_storybook,upload_storybook,is_target,pic\n1,hello,2,0,1,0\n",
		"duplicate":    "id,text,generate_storybook,upload_storybook,is_target,pic\n1,a,0,0,1,0\n1,b,0,0,1,0\n",
		"bad quoting":  "id,text,generate_storybook,upload_storybook,is_target,pic\n1,\"a,0,0,1,0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger(t)
			writeLedger(t, l, content)
			_, err := l.Load(context.Background())
			if !errors.Is(err, ErrStorageUnavailable) {
				t.Fatalf("expected ErrStorageUnavailable, got %v", err)
			}
			var ce *CorruptError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CorruptError, got %T", err)
			}
		})
	}
}

func TestLoad_BOMAndLegacyPic(t *testing.T) {
	l := newTestLedger(t)
	writeLedger(t, l, "\xEF\xBB\xBFid,text,generate_storybook,upload_storybook,is_target,pic\n"+
		"2,\"a fox, a hen\",1,0,1,0\n"+
		"1,plain,0,0,1,styles/moon.png\n")

	tasks, err := l.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != 2 || tasks[0].Text != "a fox, a hen" || !tasks[0].GenerateStorybook || tasks[0].Pic != "" {
		t.Errorf("task 2 = %+v", tasks[0])
	}
	if tasks[1].Pic != "styles/moon.png" {
		t.Errorf("task 1 pic = %q", tasks[1].Pic)
	}
}

func TestLoad_WithoutPicColumn(t *testing.T) {
	l := newTestLedger(t)
	writeLedger(t, l, "id,text,generate_storybook,upload_storybook,is_target\n1,old,0,0,1\n")

	tasks, err := l.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Pic != "" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestInsert_IDsAreMaxPlusOne(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	writeLedger(t, l, "id,text,generate_storybook,upload_storybook,is_target,pic\n7,seven,1,1,1,0\n3,three,0,0,0,0\n")

	added, err := l.Insert(ctx, []string{"a", "b", "a"}, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{8, 9, 10}
	if got := IDs(added); !equalInts(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for _, task := range added {
		if !task.IsTarget || task.GenerateStorybook || task.UploadStorybook {
			t.Errorf("new task flags wrong: %+v", task)
		}
	}

	more, err := l.Insert(ctx, []string{"c"}, "ref.png")
	if err != nil {
		t.Fatal(err)
	}
	if more[0].ID != 11 || more[0].Pic != "ref.png" {
		t.Errorf("second insert = %+v", more[0])
	}

	all, err := l.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Errorf("expected 6 tasks, got %d", len(all))
	}
}

func TestInsert_Empty(t *testing.T) {
	l := newTestLedger(t)
	added, err := l.Insert(context.Background(), nil, "")
	if err != nil || added != nil {
		t.Fatalf("Insert(nil) = %v, %v", added, err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("empty insert should not create the ledger")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	in := []Task{
		{ID: 2, Text: "line one\nline two", IsTarget: true, GenerateStorybook: true},
		{ID: 1, Text: `she said "hi", twice`, IsTarget: true, Pic: "p.png"},
		{ID: 5, Text: "done", IsTarget: true, GenerateStorybook: true, UploadStorybook: true},
	}
	if err := l.Save(ctx, in); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(l.Path())
	if !bytes.HasPrefix(raw, utf8BOM) {
		t.Error("saved ledger should start with a BOM")
	}
	if !strings.Contains(string(raw), "\n2,") || !strings.HasSuffix(strings.TrimSpace(string(raw)), "1,1,1,0") {
		t.Errorf("unexpected layout:\n%s", raw)
	}

	out, err := l.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(out))
	}
	byID := map[int]Task{}
	for _, task := range out {
		byID[task.ID] = task
	}
	for _, want := range in {
		if got := byID[want.ID]; got != want {
			t.Errorf("task %d = %+v, want %+v", want.ID, got, want)
		}
	}
}

func TestSave_RefusesRegression(t *testing.T) {
	ctx := context.Background()
	base := []Task{
		{ID: 1, Text: "a", IsTarget: true, GenerateStorybook: true},
		{ID: 2, Text: "b", IsTarget: false},
	}
	cases := map[string][]Task{
		"clear generate": {{ID: 1, Text: "a", IsTarget: true}, {ID: 2, Text: "b"}},
		"drop task":      {{ID: 1, Text: "a", IsTarget: true, GenerateStorybook: true}},
		"retarget":       {{ID: 1, Text: "a", IsTarget: true, GenerateStorybook: true}, {ID: 2, Text: "b", IsTarget: true}},
	}
	for name, next := range cases {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger(t)
			if err := l.Save(ctx, base); err != nil {
				t.Fatal(err)
			}
			if err := l.Save(ctx, next); !errors.Is(err, ErrFlagRegression) {
				t.Fatalf("expected ErrFlagRegression, got %v", err)
			}
			got, _ := l.Load(ctx)
			if len(got) != 2 || !got[0].GenerateStorybook {
				t.Errorf("ledger changed after refused save: %+v", got)
			}
		})
	}
}

func TestSave_RejectsDuplicateIDs(t *testing.T) {
	l := newTestLedger(t)
	err := l.Save(context.Background(), []Task{{ID: 1, Text: "a"}, {ID: 1, Text: "b"}})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	if _, err := l.Insert(ctx, []string{"a", "b"}, ""); err != nil {
		t.Fatal(err)
	}

	err := l.Update(ctx, 2, func(task *Task) {
		task.GenerateStorybook = true
		task.Text = "rewritten"
	})
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := l.Load(ctx)
	if !tasks[1].GenerateStorybook || tasks[1].Text != "b" {
		t.Errorf("task 2 = %+v", tasks[1])
	}
	if tasks[0].GenerateStorybook {
		t.Error("task 1 should be untouched")
	}

	if err := l.Update(ctx, 99, func(*Task) {}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if err := l.Update(ctx, 2, func(task *Task) { task.GenerateStorybook = false }); !errors.Is(err, ErrFlagRegression) {
		t.Errorf("expected ErrFlagRegression, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := newTestLedger(t)
	if _, err := l.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load: %v", err)
	}
	if _, err := l.Insert(ctx, []string{"x"}, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Insert: %v", err)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
