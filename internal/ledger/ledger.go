package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dohr-michael/storybook/internal/storage"
)

// Ledger reads and writes the task CSV file. A Ledger serializes its own
// read-modify-write cycles; it assumes it is the only writer of the file.
type Ledger struct {
	path          string
	allowFirstRun bool
	mu            sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFirstRun controls whether a missing file loads as an empty ledger.
func WithFirstRun(allow bool) Option {
	return func(l *Ledger) { l.allowFirstRun = allow }
}

// New returns a ledger backed by the CSV file at path.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{path: path, allowFirstRun: true}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Load returns every task in the ledger.
func (l *Ledger) Load(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *Ledger) load() ([]Task, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) && l.allowFirstRun {
			slog.Debug("ledger missing, starting empty", "path", l.path)
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w: %w", l.path, ErrStorageUnavailable, err)
	}
	return decodeCSV(l.path, data)
}

// Insert appends one task per text with ids continuing after the current
// maximum. The new tasks are targeted with no stage flags set. An empty
// texts slice is a no-op.
func (l *Ledger) Insert(ctx context.Context, texts []string, pic string) ([]Task, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tasks, err := l.load()
	if err != nil {
		return nil, err
	}

	next := maxID(tasks) + 1
	added := make([]Task, len(texts))
	for i, text := range texts {
		added[i] = Task{ID: next + i, Text: text, IsTarget: true, Pic: pic}
	}

	if err := l.write(append(tasks, added...)); err != nil {
		return nil, err
	}
	slog.Info("tasks inserted", "count", len(added), "first_id", added[0].ID, "last_id", added[len(added)-1].ID)
	return added, nil
}

// Save replaces the ledger with tasks. It refuses snapshots that would move
// a task backwards relative to the file on disk.
func (l *Ledger) Save(ctx context.Context, tasks []Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.load()
	if err != nil {
		return err
	}
	if err := checkForward(current, tasks); err != nil {
		return err
	}
	return l.write(tasks)
}

// Update applies mutate to the task with the given id and saves the result.
// Text and id changes made by mutate are discarded.
func (l *Ledger) Update(ctx context.Context, id int, mutate func(*Task)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tasks, err := l.load()
	if err != nil {
		return err
	}

	next := append([]Task(nil), tasks...)
	found := false
	for i := range next {
		if next[i].ID != id {
			continue
		}
		orig := next[i]
		mutate(&next[i])
		next[i].ID, next[i].Text = orig.ID, orig.Text
		found = true
		break
	}
	if !found {
		return fmt.Errorf("update task %d: %w", id, ErrTaskNotFound)
	}
	if err := checkForward(tasks, next); err != nil {
		return err
	}
	return l.write(next)
}

func (l *Ledger) write(tasks []Task) error {
	if err := checkUnique(tasks); err != nil {
		return err
	}
	data, err := encodeCSV(tasks)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := storage.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func checkUnique(tasks []Task) error {
	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		if t.ID <= 0 {
			return fmt.Errorf("save ledger: invalid id %d", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("save ledger: duplicate id %d", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// checkForward verifies that next keeps every task of current and never
// clears a stage flag or re-targets an excluded task.
func checkForward(current, next []Task) error {
	byID := make(map[int]Task, len(next))
	for _, t := range next {
		byID[t.ID] = t
	}
	for _, old := range current {
		t, ok := byID[old.ID]
		switch {
		case !ok:
			return fmt.Errorf("task %d dropped: %w", old.ID, ErrFlagRegression)
		case old.GenerateStorybook && !t.GenerateStorybook:
			return fmt.Errorf("task %d generate_storybook 1 -> 0: %w", old.ID, ErrFlagRegression)
		case old.UploadStorybook && !t.UploadStorybook:
			return fmt.Errorf("task %d upload_storybook 1 -> 0: %w", old.ID, ErrFlagRegression)
		case !old.IsTarget && t.IsTarget:
			return fmt.Errorf("task %d is_target 0 -> 1: %w", old.ID, ErrFlagRegression)
		}
	}
	return nil
}
