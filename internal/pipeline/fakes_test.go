package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/dohr-michael/storybook/internal/ledger"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(filepath.Join(t.TempDir(), "task.csv"))
}

type fakeStories struct {
	stories []string
	err     error
	calls   int
	topics  []string
	// cancel, when set, is called once the stories are generated.
	cancel context.CancelFunc
}

func (f *fakeStories) Generate(_ context.Context, topic string, count int) ([]string, error) {
	f.calls++
	f.topics = append(f.topics, topic)
	if f.cancel != nil {
		f.cancel()
	}
	return f.stories, f.err
}

// fakeImages "renders" into an in-memory staging set shared with fakeUploader.
type fakeImages struct {
	mu       sync.Mutex
	fail     map[int]error
	staged   map[int]bool
	requests []ImageRequest
	block    bool
}

func newFakeImages() *fakeImages {
	return &fakeImages{fail: map[int]error{}, staged: map[int]bool{}}
}

func (f *fakeImages) Generate(ctx context.Context, req ImageRequest) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.fail[req.TaskID]; err != nil {
		return err
	}
	f.mu.Lock()
	f.staged[req.TaskID] = true
	f.mu.Unlock()
	return nil
}

type fakeUploader struct {
	images *fakeImages
	err    error
	calls  int
	// cancel, when set, is called after the staged groups are handed off.
	cancel context.CancelFunc
}

func (f *fakeUploader) UploadPending(context.Context) ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.images.mu.Lock()
	defer f.images.mu.Unlock()
	var ids []int
	for id := range f.images.staged {
		ids = append(ids, id)
		delete(f.images.staged, id)
	}
	sort.Ints(ids)
	if f.cancel != nil {
		f.cancel()
	}
	return ids, nil
}

type fakeCommitter struct {
	recorded map[int]bool
	err      error
	commits  [][]int
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{recorded: map[int]bool{}}
}

func (f *fakeCommitter) Commit(_ context.Context, tasks []ledger.Task) error {
	if f.err != nil {
		return f.err
	}
	f.commits = append(f.commits, ledger.IDs(tasks))
	for _, t := range tasks {
		f.recorded[t.ID] = true
	}
	return nil
}

func (f *fakeCommitter) Unrecorded(_ context.Context, tasks []ledger.Task) ([]ledger.Task, error) {
	var out []ledger.Task
	for _, t := range tasks {
		if !f.recorded[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// scripted answers decisions from a fixed list and records its inputs.
type scripted struct {
	answers []string
	inputs  []DecisionInput
	err     error
}

func (s *scripted) Decide(_ context.Context, in DecisionInput) (string, error) {
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return FinishSentinel, nil
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

type always string

func (a always) Decide(context.Context, DecisionInput) (string, error) { return string(a), nil }

type harness struct {
	ledger    *ledger.Ledger
	stories   *fakeStories
	images    *fakeImages
	uploader  *fakeUploader
	committer *fakeCommitter
}

func newHarness(t *testing.T) *harness {
	images := newFakeImages()
	return &harness{
		ledger:    newLedger(t),
		stories:   &fakeStories{stories: []string{"a cat story"}},
		images:    images,
		uploader:  &fakeUploader{images: images},
		committer: newFakeCommitter(),
	}
}

func (h *harness) executors() Executors {
	return Executors{Stories: h.stories, Images: h.images, Uploader: h.uploader, Committer: h.committer}
}

func (h *harness) orchestrator(cfg Config, opts ...Option) *Orchestrator {
	return New(h.ledger, h.executors(), cfg, opts...)
}

func (h *harness) tasks(t *testing.T) []ledger.Task {
	t.Helper()
	tasks, err := h.ledger.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return tasks
}

var errRender = errors.New("render failed")

func equalIDs(a, b []int) bool {
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
