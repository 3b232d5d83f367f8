package pipeline

import (
	"context"

	"github.com/dohr-michael/storybook/internal/ledger"
)

// TaskStore is the ledger surface the stages need.
type TaskStore interface {
	Load(ctx context.Context) ([]ledger.Task, error)
	Insert(ctx context.Context, texts []string, pic string) ([]ledger.Task, error)
	Update(ctx context.Context, id int, mutate func(*ledger.Task)) error
}

// StoryGenerator writes count stories about topic.
type StoryGenerator interface {
	Generate(ctx context.Context, topic string, count int) ([]string, error)
}

// ImageRequest asks for the pages of one task.
type ImageRequest struct {
	TaskID   int
	Prompt   string
	StyleRef string
}

// ImageGenerator renders a task's pages into the staging area as
// <id>-<page>.<ext>. A nil error means the pages exist.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) error
}

// Uploader publishes whatever is staged, moves the handled files out of
// staging, records the batch in the upload log, and returns the ids that
// were fully uploaded. On error it still returns the ids it completed.
type Uploader interface {
	UploadPending(ctx context.Context) ([]int, error)
}

// Committer records uploaded tasks in the story database. Failures should be
// *CommitError values carrying a diagnostic.
type Committer interface {
	Commit(ctx context.Context, tasks []ledger.Task) error
}

// CommitFilter is implemented by committers that can tell which tasks the
// database already holds. The database stage only commits the rest.
type CommitFilter interface {
	Unrecorded(ctx context.Context, tasks []ledger.Task) ([]ledger.Task, error)
}

// Topic is a story subject with an optional style reference for its pages.
type Topic struct {
	Text     string `json:"text" yaml:"text"`
	StyleRef string `json:"style_ref,omitempty" yaml:"style_ref,omitempty"`
}

// TopicSource supplies a topic when a run does not name one. taskCount is
// the current ledger size. ok is false when no topic is available.
type TopicSource interface {
	Next(ctx context.Context, taskCount int) (topic Topic, ok bool, err error)
}

// Executors bundles the stage collaborators. A nil collaborator makes its
// stage fail when there is work for it.
type Executors struct {
	Stories   StoryGenerator
	Images    ImageGenerator
	Uploader  Uploader
	Committer Committer
	Topics    TopicSource
}
