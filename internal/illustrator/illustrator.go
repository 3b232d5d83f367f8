// Package illustrator renders picture-book pages by running a configured
// shell command once per task.
package illustrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// Environment passed to the render command.
const (
	EnvTaskID   = "STORYBOOK_TASK_ID"
	EnvPrompt   = "STORYBOOK_PROMPT"
	EnvStyleRef = "STORYBOOK_STYLE_REF"
	EnvOutDir   = "STORYBOOK_OUT_DIR"
)

// DefaultExtensions are the page formats looked for after a render.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "webp"}

var (
	// ErrNoCommand is returned when no render command is configured.
	ErrNoCommand = errors.New("illustrator: no command configured")
	// ErrNoPages is returned when the command succeeded but left no pages.
	ErrNoPages = errors.New("illustrator: no pages rendered")
)

// CommandError reports a non-zero exit of the render command.
type CommandError struct {
	TaskID int
	Status int
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("render task %d: exit status %d", e.TaskID, e.Status)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Illustrator implements pipeline.ImageGenerator.
type Illustrator struct {
	script     *syntax.File
	dir        string
	stagingDir string
	timeout    time.Duration
	exts       []string
}

// New parses cfg.Command. The staging directory is created on demand.
func New(cfg config.IllustratorConfig) (*Illustrator, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrNoCommand
	}
	script, err := syntax.NewParser().Parse(strings.NewReader(cfg.Command), "illustrator")
	if err != nil {
		return nil, fmt.Errorf("parse illustrator command: %w", err)
	}
	staging, err := filepath.Abs(cfg.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("staging dir: %w", err)
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return &Illustrator{
		script:     script,
		dir:        cfg.Dir,
		stagingDir: staging,
		timeout:    cfg.Timeout.Duration(),
		exts:       exts,
	}, nil
}

// Generate runs the command for one task and checks that it staged at
// least one page named <id>-<page>.<ext>.
func (il *Illustrator) Generate(ctx context.Context, req pipeline.ImageRequest) error {
	if err := os.MkdirAll(il.stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if il.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, il.timeout)
		defer cancel()
	}

	env := append(os.Environ(),
		EnvTaskID+"="+strconv.Itoa(req.TaskID),
		EnvPrompt+"="+req.Prompt,
		EnvStyleRef+"="+req.StyleRef,
		EnvOutDir+"="+il.stagingDir,
	)
	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &stdout, &stderr),
	}
	if il.dir != "" {
		opts = append(opts, interp.Dir(il.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("illustrator runner: %w", err)
	}

	start := time.Now()
	err = runner.Run(ctx, il.script)
	slog.DebugContext(ctx, "illustrator finished", "task_id", req.TaskID,
		"duration", time.Since(start), "stdout", tail(stdout.String()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("render task %d: %w", req.TaskID, ctxErr)
		}
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return &CommandError{TaskID: req.TaskID, Status: int(status), Stderr: tail(stderr.String())}
		}
		return fmt.Errorf("render task %d: %w", req.TaskID, err)
	}

	pages, err := Pages(il.stagingDir, req.TaskID, il.exts)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("%w for task %d in %s", ErrNoPages, req.TaskID, il.stagingDir)
	}
	slog.InfoContext(ctx, "pages rendered", "task_id", req.TaskID, "pages", len(pages))
	return nil
}

// Pages lists the staged pages of task id, sorted.
func Pages(dir string, id int, exts []string) ([]string, error) {
	pattern := strconv.Itoa(id) + "-*." + extGroup(exts)
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return matches, nil
}

func extGroup(exts []string) string {
	if len(exts) == 1 {
		return exts[0]
	}
	return "{" + strings.Join(exts, ",") + "}"
}

// tail keeps the last line-ish chunk of command output for messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
