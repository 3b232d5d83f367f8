// Package assets publishes rendered pages and keeps the upload log.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/ledger"
)

// Backend publishes one staged group.
type Backend interface {
	Name() string
	Publish(ctx context.Context, g Group) error
}

// Checker is implemented by backends that can tell whether a group is
// already published. Published groups are not sent again.
type Checker interface {
	Published(ctx context.Context, id int) (bool, error)
}

// Uploader implements pipeline.Uploader over a Backend.
type Uploader struct {
	backend    Backend
	log        *ledger.UploadLog
	stagingDir string
	doneDir    string
	exts       []string
}

// NewUploader creates an uploader moving handled groups from stagingDir to
// doneDir.
func NewUploader(backend Backend, log *ledger.UploadLog, stagingDir, doneDir string, exts []string) *Uploader {
	return &Uploader{backend: backend, log: log, stagingDir: stagingDir, doneDir: doneDir, exts: exts}
}

// New builds the uploader for cfg.Driver.
func New(cfg config.AssetsConfig, log *ledger.UploadLog, exts []string) (*Uploader, error) {
	var backend Backend
	switch cfg.Driver {
	case "", "dir":
		backend = NewDirBackend(cfg.TargetDir, cfg.Folder)
	case "cloudinary":
		cb, err := NewCloudinary(cfg.Cloudinary, cfg.Folder)
		if err != nil {
			return nil, err
		}
		backend = cb
	default:
		return nil, fmt.Errorf("unknown assets driver %q", cfg.Driver)
	}
	return NewUploader(backend, log, cfg.StagingDir, cfg.DoneDir, exts), nil
}

// UploadPending publishes every staged group in id order. A batch marker is
// written to the upload log first, even when nothing is staged. Each
// published group is moved to the done directory and then recorded. A failed
// group is left in staging and the rest are still attempted; the returned
// ids are the groups that completed.
func (u *Uploader) UploadPending(ctx context.Context) ([]int, error) {
	if err := u.log.BeginBatch(); err != nil {
		return nil, err
	}

	groups, err := u.staged()
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		slog.InfoContext(ctx, "nothing staged for upload", "dir", u.stagingDir)
		return nil, nil
	}

	var (
		done []int
		errs []error
	)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := u.uploadGroup(ctx, g); err != nil {
			slog.ErrorContext(ctx, "upload failed", "task_id", g.ID, "backend", u.backend.Name(), "error", err)
			errs = append(errs, fmt.Errorf("task %d: %w", g.ID, err))
			continue
		}
		done = append(done, g.ID)
	}
	return done, errors.Join(errs...)
}

func (u *Uploader) staged() ([]Group, error) {
	if _, err := os.Stat(u.stagingDir); os.IsNotExist(err) {
		return nil, nil
	}
	return ScanGroups(u.stagingDir, u.exts)
}

func (u *Uploader) uploadGroup(ctx context.Context, g Group) error {
	published := false
	if c, ok := u.backend.(Checker); ok {
		var err error
		if published, err = c.Published(ctx, g.ID); err != nil {
			return err
		}
	}
	if published {
		slog.InfoContext(ctx, "group already published", "task_id", g.ID)
	} else {
		if err := u.backend.Publish(ctx, g); err != nil {
			return err
		}
		slog.InfoContext(ctx, "group uploaded", "task_id", g.ID, "pages", len(g.Files), "backend", u.backend.Name())
	}
	if err := moveGroup(g, u.doneDir); err != nil {
		return err
	}
	if err := u.log.Record(g.ID); err != nil {
		slog.ErrorContext(ctx, "record upload log failed", "task_id", g.ID, "error", err)
	}
	return nil
}
