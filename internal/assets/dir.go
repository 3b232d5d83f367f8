package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dohr-michael/storybook/internal/storage"
)

// DirBackend publishes into a local directory with the same layout as the
// hosted backend: <root>/<folder>/<id><ext> for the cover and
// <root>/<folder>/<id>/<page> for every page.
type DirBackend struct {
	root   string
	folder string
}

// NewDirBackend publishes under root/folder.
func NewDirBackend(root, folder string) *DirBackend {
	return &DirBackend{root: root, folder: folder}
}

func (d *DirBackend) Name() string { return "dir" }

func (d *DirBackend) base() string { return filepath.Join(d.root, d.folder) }

func (d *DirBackend) coverPath(id int, ext string) string {
	return filepath.Join(d.base(), strconv.Itoa(id)+ext)
}

// Publish copies the cover and the pages.
func (d *DirBackend) Publish(ctx context.Context, g Group) error {
	cover := g.Cover()
	if cover == "" {
		return fmt.Errorf("group %d has no pages", g.ID)
	}
	if err := copyFile(cover, d.coverPath(g.ID, filepath.Ext(cover))); err != nil {
		return err
	}
	pages := filepath.Join(d.base(), strconv.Itoa(g.ID))
	for _, f := range g.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(f, filepath.Join(pages, filepath.Base(f))); err != nil {
			return err
		}
	}
	return nil
}

// Published reports whether the group's page directory already exists.
func (d *DirBackend) Published(_ context.Context, id int) (bool, error) {
	info, err := os.Stat(filepath.Join(d.base(), strconv.Itoa(id)))
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(src), err)
	}
	if err := storage.WriteFileAtomic(dst, data, 0o644); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(src), err)
	}
	return nil
}
