package assets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Group is the staged pages of one task. Files are absolute and sorted;
// the first one is the cover.
type Group struct {
	ID    int
	Files []string
}

// Cover returns the lexically first page.
func (g Group) Cover() string {
	if len(g.Files) == 0 {
		return ""
	}
	return g.Files[0]
}

// ScanGroups groups the pages staged in dir by their "<id>-" prefix.
// Files whose prefix is not a task id are skipped.
func ScanGroups(dir string, exts []string) ([]Group, error) {
	pattern := "*-*"
	if len(exts) > 0 {
		pattern += ".{" + strings.Join(exts, ",") + "}"
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("scan staging: %w", err)
	}

	byID := make(map[int][]string)
	for _, name := range matches {
		prefix, _, _ := strings.Cut(name, "-")
		id, err := strconv.Atoi(prefix)
		if err != nil || id <= 0 {
			slog.Warn("skipping staged file without task id", "file", name)
			continue
		}
		byID[id] = append(byID[id], filepath.Join(dir, name))
	}

	groups := make([]Group, 0, len(byID))
	for id, files := range byID {
		sort.Strings(files)
		groups = append(groups, Group{ID: id, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// moveGroup moves a group's files into dir. When a move fails the files
// already moved are put back, so the group is either staged or done.
func moveGroup(g Group, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create done dir: %w", err)
	}
	for i, f := range g.Files {
		if err := os.Rename(f, filepath.Join(dir, filepath.Base(f))); err != nil {
			for _, moved := range g.Files[:i] {
				if rerr := os.Rename(filepath.Join(dir, filepath.Base(moved)), moved); rerr != nil {
					err = errors.Join(err, rerr)
				}
			}
			return fmt.Errorf("move %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func baseNoExt(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
