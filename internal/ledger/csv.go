package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Columns is the header row of the ledger file.
var Columns = []string{"id", "text", "generate_storybook", "upload_storybook", "is_target", "pic"}

// utf8BOM prefixes files written by spreadsheet tools and by the legacy
// scripts (utf-8-sig).
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// legacyNoPic is how an absent style reference is stored.
const legacyNoPic = "0"

// decodeCSV parses ledger content. Columns are located by header name; "pic"
// may be missing in older files.
func decodeCSV(path string, data []byte) ([]Task, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CorruptError{Path: path, Err: errors.New("missing header")}
		}
		return nil, &CorruptError{Path: path, Line: 1, Err: err}
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range Columns[:5] {
		if _, ok := idx[col]; !ok {
			return nil, &CorruptError{Path: path, Line: 1, Err: fmt.Errorf("missing column %q", col)}
		}
	}
	picCol, hasPic := idx["pic"]

	var tasks []Task
	seen := make(map[int]bool)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &CorruptError{Path: path, Line: line, Err: err}
		}
		line, _ := r.FieldPos(0)

		t, err := decodeRecord(rec, idx)
		if err != nil {
			return nil, &CorruptError{Path: path, Line: line, Err: err}
		}
		if hasPic {
			t.Pic = decodePic(rec[picCol])
		}
		if seen[t.ID] {
			return nil, &CorruptError{Path: path, Line: line, Err: fmt.Errorf("duplicate id %d", t.ID)}
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func decodeRecord(rec []string, idx map[string]int) (Task, error) {
	var t Task
	id, err := strconv.Atoi(strings.TrimSpace(rec[idx["id"]]))
	if err != nil {
		return t, fmt.Errorf("invalid id %q", rec[idx["id"]])
	}
	if id <= 0 {
		return t, fmt.Errorf("invalid id %d", id)
	}
	t.ID = id
	t.Text = rec[idx["text"]]

	flags := []struct {
		col string
		dst *bool
	}{
		{"generate_storybook", &t.GenerateStorybook},
		{"upload_storybook", &t.UploadStorybook},
		{"is_target", &t.IsTarget},
	}
	for _, f := range flags {
		v, err := decodeFlag(rec[idx[f.col]])
		if err != nil {
			return t, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = v
	}
	return t, nil
}

// decodeFlag accepts 0/1 plus the float and empty forms spreadsheet tools emit.
func decodeFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1", "1.0":
		return true, nil
	case "0", "0.0", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid flag %q", s)
	}
}

func decodePic(s string) string {
	s = strings.TrimSpace(s)
	if s == legacyNoPic || s == "0.0" {
		return ""
	}
	return s
}

// encodeCSV renders tasks, BOM first, header, then rows in ascending id order.
func encodeCSV(tasks []Task) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, err
	}

	sorted := append([]Task(nil), tasks...)
	sortByID(sorted)
	for _, t := range sorted {
		pic := t.Pic
		if pic == "" {
			pic = legacyNoPic
		}
		rec := []string{
			strconv.Itoa(t.ID),
			t.Text,
			encodeFlag(t.GenerateStorybook),
			encodeFlag(t.UploadStorybook),
			encodeFlag(t.IsTarget),
			pic,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
