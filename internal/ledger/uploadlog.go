package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dohr-michael/storybook/internal/storage"
)

// BatchMarker opens each upload batch in the upload log.
const BatchMarker = "[TIME]"

const uploadLogTimeFormat = "2006-01-02 15:04:05.000000"

// UploadLog is the append-only record of uploaded ids. Each batch is a
// "[TIME]<timestamp>" line followed by "id," for every uploaded id.
type UploadLog struct {
	path string
	now  func() time.Time
}

// NewUploadLog returns an upload log stored at path.
func NewUploadLog(path string) *UploadLog {
	return &UploadLog{path: path, now: time.Now}
}

// Path returns the backing file.
func (u *UploadLog) Path() string { return u.path }

// BeginBatch appends a batch marker.
func (u *UploadLog) BeginBatch() error {
	line := BatchMarker + u.now().Format(uploadLogTimeFormat) + "\n"
	if err := storage.AppendFile(u.path, []byte(line)); err != nil {
		return fmt.Errorf("append upload log marker: %w", err)
	}
	return nil
}

// Record appends one uploaded id to the current batch.
func (u *UploadLog) Record(id int) error {
	if err := storage.AppendFile(u.path, []byte(strconv.Itoa(id)+",")); err != nil {
		return fmt.Errorf("append upload log id %d: %w", id, err)
	}
	return nil
}

// Batch is one parsed upload batch.
type Batch struct {
	Time string `json:"time"`
	IDs  []int  `json:"ids"`
}

// Batches parses every batch in the log. A missing log has no batches.
func (u *UploadLog) Batches() ([]Batch, error) {
	data, err := os.ReadFile(u.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload log: %w", err)
	}
	return parseUploadLog(string(data))
}

// LastBatch returns the ids recorded after the last marker. ok is false when
// the log holds no batch.
func (u *UploadLog) LastBatch() (batch Batch, ok bool, err error) {
	batches, err := u.Batches()
	if err != nil || len(batches) == 0 {
		return Batch{}, false, err
	}
	return batches[len(batches)-1], true, nil
}

func parseUploadLog(s string) ([]Batch, error) {
	var out []Batch
	for i, chunk := range strings.Split(s, BatchMarker) {
		if i == 0 {
			// Text before the first marker is not part of any batch.
			continue
		}
		stamp, rest, _ := strings.Cut(chunk, "\n")
		b := Batch{Time: strings.TrimSpace(stamp)}
		for _, field := range strings.Split(rest, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("parse upload log batch %q: invalid id %q", b.Time, field)
			}
			b.IDs = append(b.IDs, id)
		}
		out = append(out, b)
	}
	return out, nil
}

// Reconcile compares the ids the ledger expected to upload against the ids
// the log recorded. Ids uploaded but not expected are logged as warnings and
// returned; it never fails.
func Reconcile(ctx context.Context, expected, uploaded []int) []int {
	want := make(map[int]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	var unexpected []int
	for _, id := range uploaded {
		if !want[id] {
			unexpected = append(unexpected, id)
		}
	}
	if len(unexpected) > 0 {
		slog.WarnContext(ctx, "uploaded ids not expected by ledger", "ids", unexpected)
	}
	return unexpected
}
