// Package catalog records published stories in the story database.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/storybook/internal/ledger"
)

// DefaultPadWidth is the zero-padded width of a story index.
const DefaultPadWidth = 4

// ErrNotFound is returned when no novel has the requested index.
var ErrNotFound = errors.New("novel not found")

// Novel is one stored story. Description holds the zero-padded task id.
type Novel struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is the story API's insert payload.
type Entry struct {
	Title string `json:"title"`
	Index string `json:"index"`
}

// InsertResult counts entries inserted and skipped as already present.
type InsertResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// PadID formats id zero-padded to width digits.
func PadID(id, width int) string {
	if width <= 0 {
		width = DefaultPadWidth
	}
	return fmt.Sprintf("%0*d", width, id)
}

// EntriesFor converts ledger tasks into story entries.
func EntriesFor(tasks []ledger.Task, width int) []Entry {
	out := make([]Entry, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, Entry{Title: t.Text, Index: PadID(t.ID, width)})
	}
	return out
}
