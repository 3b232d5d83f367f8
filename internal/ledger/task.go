// Package ledger is the durable record of storybook tasks and their stage flags.
//
// The ledger is a CSV file rewritten as a whole snapshot on every change.
// Stage flags only move forward: once a task has images or has been uploaded,
// no save may clear that fact.
package ledger

import (
	"sort"
)

// Task is one story moving through the pipeline.
type Task struct {
	ID                int    `json:"id"`
	Text              string `json:"text"`
	GenerateStorybook bool   `json:"generate_storybook"`
	UploadStorybook   bool   `json:"upload_storybook"`
	IsTarget          bool   `json:"is_target"`
	Pic               string `json:"pic,omitempty"` // style reference; empty when absent
}

// Predicate reports whether a task belongs to a selection.
type Predicate func(Task) bool

// NeedsImages selects tasks that are targeted and still lack pages.
func NeedsImages(t Task) bool {
	return t.IsTarget && !t.GenerateStorybook
}

// NeedsUpload selects tasks whose pages exist but are not uploaded yet.
func NeedsUpload(t Task) bool {
	return t.GenerateStorybook && !t.UploadStorybook
}

// Done selects uploaded tasks.
func Done(t Task) bool {
	return t.UploadStorybook
}

// Select returns the tasks matching pred in ascending id order.
// The input slice is not modified.
func Select(tasks []Task, pred Predicate) []Task {
	var out []Task
	for _, t := range tasks {
		if pred(t) {
			out = append(out, t)
		}
	}
	sortByID(out)
	return out
}

// IDs returns the ids of tasks, preserving order.
func IDs(tasks []Task) []int {
	ids := make([]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// Summary counts tasks per pipeline state.
type Summary struct {
	Total       int `json:"total"`
	NeedsImages int `json:"needs_images"`
	NeedsUpload int `json:"needs_upload"`
	Done        int `json:"done"`
	Excluded    int `json:"excluded"`
}

// Summarize computes the per-state counts of tasks.
func Summarize(tasks []Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch {
		case NeedsImages(t):
			s.NeedsImages++
		case NeedsUpload(t):
			s.NeedsUpload++
		}
		if Done(t) {
			s.Done++
		}
		if !t.IsTarget {
			s.Excluded++
		}
	}
	return s
}

func sortByID(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func maxID(tasks []Task) int {
	m := 0
	for _, t := range tasks {
		if t.ID > m {
			m = t.ID
		}
	}
	return m
}
