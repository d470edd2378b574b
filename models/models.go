// Package models defines the core data structures used throughout the application.
package models

import (
	"sort"
	"time"
)

// CommitSummary is a commit as returned by the commit list endpoint
type CommitSummary struct {
	SHA string `json:"sha"`
}

// FileChange is one file modified by a commit
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// CommitDetail represents a fully expanded commit.
// Date is kept exactly as the API returned it.
type CommitDetail struct {
	SHA          string       `json:"sha"`
	Author       string       `json:"author"`
	Date         string       `json:"date"`
	Files        []FileChange `json:"files"`
	FilesMissing bool         `json:"files_missing,omitempty"`
}

// TouchRecord is one source file modified by one commit.
type TouchRecord struct {
	File   string `db:"file" json:"file"`
	Author string `db:"author" json:"author"`
	Date   string `db:"date" json:"date"`
}

// TouchCounts maps a filename to the number of TouchRecords for it.
type TouchCounts map[string]int

// Add increments the count for file, inserting it when absent.
func (c TouchCounts) Add(file string) {
	c[file]++
}

// Clone returns an independent copy.
func (c TouchCounts) Clone() TouchCounts {
	out := make(TouchCounts, len(c))
	for file, n := range c {
		out[file] = n
	}
	return out
}

// Sorted returns the counts ordered by count descending, then filename.
func (c TouchCounts) Sorted() []FileTouchCount {
	out := make([]FileTouchCount, 0, len(c))
	for file, n := range c {
		out = append(out, FileTouchCount{File: file, Touches: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Touches != out[j].Touches {
			return out[i].Touches > out[j].Touches
		}
		return out[i].File < out[j].File
	})
	return out
}

// FileTouchCount represents the touch total of a single file
type FileTouchCount struct {
	File    string `db:"file" json:"file"`
	Touches int    `db:"touches" json:"touches"`
}

// AuthorStats represents touch statistics for a specific author.
type AuthorStats struct {
	AuthorName string `db:"author_name" json:"author_name"`
	Touches    int    `db:"touches" json:"touches"`
	Files      int    `db:"files" json:"files"`
}

// MiningRun describes one completed mining run
type MiningRun struct {
	ID         string    `db:"id" json:"id"`
	Repository string    `db:"repository" json:"repository"`
	Commits    int       `db:"commits" json:"commits"`
	Touches    int       `db:"touches" json:"touches"`
	Skipped    int       `db:"skipped" json:"skipped"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// PaginationParams represents parameters for paginated queries
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPaginationParams creates a new PaginationParams with validated values.
// If page or pageSize are less than 1, they will be set to their default values.
func NewPaginationParams(page, pageSize int) PaginationParams {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}
	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
	}
}

// Next returns the parameters for the following page
func (p PaginationParams) Next() PaginationParams {
	return PaginationParams{Page: p.Page + 1, PageSize: p.PageSize}
}
