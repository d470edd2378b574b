package miner

import (
	"strings"

	"touchminer/models"
)

// DefaultExtensions are the suffixes treated as source files
var DefaultExtensions = []string{".java", ".py", ".cpp", ".c", ".h"}

// Aggregator accumulates touches and per-file counts for one run. It is not
// safe for concurrent use; the miner feeds it from a single goroutine.
type Aggregator struct {
	extensions []string
	touches    []models.TouchRecord
	counts     models.TouchCounts
}

// NewAggregator creates an aggregator. An empty extension list selects
// DefaultExtensions.
func NewAggregator(extensions []string) *Aggregator {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Aggregator{
		extensions: append([]string(nil), extensions...),
		touches:    []models.TouchRecord{},
		counts:     models.TouchCounts{},
	}
}

// IsSourceFile reports whether filename ends with a recognized extension.
// Matching is case-sensitive.
func (a *Aggregator) IsSourceFile(filename string) bool {
	for _, ext := range a.extensions {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}

// Record adds a touch for every source file of detail and returns how many
// were added.
func (a *Aggregator) Record(detail models.CommitDetail) int {
	added := 0
	for _, file := range detail.Files {
		if !a.IsSourceFile(file.Filename) {
			continue
		}
		a.touches = append(a.touches, models.TouchRecord{
			File:   file.Filename,
			Author: detail.Author,
			Date:   detail.Date,
		})
		a.counts.Add(file.Filename)
		added++
	}
	return added
}

// Touches returns a copy of the recorded touches in discovery order
func (a *Aggregator) Touches() []models.TouchRecord {
	return append([]models.TouchRecord{}, a.touches...)
}

// Counts returns a copy of the per-file counts
func (a *Aggregator) Counts() models.TouchCounts {
	return a.counts.Clone()
}
