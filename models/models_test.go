package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTouchCounts(t *testing.T) {
	counts := TouchCounts{}
	counts.Add("a.py")
	counts.Add("b.c")
	counts.Add("a.py")

	assert.Equal(t, 2, counts["a.py"])
	assert.Equal(t, 1, counts["b.c"])
	assert.Len(t, counts, 2)

	clone := counts.Clone()
	clone.Add("a.py")
	assert.Equal(t, 2, counts["a.py"])
	assert.Equal(t, 3, clone["a.py"])
}

func TestTouchCountsSorted(t *testing.T) {
	counts := TouchCounts{"b.py": 2, "a.py": 2, "c.h": 5, "d.c": 1}

	assert.Equal(t, []FileTouchCount{
		{File: "c.h", Touches: 5},
		{File: "a.py", Touches: 2},
		{File: "b.py", Touches: 2},
		{File: "d.c", Touches: 1},
	}, counts.Sorted())
	assert.Empty(t, TouchCounts{}.Sorted())
}

func TestNewPaginationParams(t *testing.T) {
	testCases := []struct {
		name     string
		page     int
		pageSize int
		expected PaginationParams
	}{
		{name: "valid values", page: 3, pageSize: 50, expected: PaginationParams{Page: 3, PageSize: 50}},
		{name: "zero page", page: 0, pageSize: 50, expected: PaginationParams{Page: 1, PageSize: 50}},
		{name: "negative page size", page: 2, pageSize: -1, expected: PaginationParams{Page: 2, PageSize: 100}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewPaginationParams(tc.page, tc.pageSize))
		})
	}

	assert.Equal(t, PaginationParams{Page: 2, PageSize: 100}, NewPaginationParams(1, 100).Next())
}
