package domain

import (
	"sort"
	"strings"
)

// SortField names a task field lists can be ordered by.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortDueDate   SortField = "dueDate"
	SortTitle     SortField = "title"
)

// Sort orders a task list by one field. The zero value keeps insertion order.
type Sort struct {
	Field SortField
	Desc  bool
}

// ParseSort accepts "createdAt", "dueDate" or "title", optionally prefixed
// with "-" for descending order.
func ParseSort(s string) (Sort, bool) {
	desc := strings.HasPrefix(s, "-")
	field := SortField(strings.TrimPrefix(s, "-"))
	switch field {
	case SortCreatedAt, SortDueDate, SortTitle:
		return Sort{Field: field, Desc: desc}, true
	}
	return Sort{}, false
}

// IsZero reports whether no ordering was requested.
func (s Sort) IsZero() bool { return s.Field == "" }

func (s Sort) String() string {
	if s.IsZero() {
		return ""
	}
	if s.Desc {
		return "-" + string(s.Field)
	}
	return string(s.Field)
}

// ListQuery narrows and orders a task listing.
type ListQuery struct {
	Status Status
	Sort   Sort
}

// Matches reports whether t passes the status filter.
func (q ListQuery) Matches(t Task) bool {
	return q.Status == "" || t.Status == q.Status
}

// SortTasks orders tasks in place. Tasks must already be in insertion order;
// ties keep that order.
func SortTasks(tasks []Task, s Sort) {
	if s.IsZero() {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		c := compareField(tasks[i], tasks[j], s.Field)
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareField(a, b Task, f SortField) int {
	switch f {
	case SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortDueDate:
		return a.DueDate.Compare(b.DueDate)
	case SortTitle:
		return strings.Compare(a.Title, b.Title)
	}
	return 0
}
