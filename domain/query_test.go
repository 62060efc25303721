package domain

import (
	"testing"
	"time"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		in   string
		want Sort
		ok   bool
	}{
		{in: "createdAt", want: Sort{Field: SortCreatedAt}, ok: true},
		{in: "-dueDate", want: Sort{Field: SortDueDate, Desc: true}, ok: true},
		{in: "title", want: Sort{Field: SortTitle}, ok: true},
		{in: "-title", want: Sort{Field: SortTitle, Desc: true}, ok: true},
		{in: "status"},
		{in: "--title"},
		{in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSort(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ParseSort(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
			if ok && got.String() != tt.in {
				t.Fatalf("round trip: got %q want %q", got.String(), tt.in)
			}
		})
	}
}

func TestSortTasksKeepsInsertionOrderForTies(t *testing.T) {
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "a", Title: "beta", DueDate: base.Add(time.Hour)},
		{ID: "b", Title: "alpha", DueDate: base},
		{ID: "c", Title: "beta", DueDate: base},
	}

	byTitle := append([]Task(nil), tasks...)
	SortTasks(byTitle, Sort{Field: SortTitle})
	if got := ids(byTitle); got != "bac" {
		t.Fatalf("title asc order = %s", got)
	}

	byDueDesc := append([]Task(nil), tasks...)
	SortTasks(byDueDesc, Sort{Field: SortDueDate, Desc: true})
	if got := ids(byDueDesc); got != "abc" {
		t.Fatalf("dueDate desc order = %s", got)
	}

	unsorted := append([]Task(nil), tasks...)
	SortTasks(unsorted, Sort{})
	if got := ids(unsorted); got != "abc" {
		t.Fatalf("zero sort changed order: %s", got)
	}
}

func TestListQueryMatches(t *testing.T) {
	q := ListQuery{Status: StatusPending}
	if !q.Matches(Task{Status: StatusPending}) || q.Matches(Task{Status: StatusCompleted}) {
		t.Fatal("status filter mismatch")
	}
	if !(ListQuery{}).Matches(Task{Status: StatusCompleted}) {
		t.Fatal("empty filter should match everything")
	}
}

func ids(tasks []Task) string {
	s := ""
	for _, t := range tasks {
		s += t.ID
	}
	return s
}
