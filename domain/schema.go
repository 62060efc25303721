package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	TitleMinLen       = 3
	TitleMaxLen       = 100
	DescriptionMaxLen = 500
)

// Validate enforces the stored-record constraints. Every backend calls it
// before a write; it reports one message per violated field.
func (t Task) Validate() error {
	var v violations
	v.check("title", titleViolation(t.Title))
	v.check("description", descriptionViolation(t.Description))
	v.check("status", statusViolation(t.Status))
	v.check("dueDate", dueDateViolation(t.DueDate))
	return v.err()
}

// Validate checks only the fields the patch supplies, the way a store
// re-validates an in-place update.
func (p TaskPatch) Validate() error {
	var v violations
	if p.Title != nil {
		v.check("title", titleViolation(trim(*p.Title)))
	}
	if p.Description != nil {
		v.check("description", descriptionViolation(trim(*p.Description)))
	}
	if p.Status != nil {
		v.check("status", statusViolation(*p.Status))
	}
	if p.DueDate != nil {
		v.check("dueDate", dueDateViolation(*p.DueDate))
	}
	return v.err()
}

type violations []FieldError

func (v *violations) check(field, msg string) {
	if msg != "" {
		*v = append(*v, FieldError{Field: field, Message: msg})
	}
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return SchemaViolation(v)
}

func titleViolation(title string) string {
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		return "Title is required"
	case n < TitleMinLen:
		return fmt.Sprintf("Title must be at least %d characters", TitleMinLen)
	case n > TitleMaxLen:
		return fmt.Sprintf("Title cannot be more than %d characters", TitleMaxLen)
	}
	return ""
}

func descriptionViolation(desc string) string {
	if utf8.RuneCountInString(desc) > DescriptionMaxLen {
		return fmt.Sprintf("Description cannot be more than %d characters", DescriptionMaxLen)
	}
	return ""
}

func statusViolation(s Status) string {
	if !s.Valid() {
		return fmt.Sprintf("`%s` is not a valid enum value for path `status`", s)
	}
	return ""
}

func dueDateViolation(d time.Time) string {
	if d.IsZero() {
		return "Due date is required"
	}
	return ""
}
