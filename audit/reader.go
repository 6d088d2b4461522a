package audit

import (
	"context"
	"time"
)

// DefaultQueryLimit caps a query when Filter.Limit is zero.
const DefaultQueryLimit = 100

// Filter selects audit entries. Zero fields match everything.
type Filter struct {
	UserID       string
	ActorID      string
	Action       string
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
}

// Reader queries persisted entries, newest first.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Normalized returns f with the default limit applied.
func (f Filter) Normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	return f
}

// Match reports whether e satisfies f.
func (f Filter) Match(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
