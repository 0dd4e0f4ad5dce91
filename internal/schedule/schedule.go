// Package schedule persists pending conversation reopens keyed by
// conversation id. Each conversation has at most one ScheduledReopen; a
// new Put replaces the previous record entirely.
package schedule

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no schedule exists for the id.
var ErrNotFound = errors.New("schedule: not found")

// Status tracks whether a schedule is still eligible for reconciliation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAbandoned Status = "abandoned"
)

// ScheduledReopen is a conversation waiting to be reopened at DueAt.
type ScheduledReopen struct {
	ConversationID string    `json:"conversationId"`
	DueAt          time.Time `json:"dueAt"`
	Attempts       int       `json:"attempts"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	LastError      string    `json:"lastError,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// New returns a fresh pending schedule. DueAt is truncated to millisecond
// precision, the resolution every backend stores.
func New(conversationID string, dueAt time.Time, now time.Time) ScheduledReopen {
	now = now.UTC()
	return ScheduledReopen{
		ConversationID: conversationID,
		DueAt:          DueFromMillis(DueMillis(dueAt)),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Eligible reports whether the schedule should be reopened at now.
func (s ScheduledReopen) Eligible(now time.Time) bool {
	if s.Status == StatusAbandoned {
		return false
	}
	if s.DueAt.After(now) {
		return false
	}
	return s.NextAttemptAt.IsZero() || !s.NextAttemptAt.After(now)
}

// Failure describes a failed reopen attempt to record against a schedule.
type Failure struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Abandoned     bool
	At            time.Time
}

// Store is a durable keyed map of conversation id to ScheduledReopen.
// Implementations provide per-key atomicity; no multi-key transactions.
type Store interface {
	// Put inserts or fully replaces the schedule for s.ConversationID.
	Put(ctx context.Context, s ScheduledReopen) error
	Get(ctx context.Context, conversationID string) (*ScheduledReopen, error)
	// Delete removes the schedule. Deleting a missing id is not an error.
	Delete(ctx context.Context, conversationID string) error
	// DeleteIfDue removes the schedule only if its due date still equals
	// dueAt, so a schedule rewritten concurrently survives.
	DeleteIfDue(ctx context.Context, conversationID string, dueAt time.Time) (bool, error)
	// RecordFailure updates the retry fields only if the due date still
	// equals dueAt.
	RecordFailure(ctx context.Context, conversationID string, dueAt time.Time, f Failure) (bool, error)
	// Each calls fn for every schedule in the backend's native order.
	// Iteration stops at the first error returned by fn.
	Each(ctx context.Context, fn func(ScheduledReopen) error) error
	Close() error
}

// List materializes every schedule in store.
func List(ctx context.Context, store Store) ([]ScheduledReopen, error) {
	var out []ScheduledReopen
	err := store.Each(ctx, func(s ScheduledReopen) error {
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SortByDue orders schedules by due date, then conversation id.
func SortByDue(items []ScheduledReopen) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DueAt.Equal(items[j].DueAt) {
			return items[i].DueAt.Before(items[j].DueAt)
		}
		return items[i].ConversationID < items[j].ConversationID
	})
}

// NormalizeID trims the id and rejects empty values.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("schedule: conversation id required")
	}
	return id, nil
}

// DueMillis converts a due date to epoch milliseconds. Unlike ToMillis every
// instant is kept, so a due date at the epoch stays representable.
func DueMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// DueFromMillis is the inverse of DueMillis.
func DueFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FromMillis converts epoch milliseconds to UTC time. Zero maps to the zero
// time and marks optional fields as unset.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts t to epoch milliseconds. The zero time maps to zero.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// apply returns s with the failure fields applied.
func (s ScheduledReopen) apply(f Failure) ScheduledReopen {
	s.Attempts = f.Attempts
	s.NextAttemptAt = f.NextAttemptAt
	s.LastError = f.LastError
	if f.Abandoned {
		s.Status = StatusAbandoned
	}
	s.UpdatedAt = f.At.UTC()
	return s
}
