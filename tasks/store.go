/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tasks

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"
)

// DefaultListLimit bounds List when the filter sets no limit.
const DefaultListLimit = 100

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrExists is returned when creating a task whose id is taken.
	ErrExists = errors.New("task already exists")
)

// Filter selects tasks in List. Zero fields match everything.
type Filter struct {
	// Repository matches Repository.FullName().
	Repository string
	Status     Status
	// Since and Until bound CreatedAt, inclusive.
	Since time.Time
	Until time.Time
	// Limit caps the result; 0 means DefaultListLimit.
	Limit int
}

// Match reports whether t satisfies the filter.
func (f Filter) Match(t *Task) bool {
	switch {
	case f.Repository != "" && t.Repository.FullName() != f.Repository:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case !f.Since.IsZero() && t.CreatedAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && t.CreatedAt.After(f.Until):
		return false
	}
	return true
}

// Apply filters, sorts newest first, and truncates tasks to the limit.
func (f Filter) Apply(tasks []*Task) []*Task {
	out := slices.DeleteFunc(tasks, func(t *Task) bool { return !f.Match(t) })
	slices.SortStableFunc(out, func(a, b *Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Store persists task records. Implementations return copies, so callers may
// modify what they get without affecting the stored record.
type Store interface {
	// Create stores a new task, or returns ErrExists.
	Create(ctx context.Context, t *Task) error

	// Get returns the task with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// Update atomically applies mutate to the stored task. If mutate returns an
	// error nothing is written and that error is returned.
	Update(ctx context.Context, id string, mutate func(*Task) error) (*Task, error)

	// List returns the tasks matching f, newest first.
	List(ctx context.Context, f Filter) ([]*Task, error)

	// Delete removes the task, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
