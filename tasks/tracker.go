/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chainguard-dev/clog"
)

// Tracker applies the task state machine on top of a Store.
type Tracker struct {
	store Store
	now   func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a Tracker backed by store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create stores t as a new pending task, stamping its creation time.
func (tr *Tracker) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		return errors.New("task id cannot be empty")
	}
	t.Status = StatusPending
	t.Result = nil
	t.Error = ""
	t.CompletedAt = time.Time{}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tr.now()
	}
	if err := tr.store.Create(ctx, t); err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// Start marks the task as uploading.
func (tr *Tracker) Start(ctx context.Context, id string) (*Task, error) {
	return tr.store.Update(ctx, id, func(t *Task) error { return t.Start() })
}

// Succeed records a successful upload.
func (tr *Tracker) Succeed(ctx context.Context, id string, res Result) (*Task, error) {
	now := tr.now()
	return tr.store.Update(ctx, id, func(t *Task) error { return t.Succeed(res, now) })
}

// Fail records a failed upload.
func (tr *Tracker) Fail(ctx context.Context, id, msg string) (*Task, error) {
	now := tr.now()
	return tr.store.Update(ctx, id, func(t *Task) error { return t.Fail(msg, now) })
}

// Get returns a snapshot of the task.
func (tr *Tracker) Get(ctx context.Context, id string) (*Task, error) {
	return tr.store.Get(ctx, id)
}

// List returns the tasks matching f, newest first.
func (tr *Tracker) List(ctx context.Context, f Filter) ([]*Task, error) {
	return tr.store.List(ctx, f)
}

// Details holds the descriptive fields of a task. Nil fields are left as is.
type Details struct {
	Title       *string
	Description *string
	Notes       *string
}

// EditDetails updates descriptive fields. It is allowed in any state and
// never touches status, result or error.
func (tr *Tracker) EditDetails(ctx context.Context, id string, d Details) (*Task, error) {
	if d.Title != nil && *d.Title == "" {
		return nil, errors.New("title cannot be empty")
	}
	return tr.store.Update(ctx, id, func(t *Task) error {
		if d.Title != nil {
			t.Title = *d.Title
		}
		if d.Description != nil {
			t.Description = *d.Description
		}
		if d.Notes != nil {
			t.Notes = *d.Notes
		}
		return nil
	})
}

// Delete removes the task record.
func (tr *Tracker) Delete(ctx context.Context, id string) error {
	return tr.store.Delete(ctx, id)
}

// FailOrphaned fails every task still pending or uploading. It is meant to
// run at startup, before any job is dispatched, so tasks whose process died
// mid-upload do not stay non-terminal forever. It returns the number of
// tasks it failed.
func (tr *Tracker) FailOrphaned(ctx context.Context, msg string) (int, error) {
	var n int
	for _, s := range []Status{StatusPending, StatusUploading} {
		orphans, err := tr.store.List(ctx, Filter{Status: s, Limit: math.MaxInt})
		if err != nil {
			return n, fmt.Errorf("listing %s tasks: %w", s, err)
		}
		for _, t := range orphans {
			if _, err := tr.Fail(ctx, t.ID, msg); err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return n, fmt.Errorf("failing orphaned task %s: %w", t.ID, err)
			}
			clog.FromContext(ctx).With("task", t.ID).With("status", s).Warn("Failed orphaned task")
			n++
		}
	}
	return n, nil
}
