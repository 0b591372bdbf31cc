/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tasks

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"chainguard.dev/autogit/staging"
)

// Status is the externally visible state of an upload.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when a state change is not allowed from
// the task's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Repository identifies the upload target.
type Repository struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Result describes the commit a successful upload produced.
type Result struct {
	CommitSHA string `json:"commitSha"`
	CommitURL string `json:"commitUrl"`
}

// Task is one upload attempt.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Notes       string         `json:"notes"`
	Repository  Repository     `json:"repository"`
	Files       []staging.File `json:"uploadedFiles"`

	Status Status  `json:"uploadStatus"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"errorMessage,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"uploadDate,omitzero"`
}

// Start moves a pending task to uploading.
func (t *Task) Start() error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusUploading)
	}
	t.Status = StatusUploading
	return nil
}

// Succeed moves an uploading task to success and records the commit.
func (t *Task) Succeed(res Result, now time.Time) error {
	if t.Status != StatusUploading {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusSuccess)
	}
	if res.CommitSHA == "" {
		return errors.New("result is missing the commit sha")
	}
	t.Status = StatusSuccess
	t.Result = &res
	t.Error = ""
	t.CompletedAt = now
	return nil
}

// Fail moves a pending or uploading task to failed with a diagnostic.
func (t *Task) Fail(msg string, now time.Time) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusFailed)
	}
	if msg == "" {
		msg = "upload failed"
	}
	t.Status = StatusFailed
	t.Result = nil
	t.Error = msg
	t.CompletedAt = now
	return nil
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Files = slices.Clone(t.Files)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
