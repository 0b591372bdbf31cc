/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package uploader accepts upload submissions, records them as tasks and runs
// each one as a detached background job.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainguard.dev/autogit/staging"
	"chainguard.dev/autogit/tasks"
	"chainguard.dev/autogit/upload"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// DefaultBranch is used when a submission names no branch.
	DefaultBranch = "main"
	// DefaultJobTimeout bounds a single upload job.
	DefaultJobTimeout = 10 * time.Minute
)

// ErrShuttingDown is returned by Submit once Shutdown has been called.
var ErrShuttingDown = errors.New("uploader is shutting down")

// Runner executes one upload job. *upload.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, taskID string, req upload.Request)
}

// Submission is a request to upload files as one commit.
type Submission struct {
	Title       string
	Description string
	Notes       string

	Owner  string
	Repo   string
	Branch string

	// Folder names the directory the files came from, if any. It is
	// appended to the description and the commit message.
	Folder string
	Files  []staging.File

	// CommitMessage overrides the title as the commit message.
	CommitMessage string
	Credentials   oauth2.TokenSource
}

// ValidationError reports a submission that was rejected before any task was
// created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Option configures a Service.
type Option func(*Service)

// WithJobTimeout bounds how long a single job may run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithIDGenerator overrides how task ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service accepts submissions and tracks the jobs it started.
type Service struct {
	tracker *tasks.Tracker
	runner  Runner
	timeout time.Duration
	newID   func() string

	mu      sync.Mutex
	closed  bool
	running map[string]*job
	wg      sync.WaitGroup
}

// job is a detached upload in flight.
type job struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// New returns a Service that records tasks through tracker and runs jobs
// with runner.
func New(tracker *tasks.Tracker, runner Runner, opts ...Option) (*Service, error) {
	if tracker == nil {
		return nil, errors.New("tracker cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	s := &Service{
		tracker: tracker,
		runner:  runner,
		timeout: DefaultJobTimeout,
		newID:   uuid.NewString,
		running: make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		return nil, fmt.Errorf("job timeout must be positive, got %v", s.timeout)
	}
	return s, nil
}

func validate(sub *Submission) error {
	switch {
	case sub.Owner == "":
		return &ValidationError{Field: "owner", Reason: "required"}
	case sub.Repo == "":
		return &ValidationError{Field: "repository", Reason: "required"}
	case sub.Title == "":
		return &ValidationError{Field: "title", Reason: "required"}
	case len(sub.Files) == 0:
		return &ValidationError{Field: "files", Reason: "at least one file is required"}
	}
	for i, f := range sub.Files {
		name, err := staging.CleanName(f.Name)
		if err != nil {
			return &ValidationError{Field: "files", Reason: err.Error()}
		}
		if f.Path == "" {
			return &ValidationError{Field: "files", Reason: fmt.Sprintf("%s has no staged copy", name)}
		}
		sub.Files[i].Name = name
	}
	return nil
}

// Submit validates sub, records a pending task and starts the upload in the
// background. It returns the task id without waiting for the upload.
//
// On a *ValidationError no task is created and the staged files are left to
// the caller. Once a task exists, the job owns and releases them.
func (s *Service) Submit(ctx context.Context, sub Submission) (string, error) {
	sub.Files = append([]staging.File(nil), sub.Files...)
	if err := validate(&sub); err != nil {
		return "", err
	}
	branch := sub.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	description, message := sub.Description, sub.CommitMessage
	if message == "" {
		message = sub.Title
	}
	if sub.Folder != "" {
		description = fmt.Sprintf("%s (Folder: %s)", description, sub.Folder)
		message = fmt.Sprintf("%s - %s", message, sub.Folder)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	task := &tasks.Task{
		ID:          s.newID(),
		Title:       sub.Title,
		Description: description,
		Notes:       sub.Notes,
		Repository:  tasks.Repository{Owner: sub.Owner, Name: sub.Repo, Branch: branch},
		Files:       sub.Files,
	}
	if err := s.tracker.Create(ctx, task); err != nil {
		s.wg.Done()
		return "", err
	}

	// The job outlives the submitting request but not its own deadline.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	j := &job{done: make(chan struct{}), cancel: cancel}
	s.mu.Lock()
	s.running[task.ID] = j
	s.mu.Unlock()

	req := upload.Request{
		Credentials: sub.Credentials,
		Owner:       sub.Owner,
		Repo:        sub.Repo,
		Branch:      branch,
		Files:       sub.Files,
		Message:     message,
	}
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
			close(j.done)
		}()

		s.runner.Run(jobCtx, task.ID, req)
	}()

	clog.FromContext(ctx).With("task", task.ID).
		Infof("Task created and upload initiated for %s/%s", sub.Owner, sub.Repo)
	return task.ID, nil
}

// Status returns a snapshot of the task.
func (s *Service) Status(ctx context.Context, id string) (*tasks.Task, error) {
	return s.tracker.Get(ctx, id)
}

// Wait blocks until the job for id, if this Service is running one, has
// finished, then returns the task. Tasks not running here are returned
// immediately.
func (s *Service) Wait(ctx context.Context, id string) (*tasks.Task, error) {
	s.mu.Lock()
	j, ok := s.running[id]
	s.mu.Unlock()

	if ok {
		select {
		case <-j.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.tracker.Get(ctx, id)
}

// Shutdown stops accepting submissions and waits for running jobs to finish.
// Jobs still running when ctx is done are cancelled, and Shutdown waits for
// them to record their outcome before returning ctx's error.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for id, j := range s.running {
		clog.FromContext(ctx).With("task", id).Warn("Cancelling upload still running at shutdown")
		j.cancel()
	}
	s.mu.Unlock()
	<-finished
	return ctx.Err()
}
