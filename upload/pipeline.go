/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/autogit/objectstore"
	"chainguard.dev/autogit/retry"
	"chainguard.dev/autogit/staging"
	"chainguard.dev/autogit/tasks"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"

	pathBootstrap   = "bootstrap"
	pathIncremental = "incremental"
)

// Request describes one upload job.
type Request struct {
	// Credentials authorize every call against the repository. They are
	// never stored.
	Credentials oauth2.TokenSource
	Owner       string
	Repo        string
	Branch      string
	Files       []staging.File
	// Message is the user's commit message, before decoration.
	Message string
}

// Pipeline runs upload jobs against repositories opened through a Factory.
type Pipeline struct {
	tracker *tasks.Tracker
	stores  objectstore.Factory

	concurrency     int
	prefix          string
	webURL          string
	retry           retry.Config
	conflictRetries int
	now             func() time.Time

	metrics *metrics
}

// New returns a Pipeline recording job state through tracker.
func New(ctx context.Context, tracker *tasks.Tracker, stores objectstore.Factory, opts ...Option) (*Pipeline, error) {
	if tracker == nil {
		return nil, errors.New("tracker cannot be nil")
	}
	if stores == nil {
		return nil, errors.New("store factory cannot be nil")
	}

	p := &Pipeline{
		tracker:         tracker,
		stores:          stores,
		concurrency:     defaultConcurrency,
		prefix:          DefaultPathPrefix,
		webURL:          DefaultWebURL,
		retry:           retry.DefaultConfig(),
		conflictRetries: defaultConflictRetries,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", p.concurrency)
	}
	if p.conflictRetries < 0 {
		return nil, fmt.Errorf("conflict retries cannot be negative, got %d", p.conflictRetries)
	}
	if err := p.retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	p.metrics = newMetrics(ctx)
	return p, nil
}

// Run executes the job for task taskID. It never returns an error: the
// outcome is recorded on the task, which ends in success or failed, and the
// staged files are released in every case.
//
// Cancelling ctx aborts the remote calls; the terminal task update and the
// file cleanup still happen.
func (p *Pipeline) Run(ctx context.Context, taskID string, req Request) {
	log := clog.FromContext(ctx).With(
		"task", taskID,
		"repository", req.Owner+"/"+req.Repo,
		"branch", req.Branch)
	ctx = clog.WithLogger(ctx, log)
	// Bookkeeping must outlive a cancelled or expired job.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if err := staging.Release(bg, req.Files); err != nil {
			log.Errorf("Failed to release staged files: %v", err)
		}
	}()

	if _, err := p.tracker.Start(bg, taskID); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			log.Errorf("Task disappeared before upload started: %v", err)
			return
		}
		p.fail(bg, taskID, fmt.Errorf("starting upload: %w", err))
		return
	}

	start := time.Now()
	jobCtx, span := startSpan(ctx, "upload.job",
		attribute.String("task", taskID),
		attribute.String("repository", req.Owner+"/"+req.Repo),
		attribute.String("branch", req.Branch),
		attribute.Int("files", len(req.Files)))
	res, path, err := p.execute(jobCtx, req)
	span.SetAttributes(attribute.String("path", path))
	endSpan(span, err)
	if err != nil {
		p.metrics.recordJob(bg, outcomeFailed, path, time.Since(start))
		log.Errorf("Upload failed: %v", err)
		p.fail(bg, taskID, err)
		return
	}

	p.metrics.recordJob(bg, outcomeSuccess, path, time.Since(start))
	if _, err := p.tracker.Succeed(bg, taskID, *res); err != nil {
		log.Errorf("Failed to record upload success for commit %s: %v", res.CommitSHA, err)
		p.fail(bg, taskID, fmt.Errorf("recording commit %s: %w", res.CommitSHA, err))
		return
	}
	log.Infof("Successfully uploaded %d file(s) to %s as %s", len(req.Files), req.Owner+"/"+req.Repo, res.CommitSHA)
}

func (p *Pipeline) fail(ctx context.Context, taskID string, cause error) {
	if _, err := p.tracker.Fail(ctx, taskID, cause.Error()); err != nil {
		clog.FromContext(ctx).Errorf("Failed to record upload failure: %v", err)
	}
}

// execute performs the remote work and reports the head path taken.
func (p *Pipeline) execute(ctx context.Context, req Request) (res *tasks.Result, path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("upload aborted: %v", r)
		}
	}()

	store, err := p.stores(ctx, req.Credentials, req.Owner, req.Repo)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s/%s: %w", req.Owner, req.Repo, err)
	}

	// The dated directory is fixed for the whole job, including rebuilds.
	day := p.now()
	var entries []objectstore.Entry
	message := CommitMessage(req.Message)

	for attempt := 0; ; attempt++ {
		h, err := p.resolveHead(ctx, store, req.Branch)
		if err != nil {
			return nil, path, err
		}
		path = h.path()

		if entries == nil {
			staged, err := p.createBlobs(ctx, store, req.Files, day)
			if err != nil {
				return nil, path, err
			}
			entries = dedupe(staged)
		}

		commit, err := p.buildCommit(ctx, store, entries, h, message)
		if err != nil {
			return nil, path, err
		}

		err = p.moveRef(ctx, store, req.Branch, h, commit)
		switch {
		case err == nil:
			return &tasks.Result{
				CommitSHA: commit,
				CommitURL: CommitURL(p.webURL, req.Owner, req.Repo, commit),
			}, path, nil
		case errors.Is(err, objectstore.ErrRefConflict) && attempt < p.conflictRetries:
			p.metrics.recordConflict(ctx)
			clog.FromContext(ctx).With("attempt", attempt+1).
				Warnf("Branch moved during upload, rebuilding commit: %v", err)
		default:
			return nil, path, err
		}
	}
}
