/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"chainguard.dev/autogit/objectstore"
	"chainguard.dev/autogit/retry"
	"chainguard.dev/autogit/staging"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// head is the branch state a commit is built on. The zero value means the
// branch does not exist.
type head struct {
	commit string
	tree   string
}

func (h head) path() string {
	if h.commit == "" {
		return pathBootstrap
	}
	return pathIncremental
}

func (p *Pipeline) resolveHead(ctx context.Context, store objectstore.Store, branch string) (h head, err error) {
	ctx, span := startSpan(ctx, "upload.resolve_head")
	defer func() {
		span.SetAttributes(attribute.String("path", h.path()))
		endSpan(span, err)
	}()

	sha, err := retry.Do(ctx, p.retry, "get ref", objectstore.IsTransient, func(ctx context.Context) (string, error) {
		return store.GetRef(ctx, branch)
	})
	if errors.Is(err, objectstore.ErrRefNotFound) {
		clog.FromContext(ctx).Info("Repository is empty or branch does not exist, creating first commit")
		return head{}, nil
	}
	if err != nil {
		return head{}, fmt.Errorf("reading branch %s: %w", branch, err)
	}

	tree, err := retry.Do(ctx, p.retry, "get commit", objectstore.IsTransient, func(ctx context.Context) (string, error) {
		return store.GetCommit(ctx, sha)
	})
	if err != nil {
		return head{}, fmt.Errorf("reading commit %s: %w", sha, err)
	}
	return head{commit: sha, tree: tree}, nil
}

// createBlobs uploads every file, at most p.concurrency at a time. The first
// failure cancels the rest and is returned.
func (p *Pipeline) createBlobs(ctx context.Context, store objectstore.Store, files []staging.File, day time.Time) (_ []objectstore.Entry, err error) {
	ctx, span := startSpan(ctx, "upload.create_blobs", attribute.Int("files", len(files)))
	defer func() { endSpan(span, err) }()

	entries := make([]objectstore.Entry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, f := range files {
		g.Go(func() (err error) {
			// errgroup does not carry panics to Wait.
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("uploading %s: panic: %v", f.Name, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Name, err)
			}
			sha, err := retry.Do(gctx, p.retry, "create blob", objectstore.IsTransient, func(ctx context.Context) (string, error) {
				return store.CreateBlob(ctx, content)
			})
			if err != nil {
				return fmt.Errorf("uploading %s: %w", f.Name, err)
			}
			p.metrics.recordBlob(gctx, len(content))

			entries[i] = objectstore.Entry{
				Path: DestinationPath(p.prefix, day, f.Name),
				Mode: objectstore.ModeFile,
				SHA:  sha,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// dedupe keeps the last entry for each path, in first-seen order.
func dedupe(entries []objectstore.Entry) []objectstore.Entry {
	index := make(map[string]int, len(entries))
	out := make([]objectstore.Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := index[e.Path]; ok {
			out[i] = e
			continue
		}
		index[e.Path] = len(out)
		out = append(out, e)
	}
	return out
}

// buildCommit creates the tree over the head's tree and a commit on it.
func (p *Pipeline) buildCommit(ctx context.Context, store objectstore.Store, entries []objectstore.Entry, h head, message string) (_ string, err error) {
	ctx, span := startSpan(ctx, "upload.build_commit", attribute.Int("entries", len(entries)))
	defer func() { endSpan(span, err) }()

	tree, err := retry.Do(ctx, p.retry, "create tree", objectstore.IsTransient, func(ctx context.Context) (string, error) {
		return store.CreateTree(ctx, entries, h.tree)
	})
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", err)
	}

	commit, err := retry.Do(ctx, p.retry, "create commit", objectstore.IsTransient, func(ctx context.Context) (string, error) {
		return store.CreateCommit(ctx, tree, h.commit, message)
	})
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", err)
	}
	return commit, nil
}

// moveRef points branch at commit, only if it still points at h. It is not
// retried: a repeated call cannot tell its own earlier success from a
// concurrent writer.
func (p *Pipeline) moveRef(ctx context.Context, store objectstore.Store, branch string, h head, commit string) (err error) {
	ctx, span := startSpan(ctx, "upload.move_ref", attribute.String("commit_sha", commit))
	defer func() { endSpan(span, err) }()

	if h.commit == "" {
		if err := store.CreateRef(ctx, branch, commit); err != nil {
			return fmt.Errorf("creating branch %s: %w", branch, err)
		}
		return nil
	}
	if err := store.UpdateRef(ctx, branch, commit, h.commit); err != nil {
		return fmt.Errorf("updating branch %s: %w", branch, err)
	}
	return nil
}
