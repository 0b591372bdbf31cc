/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubstore implements objectstore.Store with the GitHub Git Data
// API (blobs, trees, commits and refs).
//
// Errors are classified so the upload pipeline can react to them: a missing
// branch (404) or an empty repository (409) on GetRef becomes
// objectstore.ErrRefNotFound, a rejected non-fast-forward or an existing ref
// becomes objectstore.ErrRefConflict, and rate limits, 5xx responses and
// transport failures are marked objectstore.Transient.
package githubstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chainguard.dev/autogit/objectstore"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-github/v84/github"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is an objectstore.Store for a single GitHub repository.
type Store struct {
	client *github.Client
	owner  string
	repo   string

	// blobs remembers content hashes already uploaded to this repository, keyed
	// by "owner/repo:<git blob id>". It may be nil.
	blobs *lru.Cache[string, string]
}

var _ objectstore.Store = (*Store)(nil)

// New returns a Store for owner/repo using client. blobs may be nil to
// disable blob de-duplication.
func New(client *github.Client, owner, repo string, blobs *lru.Cache[string, string]) *Store {
	return &Store{client: client, owner: owner, repo: repo, blobs: blobs}
}

func (s *Store) GetRef(ctx context.Context, branch string) (string, error) {
	ref, resp, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "heads/"+branch)
	if err != nil {
		switch statusCode(resp, err) {
		case http.StatusNotFound:
			return "", objectstore.ErrRefNotFound
		case http.StatusConflict:
			// "Git Repository is empty."
			clog.FromContext(ctx).With("repo", s.owner+"/"+s.repo).Info("Repository is empty")
			return "", objectstore.ErrRefNotFound
		}
		return "", classify(ctx, fmt.Sprintf("getting ref heads/%s", branch), resp, err)
	}
	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("ref heads/%s has no object", branch)
	}
	return sha, nil
}

func (s *Store) GetCommit(ctx context.Context, sha string) (string, error) {
	c, resp, err := s.client.Git.GetCommit(ctx, s.owner, s.repo, sha)
	if err != nil {
		return "", classify(ctx, fmt.Sprintf("getting commit %s", sha), resp, err)
	}
	tree := c.GetTree().GetSHA()
	if tree == "" {
		return "", fmt.Errorf("commit %s has no tree", sha)
	}
	return tree, nil
}

func (s *Store) CreateBlob(ctx context.Context, content []byte) (string, error) {
	var cacheKey string
	if s.blobs != nil {
		cacheKey = s.owner + "/" + s.repo + ":" + plumbing.ComputeHash(plumbing.BlobObject, content).String()
		if sha, ok := s.blobs.Get(cacheKey); ok {
			return sha, nil
		}
	}

	blob, resp, err := s.client.Git.CreateBlob(ctx, s.owner, s.repo, github.Blob{
		Content:  github.Ptr(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.Ptr("base64"),
	})
	if err != nil {
		return "", classify(ctx, "creating blob", resp, err)
	}
	sha := blob.GetSHA()
	if s.blobs != nil {
		s.blobs.Add(cacheKey, sha)
	}
	return sha, nil
}

func (s *Store) CreateTree(ctx context.Context, entries []objectstore.Entry, baseTree string) (string, error) {
	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		mode := e.Mode
		if mode == "" {
			mode = objectstore.ModeFile
		}
		ghEntries = append(ghEntries, &github.TreeEntry{
			Path: github.Ptr(e.Path),
			Mode: github.Ptr(mode),
			Type: github.Ptr("blob"),
			SHA:  github.Ptr(e.SHA),
		})
	}

	tree, resp, err := s.client.Git.CreateTree(ctx, s.owner, s.repo, baseTree, ghEntries)
	if err != nil {
		if statusCode(resp, err) == http.StatusUnprocessableEntity {
			// A cached blob may have been garbage collected since it was
			// uploaded, so the next attempt must upload it again.
			s.forgetBlobs(entries)
		}
		return "", classify(ctx, "creating tree", resp, err)
	}
	return tree.GetSHA(), nil
}

func (s *Store) forgetBlobs(entries []objectstore.Entry) {
	if s.blobs == nil {
		return
	}
	shas := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		shas[e.SHA] = struct{}{}
	}
	prefix := s.owner + "/" + s.repo + ":"
	for _, key := range s.blobs.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if sha, ok := s.blobs.Peek(key); ok {
			if _, stale := shas[sha]; stale {
				s.blobs.Remove(key)
			}
		}
	}
}

func (s *Store) CreateCommit(ctx context.Context, tree, parent, message string) (string, error) {
	commit := github.Commit{
		Message: github.Ptr(message),
		Tree:    &github.Tree{SHA: github.Ptr(tree)},
	}
	if parent != "" {
		commit.Parents = []*github.Commit{{SHA: github.Ptr(parent)}}
	}

	c, resp, err := s.client.Git.CreateCommit(ctx, s.owner, s.repo, commit, nil)
	if err != nil {
		return "", classify(ctx, "creating commit", resp, err)
	}
	return c.GetSHA(), nil
}

// UpdateRef moves the branch without force, so GitHub only accepts a fast
// forward. Since newSHA descends from oldSHA, a rejection means the branch
// moved since oldSHA was read.
func (s *Store) UpdateRef(ctx context.Context, branch, newSHA, oldSHA string) error {
	_, resp, err := s.client.Git.UpdateRef(ctx, s.owner, s.repo, "heads/"+branch, github.UpdateRef{
		SHA:   newSHA,
		Force: github.Ptr(false),
	})
	if err != nil {
		// Other 422s, such as an unknown commit, are not races on the ref.
		if statusCode(resp, err) == http.StatusUnprocessableEntity && strings.Contains(err.Error(), "not a fast forward") {
			return fmt.Errorf("%w: heads/%s is no longer at %s: %v", objectstore.ErrRefConflict, branch, oldSHA, err)
		}
		return classify(ctx, fmt.Sprintf("updating ref heads/%s", branch), resp, err)
	}
	return nil
}

func (s *Store) CreateRef(ctx context.Context, branch, sha string) error {
	_, resp, err := s.client.Git.CreateRef(ctx, s.owner, s.repo, github.CreateRef{
		Ref: "refs/heads/" + branch,
		SHA: sha,
	})
	if err != nil {
		if statusCode(resp, err) == http.StatusUnprocessableEntity && strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("%w: refs/heads/%s already exists", objectstore.ErrRefConflict, branch)
		}
		return classify(ctx, fmt.Sprintf("creating ref refs/heads/%s", branch), resp, err)
	}
	return nil
}

func statusCode(resp *github.Response, err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}

// classify wraps err with the operation and marks the failures worth
// retrying: rate limits, server errors and transport errors.
func classify(ctx context.Context, op string, resp *github.Response, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	var (
		rle  *github.RateLimitError
		arle *github.AbuseRateLimitError
	)
	switch code := statusCode(resp, err); {
	case errors.As(err, &rle), errors.As(err, &arle):
		return objectstore.Transient(wrapped)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return objectstore.Transient(wrapped)
	case code == 0 && ctx.Err() == nil:
		// No response at all: the request never completed.
		return objectstore.Transient(wrapped)
	}
	return wrapped
}
