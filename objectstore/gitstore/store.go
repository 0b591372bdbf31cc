/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitstore implements objectstore.Store on top of a go-git object
// database. Objects get real git content addresses, trees are layered over
// their base recursively, and ref moves are compare-and-swap.
//
// A Store can live in memory (NewMemory), which is handy for tests and dry
// runs, or in a bare repository on disk (Open), which can later be cloned or
// pushed with plain git.
package gitstore

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"chainguard.dev/autogit/objectstore"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/oauth2"
)

const (
	defaultAuthorName  = "autogit"
	defaultAuthorEmail = "autogit@users.noreply.github.com"
)

// Option configures a Store.
type Option func(*Store)

// WithAuthor sets the author and committer identity of created commits.
func WithAuthor(name, email string) Option {
	return func(s *Store) {
		s.name = name
		s.email = email
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an objectstore.Store backed by a go-git storer.
type Store struct {
	// The in-memory storer is not safe for concurrent use, and ref
	// compare-and-swap must not interleave with another writer in process.
	mu     sync.Mutex
	storer storage.Storer

	name  string
	email string
	now   func() time.Time
}

var _ objectstore.Store = (*Store)(nil)

// New wraps an existing storer.
func New(storer storage.Storer, opts ...Option) *Store {
	s := &Store{
		storer: storer,
		name:   defaultAuthorName,
		email:  defaultAuthorEmail,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory returns an empty in-memory Store.
func NewMemory(opts ...Option) *Store {
	return New(memory.NewStorage(), opts...)
}

// Open opens the bare repository at dir, initialising it when missing.
func Open(dir string, opts ...Option) (*Store, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		repo, err = git.PlainInit(dir, true)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", dir, err)
	}
	return New(repo.Storer, opts...), nil
}

// Factory returns an objectstore.Factory that keeps one bare repository per
// owner/repo under root. Credentials are ignored.
func Factory(root string, opts ...Option) objectstore.Factory {
	var (
		mu     sync.Mutex
		stores = make(map[string]*Store)
	)
	return func(ctx context.Context, _ oauth2.TokenSource, owner, repo string) (objectstore.Store, error) {
		if owner == "" || repo == "" || strings.ContainsAny(owner+repo, `/\`) || owner == ".." || repo == ".." {
			return nil, fmt.Errorf("invalid repository %q/%q", owner, repo)
		}
		mu.Lock()
		defer mu.Unlock()

		dir := filepath.Join(root, owner, repo+".git")
		if s, ok := stores[dir]; ok {
			return s, nil
		}
		s, err := Open(dir, opts...)
		if err != nil {
			return nil, err
		}
		clog.FromContext(ctx).With("dir", dir).Debug("Opened local object store")
		stores[dir] = s
		return s, nil
	}
}

func parseHash(sha string) (plumbing.Hash, error) {
	if len(sha) != 40 {
		return plumbing.ZeroHash, fmt.Errorf("malformed object id %q", sha)
	}
	if _, err := hex.DecodeString(sha); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("malformed object id %q", sha)
	}
	return plumbing.NewHash(sha), nil
}

func (s *Store) GetRef(_ context.Context, branch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.storer.Reference(plumbing.NewBranchReferenceName(branch))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", objectstore.ErrRefNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading ref %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

func (s *Store) GetCommit(_ context.Context, sha string) (string, error) {
	h, err := parseHash(sha)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := object.GetCommit(s.storer, h)
	if err != nil {
		return "", fmt.Errorf("reading commit %s: %w", sha, err)
	}
	return c.TreeHash.String(), nil
}

func (s *Store) CreateBlob(_ context.Context, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return "", fmt.Errorf("opening blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing blob writer: %w", err)
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return h.String(), nil
}

// node is a directory being assembled from flat entry paths.
type node struct {
	children map[string]*node
	leaf     bool
	mode     filemode.FileMode
	hash     plumbing.Hash
}

func (n *node) insert(e objectstore.Entry) error {
	mode, err := filemode.New(cmp.Or(e.Mode, objectstore.ModeFile))
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.Path, err)
	}
	h, err := parseHash(e.SHA)
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.Path, err)
	}

	parts := strings.Split(e.Path, "/")
	if slices.Contains(parts, "") || slices.Contains(parts, ".") || slices.Contains(parts, "..") {
		return fmt.Errorf("invalid tree path %q", e.Path)
	}

	cur := n
	for i, part := range parts {
		child, ok := cur.children[part]
		last := i == len(parts)-1
		switch {
		case !ok && last:
			cur.children[part] = &node{leaf: true, mode: mode, hash: h}
			return nil
		case !ok:
			child = &node{children: make(map[string]*node)}
			cur.children[part] = child
		case last && child.leaf:
			// A later entry for the same path wins.
			child.mode, child.hash = mode, h
			return nil
		case last || child.leaf:
			return fmt.Errorf("tree path %q conflicts with another entry", e.Path)
		}
		cur = child
	}
	return nil
}

func (s *Store) CreateTree(_ context.Context, entries []objectstore.Entry, baseTree string) (string, error) {
	root := &node{children: make(map[string]*node)}
	for _, e := range entries {
		if err := root.insert(e); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var base *object.Tree
	if baseTree != "" {
		h, err := parseHash(baseTree)
		if err != nil {
			return "", err
		}
		if base, err = object.GetTree(s.storer, h); err != nil {
			return "", fmt.Errorf("reading base tree %s: %w", baseTree, err)
		}
	}

	h, err := s.writeTree(base, root)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// writeTree layers n over base, recursing into directories present in both.
// Must be called with s.mu held.
func (s *Store) writeTree(base *object.Tree, n *node) (plumbing.Hash, error) {
	merged := make(map[string]object.TreeEntry)
	if base != nil {
		for _, e := range base.Entries {
			merged[e.Name] = e
		}
	}

	for name, child := range n.children {
		if child.leaf {
			merged[name] = object.TreeEntry{Name: name, Mode: child.mode, Hash: child.hash}
			continue
		}
		var sub *object.Tree
		if existing, ok := merged[name]; ok && existing.Mode == filemode.Dir {
			var err error
			if sub, err = object.GetTree(s.storer, existing.Hash); err != nil {
				return plumbing.ZeroHash, fmt.Errorf("reading tree %s: %w", name, err)
			}
		}
		h, err := s.writeTree(sub, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		merged[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h}
	}

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(merged))}
	for _, e := range merged {
		tree.Entries = append(tree.Entries, e)
	}
	slices.SortFunc(tree.Entries, func(a, b object.TreeEntry) int {
		return strings.Compare(sortKey(a), sortKey(b))
	})

	obj := s.storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encoding tree: %w", err)
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("storing tree: %w", err)
	}
	return h, nil
}

// sortKey orders entries the way git does: directories compare as if their
// name ended in a slash.
func sortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (s *Store) CreateCommit(_ context.Context, tree, parent, message string) (string, error) {
	th, err := parseHash(tree)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := object.GetTree(s.storer, th); err != nil {
		return "", fmt.Errorf("reading tree %s: %w", tree, err)
	}

	sig := object.Signature{Name: s.name, Email: s.email, When: s.now()}
	c := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  th,
	}
	if parent != "" {
		ph, err := parseHash(parent)
		if err != nil {
			return "", err
		}
		if _, err := object.GetCommit(s.storer, ph); err != nil {
			return "", fmt.Errorf("reading parent %s: %w", parent, err)
		}
		c.ParentHashes = []plumbing.Hash{ph}
	}

	obj := s.storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return "", fmt.Errorf("encoding commit: %w", err)
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("storing commit: %w", err)
	}
	return h.String(), nil
}

func (s *Store) UpdateRef(_ context.Context, branch, newSHA, oldSHA string) error {
	nh, err := parseHash(newSHA)
	if err != nil {
		return err
	}
	oh, err := parseHash(oldSHA)
	if err != nil {
		return err
	}
	name := plumbing.NewBranchReferenceName(branch)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.storer.Reference(name)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return fmt.Errorf("%w: %s was deleted", objectstore.ErrRefConflict, branch)
	case err != nil:
		return fmt.Errorf("reading ref %s: %w", branch, err)
	case cur.Hash() != oh:
		return fmt.Errorf("%w: %s moved to %s", objectstore.ErrRefConflict, branch, cur.Hash())
	}

	err = s.storer.CheckAndSetReference(plumbing.NewHashReference(name, nh), plumbing.NewHashReference(name, oh))
	if errors.Is(err, storage.ErrReferenceHasChanged) {
		return fmt.Errorf("%w: %s", objectstore.ErrRefConflict, branch)
	}
	if err != nil {
		return fmt.Errorf("updating ref %s: %w", branch, err)
	}
	return nil
}

func (s *Store) CreateRef(_ context.Context, branch, sha string) error {
	h, err := parseHash(sha)
	if err != nil {
		return err
	}
	name := plumbing.NewBranchReferenceName(branch)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.storer.Reference(name); err == nil {
		return fmt.Errorf("%w: %s already exists", objectstore.ErrRefConflict, branch)
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("reading ref %s: %w", branch, err)
	}
	if err := s.storer.SetReference(plumbing.NewHashReference(name, h)); err != nil {
		return fmt.Errorf("creating ref %s: %w", branch, err)
	}

	// Point HEAD at the first branch so the repository clones cleanly.
	head, err := s.storer.Reference(plumbing.HEAD)
	if err != nil || head.Type() != plumbing.SymbolicReference {
		return s.storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name))
	}
	if _, err := s.storer.Reference(head.Target()); errors.Is(err, plumbing.ErrReferenceNotFound) {
		return s.storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name))
	}
	return nil
}

// Files flattens the tree of commit sha into path -> blob id.
func (s *Store) Files(_ context.Context, sha string) (map[string]string, error) {
	h, err := parseHash(sha)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := object.GetCommit(s.storer, h)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", sha, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", sha, err)
	}
	out := make(map[string]string)
	err = tree.Files().ForEach(func(f *object.File) error {
		out[f.Name] = f.Hash.String()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree of %s: %w", sha, err)
	}
	return out, nil
}

// Commit describes a stored commit.
type Commit struct {
	Tree    string
	Parents []string
	Message string
}

// ReadCommit returns the tree, parents and message of commit sha.
func (s *Store) ReadCommit(_ context.Context, sha string) (*Commit, error) {
	h, err := parseHash(sha)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := object.GetCommit(s.storer, h)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", sha, err)
	}
	out := &Commit{Tree: c.TreeHash.String(), Message: c.Message}
	for _, p := range c.ParentHashes {
		out.Parents = append(out.Parents, p.String())
	}
	return out, nil
}
