/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package objectstore

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ModeFile is the git file mode for a regular, non-executable file.
const ModeFile = "100644"

var (
	// ErrRefNotFound is returned by GetRef when the branch does not exist yet.
	// It selects the bootstrap path and is not a failure.
	ErrRefNotFound = errors.New("ref not found")

	// ErrRefConflict is returned when a ref move loses a race: the branch no
	// longer points where the caller expected, or it already exists on create.
	ErrRefConflict = errors.New("ref conflict")
)

// Entry maps a path in a tree to a blob.
type Entry struct {
	Path string
	Mode string
	SHA  string
}

// Store is a remote object store holding blobs, trees, commits and refs.
// Every method except UpdateRef and CreateRef only creates or reads immutable
// objects and is safe to retry.
type Store interface {
	// GetRef returns the commit the branch points at, or ErrRefNotFound.
	GetRef(ctx context.Context, branch string) (string, error)

	// GetCommit returns the tree of the given commit.
	GetCommit(ctx context.Context, sha string) (string, error)

	// CreateBlob stores content and returns its content address.
	CreateBlob(ctx context.Context, content []byte) (string, error)

	// CreateTree creates a tree holding entries. When baseTree is non-empty the
	// entries are layered over it and unrelated paths are preserved.
	CreateTree(ctx context.Context, entries []Entry, baseTree string) (string, error)

	// CreateCommit creates a commit over tree. An empty parent creates a root
	// commit.
	CreateCommit(ctx context.Context, tree, parent, message string) (string, error)

	// UpdateRef moves an existing branch from oldSHA to newSHA. It returns
	// ErrRefConflict when the branch has moved since oldSHA was read.
	UpdateRef(ctx context.Context, branch, newSHA, oldSHA string) error

	// CreateRef creates a branch pointing at sha. It returns ErrRefConflict
	// when the branch already exists.
	CreateRef(ctx context.Context, branch, sha string) error
}

// Factory resolves the Store for one repository using the caller's
// credentials. Implementations that do not need credentials ignore ts.
type Factory func(ctx context.Context, ts oauth2.TokenSource, owner, repo string) (Store, error)
