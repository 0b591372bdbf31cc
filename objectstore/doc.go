/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package objectstore defines the contract the upload pipeline relies on to
// talk to a remote, content-addressed version-control store.
//
// A Store exposes immutable object creation (blobs, trees, commits) and the
// only mutable pointers, branch refs. Blobs are content addressed so creating
// the same bytes twice yields the same handle. Creating a tree over a base tree
// layers the new entries on top of the base rather than replacing it.
//
// Implementations live in subpackages:
//   - githubstore talks to the GitHub Git Data API.
//   - gitstore keeps objects in a go-git repository, either in memory or as a
//     bare repository on disk.
package objectstore
