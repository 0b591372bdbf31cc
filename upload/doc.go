/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package upload turns a batch of staged files into a single commit on a
// remote branch.
//
// A Pipeline run proceeds in fixed steps:
//
//  1. Resolve the branch head. A missing branch selects the bootstrap path
//     (no parent, no base tree); otherwise the head commit's tree becomes the
//     merge base.
//  2. Create one blob per staged file, concurrently and bounded. The first
//     failure cancels the remaining uploads and nothing else is created.
//  3. Create a tree layering the new entries over the base tree.
//  4. Create a commit over that tree, parented on the head when there is one.
//  5. Move the branch: update it from the head that was read, or create it.
//
// Steps 1-4 only create immutable, content-addressed objects and are retried
// on transient errors. Step 5 is a compare-and-swap; when another writer moved
// the branch in the meantime the run rebuilds steps 3-5 over the new head,
// reusing the blobs, a bounded number of times.
//
// Whatever happens, the task record ends in exactly one terminal state and
// every staged file is released.
package upload
