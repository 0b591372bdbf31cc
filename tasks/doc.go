/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package tasks records upload attempts and their outcome.
//
// A Task moves through a small state machine:
//
//	pending -> uploading -> success
//	                     -> failed
//
// The creator writes the pending record before dispatching the upload, the
// pipeline moves it to uploading as its first action and finally writes
// exactly one terminal state. Once terminal, the status, result and error of
// a task never change; the descriptive fields (title, description, notes)
// remain editable.
//
// Tracker applies those transitions on top of a Store. MemoryStore keeps
// records in process; the badgerstore subpackage persists them.
package tasks
