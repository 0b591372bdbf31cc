/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tasks_test

import (
	"testing"

	"chainguard.dev/autogit/tasks"
	"chainguard.dev/autogit/tasks/taskstest"
)

func TestMemoryStore(t *testing.T) {
	taskstest.RunStoreTests(t, func(*testing.T) tasks.Store {
		return tasks.NewMemoryStore()
	})
}
