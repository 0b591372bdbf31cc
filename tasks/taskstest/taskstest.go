/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package taskstest provides a behavioural test suite every tasks.Store
// implementation must pass.
package taskstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chainguard.dev/autogit/staging"
	"chainguard.dev/autogit/tasks"
	"github.com/stretchr/testify/require"
)

// NewTask returns a pending task for repo created at the given time.
func NewTask(id, repo string, created time.Time) *tasks.Task {
	return &tasks.Task{
		ID:          id,
		Title:       "Upload " + id,
		Description: "study notes",
		Repository:  tasks.Repository{Owner: "octocat", Name: repo, Branch: "main"},
		Files: []staging.File{
			{Name: "notes/day1.md", Path: "/tmp/stage/000001-day1.md", Size: 12},
		},
		Status:    tasks.StatusPending,
		CreatedAt: created.UTC(),
	}
}

// RunStoreTests exercises newStore's Store against the contract documented on
// tasks.Store. newStore is called once per subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) tasks.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		in := NewTask("t1", "learning", base)
		require.NoError(t, s.Create(ctx, in))
		require.ErrorIs(t, s.Create(ctx, in), tasks.ErrExists)

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, in.Title, got.Title)
		require.Equal(t, in.Repository, got.Repository)
		require.Equal(t, in.Files, got.Files)
		require.Equal(t, tasks.StatusPending, got.Status)
		require.True(t, in.CreatedAt.Equal(got.CreatedAt))

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, tasks.ErrNotFound)
	})

	t.Run("returned tasks are copies", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewTask("t1", "learning", base)))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		got.Title = "changed"
		got.Files[0].Name = "changed"

		again, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "Upload t1", again.Title)
		require.Equal(t, "notes/day1.md", again.Files[0].Name)
	})

	t.Run("update", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewTask("t1", "learning", base)))

		got, err := s.Update(ctx, "t1", func(tk *tasks.Task) error { return tk.Start() })
		require.NoError(t, err)
		require.Equal(t, tasks.StatusUploading, got.Status)

		boom := errors.New("boom")
		_, err = s.Update(ctx, "t1", func(tk *tasks.Task) error {
			tk.Title = "should not persist"
			return boom
		})
		require.ErrorIs(t, err, boom)

		stored, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "Upload t1", stored.Title)
		require.Equal(t, tasks.StatusUploading, stored.Status)

		_, err = s.Update(ctx, "missing", func(*tasks.Task) error { return nil })
		require.ErrorIs(t, err, tasks.ErrNotFound)
	})

	t.Run("concurrent updates are serialised", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewTask("t1", "learning", base)))

		const writers = 16
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "t1", func(tk *tasks.Task) error {
					tk.Notes += fmt.Sprintf("%x", i%16)
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got.Notes, writers)
	})

	t.Run("list filters and orders", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for i, repo := range []string{"learning", "learning", "scratch", "learning"} {
			tk := NewTask(fmt.Sprintf("t%d", i), repo, base.Add(time.Duration(i)*time.Hour))
			require.NoError(t, s.Create(ctx, tk))
		}
		_, err := s.Update(ctx, "t1", func(tk *tasks.Task) error { return tk.Fail("boom", base) })
		require.NoError(t, err)

		all, err := s.List(ctx, tasks.Filter{})
		require.NoError(t, err)
		require.Equal(t, []string{"t3", "t2", "t1", "t0"}, ids(all))

		byRepo, err := s.List(ctx, tasks.Filter{Repository: "octocat/learning"})
		require.NoError(t, err)
		require.Equal(t, []string{"t3", "t1", "t0"}, ids(byRepo))

		failed, err := s.List(ctx, tasks.Filter{Status: tasks.StatusFailed})
		require.NoError(t, err)
		require.Equal(t, []string{"t1"}, ids(failed))

		window, err := s.List(ctx, tasks.Filter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
		require.NoError(t, err)
		require.Equal(t, []string{"t2", "t1"}, ids(window))

		limited, err := s.List(ctx, tasks.Filter{Limit: 2})
		require.NoError(t, err)
		require.Equal(t, []string{"t3", "t2"}, ids(limited))
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewTask("t1", "learning", base)))

		require.NoError(t, s.Delete(ctx, "t1"))
		require.ErrorIs(t, s.Delete(ctx, "t1"), tasks.ErrNotFound)
		_, err := s.Get(ctx, "t1")
		require.ErrorIs(t, err, tasks.ErrNotFound)
	})
}

func ids(ts []*tasks.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
