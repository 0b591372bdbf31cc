/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/autogit/objectstore"
	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore() *Store {
	return NewMemory(WithClock(func() time.Time { return epoch }))
}

func mustBlob(t *testing.T, s *Store, content string) string {
	t.Helper()
	sha, err := s.CreateBlob(context.Background(), []byte(content))
	if err != nil {
		t.Fatalf("CreateBlob(%q) = %v", content, err)
	}
	return sha
}

func TestCreateBlobIsContentAddressed(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	// Well-known git object ids.
	if got, want := mustBlob(t, s, "hello world\n"), "3b18e512dba79e4c8300dd08aeb37f8e728b8dad"; got != want {
		t.Errorf("blob id = %s, want %s", got, want)
	}
	if got, want := mustBlob(t, s, ""), "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"; got != want {
		t.Errorf("empty blob id = %s, want %s", got, want)
	}
	if a, b := mustBlob(t, s, "same"), mustBlob(t, s, "same"); a != b {
		t.Errorf("identical content produced %s and %s", a, b)
	}
}

func commitFiles(t *testing.T, s *Store, base, parent string, files map[string]string) (commit, tree string) {
	t.Helper()
	ctx := context.Background()
	var entries []objectstore.Entry
	for p, content := range files {
		entries = append(entries, objectstore.Entry{Path: p, Mode: objectstore.ModeFile, SHA: mustBlob(t, s, content)})
	}
	tree, err := s.CreateTree(ctx, entries, base)
	if err != nil {
		t.Fatalf("CreateTree() = %v", err)
	}
	commit, err = s.CreateCommit(ctx, tree, parent, "test")
	if err != nil {
		t.Fatalf("CreateCommit() = %v", err)
	}
	return commit, tree
}

func TestCreateTreeLayersOverBase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	first, firstTree := commitFiles(t, s, "", "", map[string]string{
		"README.md":          "readme",
		"docs/guide.md":      "guide",
		"docs/deep/inner.md": "inner",
	})

	second, _ := commitFiles(t, s, firstTree, first, map[string]string{
		"docs/new.md":   "new",
		"README.md":     "readme v2",
		"uploads/a.txt": "a",
	})

	got, err := s.Files(ctx, second)
	if err != nil {
		t.Fatalf("Files() = %v", err)
	}
	want := map[string]string{
		"README.md":          mustBlob(t, s, "readme v2"),
		"docs/guide.md":      mustBlob(t, s, "guide"),
		"docs/deep/inner.md": mustBlob(t, s, "inner"),
		"docs/new.md":        mustBlob(t, s, "new"),
		"uploads/a.txt":      mustBlob(t, s, "a"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Files() (-want +got):\n%s", diff)
	}

	c, err := s.ReadCommit(ctx, second)
	if err != nil {
		t.Fatalf("ReadCommit() = %v", err)
	}
	if diff := cmp.Diff([]string{first}, c.Parents); diff != "" {
		t.Errorf("parents (-want +got):\n%s", diff)
	}

	root, err := s.ReadCommit(ctx, first)
	if err != nil {
		t.Fatalf("ReadCommit() = %v", err)
	}
	if len(root.Parents) != 0 {
		t.Errorf("root commit parents = %v, want none", root.Parents)
	}
}

func TestCreateTreeIsDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	a, b := mustBlob(t, s, "a"), mustBlob(t, s, "b")

	t1, err := s.CreateTree(ctx, []objectstore.Entry{{Path: "x/a", SHA: a}, {Path: "x-b", SHA: b}}, "")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := s.CreateTree(ctx, []objectstore.Entry{{Path: "x-b", SHA: b}, {Path: "x/a", SHA: a}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if t1 != t2 {
		t.Errorf("entry order changed the tree id: %s != %s", t1, t2)
	}
}

func TestCreateTreeRejectsBadEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	blob := mustBlob(t, s, "x")

	for name, entries := range map[string][]objectstore.Entry{
		"empty segment":  {{Path: "a//b", SHA: blob}},
		"dot dot":        {{Path: "a/../b", SHA: blob}},
		"bad sha":        {{Path: "a", SHA: "nope"}},
		"bad mode":       {{Path: "a", Mode: "999999", SHA: blob}},
		"file then dir":  {{Path: "a", SHA: blob}, {Path: "a/b", SHA: blob}},
		"dir then file":  {{Path: "a/b", SHA: blob}, {Path: "a", SHA: blob}},
		"absolute":       {{Path: "/a", SHA: blob}},
		"trailing slash": {{Path: "a/", SHA: blob}},
	} {
		if _, err := s.CreateTree(ctx, entries, ""); err == nil {
			t.Errorf("%s: CreateTree() = nil, want error", name)
		}
	}
}

func TestRefs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.GetRef(ctx, "main"); !errors.Is(err, objectstore.ErrRefNotFound) {
		t.Fatalf("GetRef() = %v, want ErrRefNotFound", err)
	}

	c1, tree := commitFiles(t, s, "", "", map[string]string{"a": "a"})
	if err := s.CreateRef(ctx, "main", c1); err != nil {
		t.Fatalf("CreateRef() = %v", err)
	}
	if err := s.CreateRef(ctx, "main", c1); !errors.Is(err, objectstore.ErrRefConflict) {
		t.Errorf("second CreateRef() = %v, want ErrRefConflict", err)
	}

	got, err := s.GetRef(ctx, "main")
	if err != nil || got != c1 {
		t.Fatalf("GetRef() = %s, %v; want %s", got, err, c1)
	}
	if gotTree, err := s.GetCommit(ctx, c1); err != nil || gotTree != tree {
		t.Errorf("GetCommit() = %s, %v; want %s", gotTree, err, tree)
	}

	c2, _ := commitFiles(t, s, tree, c1, map[string]string{"b": "b"})
	c3, _ := commitFiles(t, s, tree, c1, map[string]string{"c": "c"})

	if err := s.UpdateRef(ctx, "main", c2, c1); err != nil {
		t.Fatalf("UpdateRef() = %v", err)
	}
	// c3 was built on c1 too; moving from the stale head must fail.
	if err := s.UpdateRef(ctx, "main", c3, c1); !errors.Is(err, objectstore.ErrRefConflict) {
		t.Errorf("stale UpdateRef() = %v, want ErrRefConflict", err)
	}
	if err := s.UpdateRef(ctx, "topic", c3, c1); !errors.Is(err, objectstore.ErrRefConflict) {
		t.Errorf("UpdateRef() on a missing branch = %v, want ErrRefConflict", err)
	}
	if got, _ := s.GetRef(ctx, "main"); got != c2 {
		t.Errorf("main = %s, want %s", got, c2)
	}
}

func TestCreateCommitValidatesInputs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.CreateCommit(ctx, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", "", "m"); err == nil {
		t.Error("CreateCommit() over a missing tree = nil, want error")
	}
	_, tree := commitFiles(t, s, "", "", map[string]string{"a": "a"})
	if _, err := s.CreateCommit(ctx, tree, "0123456789012345678901234567890123456789", "m"); err == nil {
		t.Error("CreateCommit() with a missing parent = nil, want error")
	}
	if _, err := s.GetCommit(ctx, "xyz"); err == nil {
		t.Error("GetCommit(malformed) = nil, want error")
	}
}

func TestFactoryPersistsOnDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	f := Factory(root)
	store, err := f(ctx, nil, "octocat", "learning")
	if err != nil {
		t.Fatalf("Factory() = %v", err)
	}
	again, err := f(ctx, nil, "octocat", "learning")
	if err != nil {
		t.Fatalf("Factory() = %v", err)
	}
	if store != again {
		t.Error("Factory returned different stores for the same repository")
	}

	s := store.(*Store)
	c, _ := commitFiles(t, s, "", "", map[string]string{"a.txt": "a"})
	if err := s.CreateRef(ctx, "main", c); err != nil {
		t.Fatalf("CreateRef() = %v", err)
	}

	reopened, err := Open(filepath.Join(root, "octocat", "learning.git"))
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if got, err := reopened.GetRef(ctx, "main"); err != nil || got != c {
		t.Errorf("GetRef() after reopen = %s, %v; want %s", got, err, c)
	}

	for _, bad := range [][2]string{{"", "repo"}, {"owner", ""}, {"..", "repo"}, {"owner", "a/b"}} {
		if _, err := f(ctx, nil, bad[0], bad[1]); err == nil {
			t.Errorf("Factory(%q, %q) = nil, want error", bad[0], bad[1])
		}
	}
}
