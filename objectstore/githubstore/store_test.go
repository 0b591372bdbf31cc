/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"chainguard.dev/autogit/objectstore"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/go-github/v84/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
)

const (
	headSHA = "1111111111111111111111111111111111111111"
	treeSHA = "2222222222222222222222222222222222222222"
	blobSHA = "3333333333333333333333333333333333333333"
	newSHA  = "4444444444444444444444444444444444444444"
)

func newTestStore(t *testing.T, mux *http.ServeMux, blobs *lru.Cache[string, string]) *Store {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	u, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	client.BaseURL = u
	return New(client, "octocat", "learning", blobs)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

func TestGetRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          any
		want          string
		wantErr       error
		wantTransient bool
	}{{
		name:   "exists",
		status: http.StatusOK,
		body:   map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": headSHA, "type": "commit"}},
		want:   headSHA,
	}, {
		name:    "missing branch",
		status:  http.StatusNotFound,
		body:    map[string]any{"message": "Not Found"},
		wantErr: objectstore.ErrRefNotFound,
	}, {
		name:    "empty repository",
		status:  http.StatusConflict,
		body:    map[string]any{"message": "Git Repository is empty."},
		wantErr: objectstore.ErrRefNotFound,
	}, {
		name:          "server error",
		status:        http.StatusBadGateway,
		body:          map[string]any{"message": "Bad Gateway"},
		wantTransient: true,
	}, {
		name:   "forbidden",
		status: http.StatusForbidden,
		body:   map[string]any{"message": "Resource not accessible by integration"},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/octocat/learning/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, tt.body)
			})
			s := newTestStore(t, mux, nil)

			got, err := s.GetRef(context.Background(), "main")
			switch {
			case tt.want != "":
				if err != nil || got != tt.want {
					t.Fatalf("GetRef() = %q, %v; want %q", got, err, tt.want)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GetRef() = %v, want %v", err, tt.wantErr)
				}
			default:
				if err == nil {
					t.Fatal("GetRef() = nil, want error")
				}
				if errors.Is(err, objectstore.ErrRefNotFound) {
					t.Fatalf("GetRef() = %v, must not be treated as a missing ref", err)
				}
				if got := objectstore.IsTransient(err); got != tt.wantTransient {
					t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.wantTransient)
				}
			}
		})
	}
}

func TestGetCommit(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octocat/learning/git/commits/"+headSHA, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"sha": headSHA, "tree": map[string]any{"sha": treeSHA}})
	})
	s := newTestStore(t, mux, nil)

	got, err := s.GetCommit(context.Background(), headSHA)
	if err != nil || got != treeSHA {
		t.Fatalf("GetCommit() = %q, %v; want %q", got, err, treeSHA)
	}
}

func TestCreateBlob(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octocat/learning/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Encoding != "base64" {
			t.Errorf("encoding = %q, want base64", req.Encoding)
		}
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil || string(raw) != "hello world\n" {
			t.Errorf("content = %q, %v", raw, err)
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{"sha": blobSHA})
	})

	blobs, err := lru.New[string, string](16)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, mux, blobs)

	for range 3 {
		got, err := s.CreateBlob(context.Background(), []byte("hello world\n"))
		if err != nil || got != blobSHA {
			t.Fatalf("CreateBlob() = %q, %v; want %q", got, err, blobSHA)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("blob requests = %d, want 1 (identical content is cached)", n)
	}
}

func TestCreateTree(t *testing.T) {
	t.Parallel()

	type entry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	type request struct {
		BaseTree string  `json:"base_tree"`
		Tree     []entry `json:"tree"`
	}

	var got request
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octocat/learning/git/trees", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{"sha": newSHA})
	})
	s := newTestStore(t, mux, nil)

	sha, err := s.CreateTree(context.Background(), []objectstore.Entry{
		{Path: "autogit-uploads/2026-03-01/a.txt", SHA: blobSHA},
		{Path: "autogit-uploads/2026-03-01/dir/b.txt", Mode: objectstore.ModeFile, SHA: blobSHA},
	}, treeSHA)
	if err != nil || sha != newSHA {
		t.Fatalf("CreateTree() = %q, %v; want %q", sha, err, newSHA)
	}

	want := request{
		BaseTree: treeSHA,
		Tree: []entry{
			{Path: "autogit-uploads/2026-03-01/a.txt", Mode: "100644", Type: "blob", SHA: blobSHA},
			{Path: "autogit-uploads/2026-03-01/dir/b.txt", Mode: "100644", Type: "blob", SHA: blobSHA},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request (-want +got):\n%s", diff)
	}
}

func TestCreateTreeRejectionForgetsBlobs(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octocat/learning/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusCreated, map[string]any{"sha": blobSHA})
	})
	mux.HandleFunc("POST /repos/octocat/learning/git/trees", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{"message": "Invalid tree info"})
	})

	blobs, err := lru.New[string, string](16)
	if err != nil {
		t.Fatal(err)
	}
	// Another repository's entry with the same id must survive.
	blobs.Add("octocat/other:"+blobSHA, blobSHA)
	s := newTestStore(t, mux, blobs)
	ctx := context.Background()

	for range 2 {
		if _, err := s.CreateBlob(ctx, []byte("hello")); err != nil {
			t.Fatalf("CreateBlob() = %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("blob uploads = %d, want 1", n)
	}

	_, err = s.CreateTree(ctx, []objectstore.Entry{{Path: "a.txt", SHA: blobSHA}}, treeSHA)
	if err == nil || objectstore.IsTransient(err) {
		t.Fatalf("CreateTree() = %v, want a permanent failure", err)
	}

	if _, err := s.CreateBlob(ctx, []byte("hello")); err != nil {
		t.Fatalf("CreateBlob() = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("blob uploads = %d, want 2 after the tree was rejected", n)
	}
	if !blobs.Contains("octocat/other:" + blobSHA) {
		t.Error("entry for another repository was evicted")
	}
}

func TestCreateCommit(t *testing.T) {
	t.Parallel()

	for _, parent := range []string{"", headSHA} {
		var got struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		mux := http.NewServeMux()
		mux.HandleFunc("POST /repos/octocat/learning/git/commits", func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			writeJSON(t, w, http.StatusCreated, map[string]any{"sha": newSHA})
		})
		s := newTestStore(t, mux, nil)

		sha, err := s.CreateCommit(context.Background(), treeSHA, parent, "Auto upload - week 1")
		if err != nil || sha != newSHA {
			t.Fatalf("CreateCommit() = %q, %v; want %q", sha, err, newSHA)
		}
		if got.Message != "Auto upload - week 1" || got.Tree != treeSHA {
			t.Errorf("request = %+v", got)
		}
		var wantParents []string
		if parent != "" {
			wantParents = []string{parent}
		}
		if diff := cmp.Diff(wantParents, got.Parents, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("parents (-want +got):\n%s", diff)
		}
	}
}

func TestUpdateRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     any
		wantErr  error
		wantFail bool
	}{{
		name:   "fast forward",
		status: http.StatusOK,
		body:   map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": newSHA}},
	}, {
		name:    "not a fast forward",
		status:  http.StatusUnprocessableEntity,
		body:    map[string]any{"message": "Update is not a fast forward"},
		wantErr: objectstore.ErrRefConflict,
	}, {
		name:     "unknown commit",
		status:   http.StatusUnprocessableEntity,
		body:     map[string]any{"message": "Object does not exist"},
		wantFail: true,
	}, {
		name:     "permission denied",
		status:   http.StatusForbidden,
		body:     map[string]any{"message": "Resource not accessible"},
		wantFail: true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("PATCH /repos/octocat/learning/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					SHA   string `json:"sha"`
					Force *bool  `json:"force"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decoding request: %v", err)
				}
				if req.SHA != newSHA || req.Force == nil || *req.Force {
					t.Errorf("request sha=%s force=%v, want %s and an explicit false", req.SHA, req.Force, newSHA)
				}
				writeJSON(t, w, tt.status, tt.body)
			})
			s := newTestStore(t, mux, nil)

			err := s.UpdateRef(context.Background(), "main", newSHA, headSHA)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("UpdateRef() = %v, want %v", err, tt.wantErr)
				}
			case tt.wantFail:
				if err == nil || errors.Is(err, objectstore.ErrRefConflict) || objectstore.IsTransient(err) {
					t.Errorf("UpdateRef() = %v, want a permanent failure", err)
				}
			default:
				if err != nil {
					t.Errorf("UpdateRef() = %v", err)
				}
			}
		})
	}
}

func TestCreateRef(t *testing.T) {
	t.Parallel()

	var exists atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octocat/learning/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Ref != "refs/heads/main" || req.SHA != newSHA {
			t.Errorf("request = %+v", req)
		}
		if exists.Swap(true) {
			writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
			return
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{"ref": req.Ref, "object": map[string]any{"sha": req.SHA}})
	})
	s := newTestStore(t, mux, nil)

	if err := s.CreateRef(context.Background(), "main", newSHA); err != nil {
		t.Fatalf("CreateRef() = %v", err)
	}
	if err := s.CreateRef(context.Background(), "main", newSHA); !errors.Is(err, objectstore.ErrRefConflict) {
		t.Errorf("second CreateRef() = %v, want ErrRefConflict", err)
	}
}

func TestNewFactory(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/octocat/learning/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cr3t" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "autogit-test" {
			t.Errorf("User-Agent = %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"object": map[string]any{"sha": headSHA}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	factory, err := NewFactory(WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithUserAgent("autogit-test"))
	if err != nil {
		t.Fatalf("NewFactory() = %v", err)
	}

	ctx := context.Background()
	if _, err := factory(ctx, nil, "octocat", "learning"); err == nil {
		t.Error("factory without credentials = nil, want error")
	}

	store, err := factory(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "s3cr3t"}), "octocat", "learning")
	if err != nil {
		t.Fatalf("factory() = %v", err)
	}
	if got, err := store.GetRef(ctx, "main"); err != nil || got != headSHA {
		t.Errorf("GetRef() = %q, %v; want %q", got, err, headSHA)
	}
}
