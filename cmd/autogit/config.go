/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chainguard.dev/autogit/objectstore"
	"chainguard.dev/autogit/objectstore/githubstore"
	"chainguard.dev/autogit/objectstore/gitstore"
	"chainguard.dev/autogit/retry"
	"chainguard.dev/autogit/tasks"
	"chainguard.dev/autogit/tasks/badgerstore"
	"chainguard.dev/autogit/upload"
	"chainguard.dev/autogit/uploader"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/oauth2"
)

const (
	storeGitHub = "github"
	storeLocal  = "local"
)

type config struct {
	Token     string `env:"GITHUB_TOKEN"`
	Store     string `env:"AUTOGIT_STORE,default=github"`
	DB        string `env:"AUTOGIT_DB"`
	LocalRoot string `env:"AUTOGIT_LOCAL_ROOT"`
	LogLevel  string `env:"AUTOGIT_LOG_LEVEL,default=info"`

	Concurrency     int           `env:"AUTOGIT_CONCURRENCY,default=8"`
	ConflictRetries int           `env:"AUTOGIT_CONFLICT_RETRIES,default=2"`
	MaxRetries      int           `env:"AUTOGIT_MAX_RETRIES,default=3"`
	JobTimeout      time.Duration `env:"AUTOGIT_JOB_TIMEOUT,default=10m"`
	UploadPrefix    string        `env:"AUTOGIT_UPLOAD_PREFIX,default=autogit-uploads"`

	// GitHub Enterprise endpoints.
	APIURL string `env:"GITHUB_API_URL"`
	WebURL string `env:"GITHUB_WEB_URL,default=https://github.com"`
}

func loadConfig(ctx context.Context) (*config, error) {
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if cfg.Store != storeGitHub && cfg.Store != storeLocal {
		return nil, fmt.Errorf("AUTOGIT_STORE must be %q or %q, got %q", storeGitHub, storeLocal, cfg.Store)
	}

	if cfg.DB == "" || (cfg.Store == storeLocal && cfg.LocalRoot == "") {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locating config dir: %w", err)
		}
		cfg.DB = cmp.Or(cfg.DB, filepath.Join(base, "autogit", "tasks"))
		cfg.LocalRoot = cmp.Or(cfg.LocalRoot, filepath.Join(base, "autogit", "repos"))
	}
	return &cfg, nil
}

func newLogger(level string) (*clog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing AUTOGIT_LOG_LEVEL: %w", err)
	}
	return clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// app holds what every command shares: the config and the task database.
type app struct {
	cfg     *config
	db      *badgerstore.Store
	tracker *tasks.Tracker
}

func openApp(ctx context.Context, cfg *config) (*app, error) {
	if err := os.MkdirAll(cfg.DB, 0o700); err != nil {
		return nil, fmt.Errorf("creating task database dir: %w", err)
	}
	db, err := badgerstore.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, tracker: tasks.NewTracker(db)}

	// Only one process can hold the database, so anything still running was
	// abandoned by a process that died.
	if n, err := a.tracker.FailOrphaned(ctx, "upload interrupted before completion"); err != nil {
		db.Close()
		return nil, err
	} else if n > 0 {
		clog.WarnContextf(ctx, "Marked %d interrupted upload(s) as failed", n)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) stores() (objectstore.Factory, error) {
	switch a.cfg.Store {
	case storeLocal:
		return gitstore.Factory(a.cfg.LocalRoot), nil
	default:
		var opts []githubstore.Option
		if a.cfg.APIURL != "" {
			opts = append(opts, githubstore.WithBaseURL(a.cfg.APIURL))
		}
		return githubstore.NewFactory(opts...)
	}
}

func (a *app) credentials() (oauth2.TokenSource, error) {
	if a.cfg.Token == "" {
		if a.cfg.Store == storeGitHub {
			return nil, errors.New("GITHUB_TOKEN is required to upload to GitHub")
		}
		return nil, nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.cfg.Token}), nil
}

func (a *app) newService(ctx context.Context) (*uploader.Service, error) {
	stores, err := a.stores()
	if err != nil {
		return nil, err
	}
	rc := retry.DefaultConfig()
	rc.MaxRetries = a.cfg.MaxRetries

	pipeline, err := upload.New(ctx, a.tracker, stores,
		upload.WithConcurrency(a.cfg.Concurrency),
		upload.WithConflictRetries(a.cfg.ConflictRetries),
		upload.WithRetryConfig(rc),
		upload.WithPathPrefix(a.cfg.UploadPrefix),
		upload.WithWebURL(a.cfg.WebURL))
	if err != nil {
		return nil, fmt.Errorf("creating upload pipeline: %w", err)
	}
	return uploader.New(a.tracker, pipeline, uploader.WithJobTimeout(a.cfg.JobTimeout))
}
